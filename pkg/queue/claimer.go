package queue

import (
	"context"
	"math/rand"
	"time"
)

// weightedRandomWindow bounds how many priority-ordered candidates a
// weighted-random claim fetches per attempt, per the REDESIGN FLAGS note
// in spec §9 about avoiding pathological memory use under deep queues.
const weightedRandomWindow = 64

// Strategy names a scheduling algorithm, used in config and metrics
// labels.
type Strategy string

const (
	StrategyFIFO           Strategy = "fifo"
	StrategyLIFO           Strategy = "lifo"
	StrategyPriority       Strategy = "priority"
	StrategyWeightedRandom Strategy = "weighted_random"
)

// ParseStrategy validates a strategy name from config or an environment
// variable.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFIFO, StrategyLIFO, StrategyPriority, StrategyWeightedRandom:
		return Strategy(s), nil
	default:
		return "", newErr(KindValidation, nil, "unknown scheduling strategy %q", s)
	}
}

// Claimer is the atomic claim protocol from spec §4.4: every
// implementation must guarantee no two concurrent callers receive the
// same task for a single successful claim.
type Claimer interface {
	Claim(ctx context.Context, workerID string, capabilities map[string]any, leaseSeconds int) (*Task, error)
	Strategy() Strategy
}

// NewClaimer builds the Claimer for a configured strategy over store.
func NewClaimer(store Store, strategy Strategy) (Claimer, error) {
	switch strategy {
	case StrategyFIFO:
		return &orderedClaimer{store: store, order: OrderFIFO, strategy: StrategyFIFO}, nil
	case StrategyLIFO:
		return &orderedClaimer{store: store, order: OrderLIFO, strategy: StrategyLIFO}, nil
	case StrategyPriority:
		return &orderedClaimer{store: store, order: OrderPriority, strategy: StrategyPriority}, nil
	case StrategyWeightedRandom:
		return &weightedRandomClaimer{store: store, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
	default:
		return nil, newErr(KindValidation, nil, "unknown scheduling strategy %q", strategy)
	}
}

// orderedClaimer implements FIFO, LIFO, and Priority: all three share
// the same "scan candidates in order, claim the first capability match"
// shape and differ only in the SQL ORDER BY the Tx uses.
type orderedClaimer struct {
	store    Store
	order    ClaimOrder
	strategy Strategy
}

func (c *orderedClaimer) Strategy() Strategy { return c.strategy }

func (c *orderedClaimer) Claim(ctx context.Context, workerID string, capabilities map[string]any, leaseSeconds int) (*Task, error) {
	var claimed *Task
	err := c.store.WithTx(ctx, func(tx Tx) error {
		now := time.Now().UTC()
		candidates, err := tx.CandidateTasks(ctx, now, c.order, weightedRandomWindow)
		if err != nil {
			return err
		}
		for _, cand := range candidates {
			compat, err := cand.CompatibilityMap()
			if err != nil {
				return err
			}
			if !capabilityMatch(compat, capabilities) {
				continue
			}
			ok, err := tx.ClaimTask(ctx, cand.ID, workerID, leaseSeconds, now)
			if err != nil {
				return err
			}
			if !ok {
				// Lost the race to another claimer; try the next candidate.
				continue
			}
			claimed, err = tx.GetTaskForUpdate(ctx, cand.ID)
			if err != nil {
				return err
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// weightedRandomClaimer implements the weighted-random strategy from
// spec §4.4: candidates are weighted 1/(priority+1) so every finite
// priority has strictly positive probability, which is what keeps
// low-priority tasks from starving under mixed load.
type weightedRandomClaimer struct {
	store Store
	rng   *rand.Rand
}

func (c *weightedRandomClaimer) Strategy() Strategy { return StrategyWeightedRandom }

func (c *weightedRandomClaimer) Claim(ctx context.Context, workerID string, capabilities map[string]any, leaseSeconds int) (*Task, error) {
	var claimed *Task
	err := c.store.WithTx(ctx, func(tx Tx) error {
		now := time.Now().UTC()
		candidates, err := tx.CandidateTasks(ctx, now, OrderPriority, weightedRandomWindow)
		if err != nil {
			return err
		}

		var matching []*Task
		var weights []float64
		total := 0.0
		for _, cand := range candidates {
			compat, err := cand.CompatibilityMap()
			if err != nil {
				return err
			}
			if !capabilityMatch(compat, capabilities) {
				continue
			}
			w := 1.0 / float64(cand.Priority+1)
			matching = append(matching, cand)
			weights = append(weights, w)
			total += w
		}
		if len(matching) == 0 {
			return nil
		}

		order := weightedDrawOrder(c.rng, weights, total)
		for _, idx := range order {
			cand := matching[idx]
			ok, err := tx.ClaimTask(ctx, cand.ID, workerID, leaseSeconds, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			claimed, err = tx.GetTaskForUpdate(ctx, cand.ID)
			if err != nil {
				return err
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// weightedDrawOrder draws a single candidate uniformly over [0, total)
// weighted by weights, then returns every remaining candidate index
// ordered by decreasing weight so a lost race on the draw falls back to
// the next-most-likely candidate rather than refetching immediately.
func weightedDrawOrder(rng *rand.Rand, weights []float64, total float64) []int {
	n := len(weights)
	order := make([]int, 0, n)
	used := make([]bool, n)

	draw := rng.Float64() * total
	cumulative := 0.0
	first := -1
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			first = i
			break
		}
	}
	if first == -1 {
		first = n - 1
	}
	order = append(order, first)
	used[first] = true

	for len(order) < n {
		best, bestW := -1, -1.0
		for i, w := range weights {
			if used[i] {
				continue
			}
			if w > bestW {
				best, bestW = i, w
			}
		}
		order = append(order, best)
		used[best] = true
	}
	return order
}
