package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nomoos/prismq/pkg/log"
	"github.com/nomoos/prismq/pkg/metrics"
)

// engineState names the position of a WorkerEngine in the loop from
// spec §4.6. It exists for logging/inspection only; the loop itself is
// a straight-line function, not a table-driven state machine.
type engineState string

const (
	stateStarting   engineState = "starting"
	stateIdle       engineState = "idle"
	stateClaiming   engineState = "claiming"
	stateValidating engineState = "validating"
	stateDispatch   engineState = "dispatching"
	stateFinalizing engineState = "finalizing"
	stateStopping   engineState = "stopping"
	stateStopped    engineState = "stopped"
)

// EngineConfig configures a single WorkerEngine.
type EngineConfig struct {
	WorkerID       string
	Capabilities   map[string]any
	LeaseSeconds   int
	PollInterval   time.Duration
	HeartbeatEvery time.Duration
}

// WorkerEngine runs the claim/validate/dispatch/finalize loop described
// in spec §4.6. Modeled on the teacher's worker.go: two ticker+stopCh
// loops (heartbeatLoop, containerExecutorLoop) running independently in
// one goroutine each, here folded into a single loop since heartbeats
// here are cheap upserts rather than a container-status round trip.
type WorkerEngine struct {
	cfg      EngineConfig
	store    Store
	claimer  Claimer
	registry *HandlerRegistry
	executor *Executor
	beat     *HeartbeatMonitor
	broker   *LogBroker
	breaker  *gobreaker.CircuitBreaker

	logger    zerolog.Logger
	state     engineState
	lastBeat  time.Time
	stopCh    chan struct{}
	forceStop chan struct{}
	stoppedCh chan struct{}
}

// NewEngine builds a WorkerEngine. The claim call is wrapped in a
// gobreaker.CircuitBreaker that trips after 5 consecutive claim errors;
// while it is open, claims are rejected without touching the store and
// the engine waits poll_interval before the next tick. broker may be nil, in which
// case task logs are persisted but not published for live tailing.
func NewEngine(cfg EngineConfig, store Store, claimer Claimer, registry *HandlerRegistry, executor *Executor, beat *HeartbeatMonitor, broker *LogBroker) *WorkerEngine {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "claim:" + cfg.WorkerID,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.Set(float64(to))
		},
	})

	return &WorkerEngine{
		cfg:       cfg,
		store:     store,
		claimer:   claimer,
		registry:  registry,
		executor:  executor,
		beat:      beat,
		broker:    broker,
		breaker:   breaker,
		logger:    log.WithWorkerID(cfg.WorkerID),
		state:     stateStarting,
		stopCh:    make(chan struct{}),
		forceStop: make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run executes the loop until Stop is called or ctx is cancelled. It
// blocks; callers run it in its own goroutine.
func (e *WorkerEngine) Run(ctx context.Context) {
	defer close(e.stoppedCh)

	e.logger.Info().Msg("worker engine starting")
	e.state = stateIdle

	for {
		select {
		case <-e.stopCh:
			e.state = stateStopping
			e.logger.Info().Msg("worker engine stopping")
			e.state = stateStopped
			return
		case <-ctx.Done():
			e.state = stateStopped
			return
		default:
		}

		if err := e.tick(ctx); err != nil {
			// Supervision per spec §4.6: the loop itself failed, not a
			// handler. Log and continue after poll_interval rather than
			// exiting silently.
			e.logger.Error().Err(err).Msg("engine loop iteration failed")
			e.sleep(e.cfg.PollInterval)
		}
	}
}

// Stop requests cooperative shutdown: the current loop iteration
// finishes, in-flight handlers run to completion. With force=true it
// also closes forceStop; handlers receive only the *Task, so nothing
// observes forceStop and a forced stop does not interrupt a running
// handler.
func (e *WorkerEngine) Stop(force bool) {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	if force {
		select {
		case <-e.forceStop:
		default:
			close(e.forceStop)
		}
	}
}

// Done returns a channel closed once Run has returned.
func (e *WorkerEngine) Done() <-chan struct{} {
	return e.stoppedCh
}

func (e *WorkerEngine) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-e.stopCh:
	}
}

func (e *WorkerEngine) tick(ctx context.Context) error {
	if time.Since(e.lastBeat) >= e.cfg.HeartbeatEvery {
		capJSON, err := marshalCapabilities(e.cfg.Capabilities)
		if err != nil {
			return err
		}
		if err := e.beat.Beat(ctx, e.cfg.WorkerID, capJSON); err != nil {
			return err
		}
		e.lastBeat = time.Now()
	}

	e.state = stateClaiming
	task, err := e.claim(ctx)
	if err != nil {
		if errors.Is(err, ErrBusy) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			e.sleep(e.cfg.PollInterval)
			return nil
		}
		return err
	}
	if task == nil {
		e.state = stateIdle
		e.sleep(e.cfg.PollInterval)
		return nil
	}

	e.state = stateValidating
	if err := e.registry.Validate(task); err != nil {
		e.log(task, LevelError, "no handler registered for task type")
		_, failErr := e.executor.Fail(ctx, task.ID, err.Error(), false)
		return failErr
	}

	e.log(task, LevelInfo, "dispatching task")
	e.state = stateDispatch
	handlerErr := e.dispatch(task)

	e.state = stateFinalizing
	if handlerErr == nil {
		e.log(task, LevelInfo, "task completed")
		_, err := e.executor.Complete(ctx, task.ID)
		return err
	}

	e.log(task, LevelWarning, "task failed, scheduling retry: "+handlerErr.Error())
	_, err = e.executor.Fail(ctx, task.ID, handlerErr.Error(), true)
	return err
}

func (e *WorkerEngine) claim(ctx context.Context) (*Task, error) {
	timer := metrics.NewTimer()
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.claimer.Claim(ctx, e.cfg.WorkerID, e.cfg.Capabilities, e.cfg.LeaseSeconds)
	})
	timer.ObserveDurationVec(metrics.ClaimLatency, string(e.claimer.Strategy()))

	if err != nil {
		metrics.ClaimsTotal.WithLabelValues(string(e.claimer.Strategy()), "error").Inc()
		return nil, err
	}
	task, _ := result.(*Task)
	if task == nil {
		metrics.ClaimsTotal.WithLabelValues(string(e.claimer.Strategy()), "empty").Inc()
		return nil, nil
	}
	metrics.ClaimsTotal.WithLabelValues(string(e.claimer.Strategy()), "claimed").Inc()
	return task, nil
}

// dispatch invokes the registered handler, recovering a panic into a
// HandlerFailure error at this single boundary, per spec §9's
// "exceptions become a result" design note.
func (e *WorkerEngine) dispatch(task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newErr(KindHandlerFailure, nil, "handler panicked: %v", r)
		}
	}()

	handler, getErr := e.registry.Get(task.Type)
	if getErr != nil {
		return getErr
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HandlerDuration, task.Type)

	return handler(task)
}

func (e *WorkerEngine) log(task *Task, level LogLevel, message string) {
	entry := &TaskLog{TaskID: task.ID, AtUTC: time.Now().UTC(), Level: level, Message: message}
	logID, err := e.store.AppendLog(context.Background(), entry)
	if err != nil {
		e.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("failed to append task log")
		return
	}
	entry.LogID = logID
	if e.broker != nil {
		e.broker.Publish(entry)
	}
}

func marshalCapabilities(caps map[string]any) (string, error) {
	if len(caps) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(caps)
	if err != nil {
		return "", newErr(KindValidation, err, "marshal worker capabilities")
	}
	return string(b), nil
}
