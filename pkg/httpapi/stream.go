package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nomoos/prismq/pkg/queue"
)

// handleStreamLogs implements GET /queue/tasks/{id}/logs/stream (spec
// §4.11): a chunked-transfer SSE endpoint that relays every LogBroker
// publish for this task as an "event: log" frame, with a periodic
// comment line as a keepalive so intermediate proxies don't close the
// connection on an idle task.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, queue.KindStore, "log streaming not enabled")
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, queue.KindValidation, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, queue.KindStore, "streaming unsupported by this response writer")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe(id)
	defer s.broker.Unsubscribe(id, sub)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case entry, open := <-sub:
			if !open {
				return
			}
			body, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", body)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
