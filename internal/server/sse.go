package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-dev/atelier/internal/event"
)

// SSEHeartbeatInterval is the interval for SSE keepalive comments.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Type, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	_ = s.rc.Flush()
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sessionEvents streams one session's events.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, chi.URLParam(r, "sessionID"))
}

// globalEvents streams the global mirror of every session's events.
func (s *Server) globalEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, "")
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	sseHeaders(w)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events := make(chan event.Event, 64)
	subscriber := func(e event.Event) {
		select {
		case events <- e:
		default: // slow client; drop rather than block the bus
		}
	}

	var unsub func()
	if sessionID != "" {
		unsub = s.bus.SubscribeSession(sessionID, subscriber)
	} else {
		unsub = s.bus.SubscribeAll(subscriber)
	}
	defer unsub()

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()

	sse.writeHeartbeat()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(e); err != nil {
				return
			}
		case <-heartbeat.C:
			sse.writeHeartbeat()
		}
	}
}
