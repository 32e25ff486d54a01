package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamManager fans run events out to SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // RunID -> Set of Channels
	logger      *slog.Logger
}

// NewStreamManager creates a manager with no subscribers.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a channel for the events of one run.
func (sm *StreamManager) Subscribe(runID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 32)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

// Broadcast sends msg to every subscriber of runID without blocking.
func (sm *StreamManager) Broadcast(runID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[runID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "run_id", runID)
		}
	}
}

// Hooks publishes run and node events. Register them on the engine.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	publishRun := func(_ context.Context, e *domain.RunEvent) {
		sm.publish(e.RunID, runEvent{RunEvent: e, Error: errText(e.Err)})
	}
	publishNode := func(_ context.Context, e *domain.NodeEvent) {
		sm.publish(e.RunID, nodeEvent{NodeEvent: e, Error: errText(e.Err)})
	}
	return domain.LifecycleHooks{
		OnRunStart:   publishRun,
		OnRunFinish:  publishRun,
		OnNodeStart:  publishNode,
		OnNodeFinish: publishNode,
	}
}

type runEvent struct {
	*domain.RunEvent
	Error string `json:"error,omitempty"`
}

type nodeEvent struct {
	*domain.NodeEvent
	Error string `json:"error,omitempty"`
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (sm *StreamManager) publish(runID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		sm.logger.Error("SSE: failed to encode event", "run_id", runID, "err", err)
		return
	}
	sm.Broadcast(runID, string(data))
}

// SubscribeEvents streams the events of one run until its finish event or the
// client disconnects.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	runID := chi.URLParam(r, "runID")
	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE: client subscribed", "run_id", runID)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()

			var head domain.EventBase
			if json.Unmarshal([]byte(msg), &head) == nil && head.Type == domain.EventRunFinish {
				return
			}
		}
	}
}
