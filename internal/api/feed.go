package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/session"
)

const feedPingInterval = 30 * time.Second

// handleViolationFeed streams an assignment's violations to a reviewer.
// The current report is sent first, then each violation as it is appended.
func (s *Server) handleViolationFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.repo.GetAssignment(r.Context(), id); err != nil {
		respondServiceError(w, err, "get assignment")
		return
	}
	if s.feed == nil {
		respondError(w, http.StatusServiceUnavailable, "feed_unavailable", "live violations are not enabled")
		return
	}

	// subscribe before reading history so nothing falls in between
	ch, unsubscribe := s.feed.Subscribe(id)
	defer unsubscribe()

	violations, err := s.repo.ListViolations(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "list violations")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	ws := newWSConn(conn)
	defer ws.Close()

	slog.Info("violation feed connected", "assignment_id", id)

	seen := make(map[string]struct{}, len(violations))
	for _, v := range violations {
		seen[v.ID] = struct{}{}
	}
	if err := ws.Send(session.Event{Type: "report", Data: models.BuildViolationReport(id, violations)}); err != nil {
		return
	}

	closed := ws.Drain()
	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			slog.Info("violation feed disconnected", "assignment_id", id)
			return
		case <-ping.C:
			if err := ws.Ping(); err != nil {
				return
			}
		case v, ok := <-ch:
			if !ok {
				return
			}
			if _, dup := seen[v.ID]; dup {
				continue
			}
			seen[v.ID] = struct{}{}
			if err := ws.Send(session.Event{Type: session.EventViolation, Data: v}); err != nil {
				return
			}
		}
	}
}
