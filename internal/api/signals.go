package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/proctor"
	"github.com/terra-clan/proctor-engine/internal/session"
)

// Inbound signal types
const (
	SignalVisibility = "visibility"
	SignalFace       = "face"
	SignalGranted    = "granted"
	SignalDenied     = "denied"
	SignalAnswer     = "answer"
)

// SignalMessage is a message from the candidate's browser
type SignalMessage struct {
	Type       string            `json:"type"`
	Hidden     bool              `json:"hidden,omitempty"`
	Present    *bool             `json:"present,omitempty"`
	Count      *int              `json:"count,omitempty"`
	TrackID    string            `json:"track_id,omitempty"`
	Modality   models.Capability `json:"modality,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	QuestionID string            `json:"question_id,omitempty"`
	Value      string            `json:"value,omitempty"`
}

// faces returns the reported face count
func (m SignalMessage) faces() int {
	if m.Count != nil {
		return *m.Count
	}
	if m.Present != nil && !*m.Present {
		return 0
	}
	return 1
}

// handleSignalsWS connects the candidate's browser to a live session.
// Session events and media commands go out; visibility, face, media and
// answer signals come in.
func (s *Server) handleSignalsWS(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	id := c.ID()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	ws := newWSConn(conn)
	defer ws.Close()

	slog.Info("signal channel connected", "assignment_id", id)

	unobserve := c.Observe(func(e session.Event) {
		ws.Send(e)
	})
	defer unobserve()

	detach := c.AttachMedia(func(cmd proctor.Command) error {
		return ws.Send(session.Event{Type: cmd.Type, Data: cmd})
	})
	defer detach()

	if err := ws.Send(session.Event{Type: session.EventState, Data: c.View()}); err != nil {
		return
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			break
		}

		var msg SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("invalid message format", "error", err)
			continue
		}

		s.handleSignal(c, ws, msg)
	}

	slog.Info("signal channel disconnected", "assignment_id", id)
}

func (s *Server) handleSignal(c *session.Controller, ws *wsConn, msg SignalMessage) {
	switch msg.Type {
	case SignalVisibility:
		c.VisibilityChanged(msg.Hidden)
	case SignalFace:
		c.ReportFaces(msg.faces())
	case SignalGranted:
		if !c.MediaGranted(msg.Modality, msg.TrackID) {
			slog.Debug("unexpected media grant", "assignment_id", c.ID(), "modality", msg.Modality)
		}
	case SignalDenied:
		if !c.MediaDenied(msg.Modality, msg.Reason) {
			slog.Debug("unexpected media denial", "assignment_id", c.ID(), "modality", msg.Modality)
		}
	case SignalAnswer:
		if err := c.SetAnswer(msg.QuestionID, msg.Value); err != nil {
			ws.Send(session.Event{Type: session.EventError, Data: err.Error()})
		}
	default:
		slog.Debug("unknown signal", "type", msg.Type)
	}
}
