package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/vivavoce-ai/vivavoce/internal/app"
	"github.com/vivavoce-ai/vivavoce/internal/engine"
)

// wsMessage is the envelope for every message in both directions.
//
// Client to server:
//
//	{"type": "fragment", "seq": 3, "text": "..."}
//	{"type": "ping"}
//
// Server to client:
//
//	{"type": "state", "bullets": [...]}      — after each accepted fragment
//	{"type": "followup", "followup": {...}}  — when the engine asks a follow-up
//	{"type": "pong"}
//	{"type": "error", "error": "..."}
type wsMessage struct {
	Type string `json:"type"`

	Seq  int    `json:"seq,omitempty"`
	Text string `json:"text,omitempty"`

	Bullets  []engine.BulletResult  `json:"bullets,omitempty"`
	Followup *engine.FollowupRecord `json:"followup,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// wsConn serializes writes to one connection. The read loop and the follow-up
// push loop both write.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// streamSession upgrades the request and streams the session live: the client
// sends transcript fragments, the server pushes follow-up questions and bullet
// state as evaluation progresses.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	runner, ok := s.app.Sessions().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error("websocket accept failed", "session_id", id, "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "session stream ended")

	s.log.Info("session stream opened", "session_id", id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn := &wsConn{ws: ws}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pushLoop(ctx, conn, runner)
	}()

	s.readLoop(ctx, conn, runner)
	cancel()
	wg.Wait()
	s.log.Info("session stream closed", "session_id", id)
}

// readLoop consumes client messages until the connection closes.
func (s *Server) readLoop(ctx context.Context, conn *wsConn, runner *app.Runner) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Warn("websocket read error", "session_id", runner.ID(), "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendWS(ctx, conn, wsMessage{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case "fragment":
			frag := engine.Fragment{Seq: msg.Seq, Text: msg.Text, At: time.Now()}
			if err := runner.Update(ctx, frag); err != nil {
				if errors.Is(err, engine.ErrFinalized) {
					s.sendWS(ctx, conn, wsMessage{Type: "error", Error: "session already finalized"})
					return
				}
				s.log.Error("fragment update failed", "session_id", runner.ID(), "error", err)
				s.sendWS(ctx, conn, wsMessage{Type: "error", Error: "evaluation failed"})
				continue
			}
			s.sendWS(ctx, conn, wsMessage{Type: "state", Bullets: runner.Session().Snapshot()})

		case "ping":
			s.sendWS(ctx, conn, wsMessage{Type: "pong"})

		default:
			s.sendWS(ctx, conn, wsMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

// pushLoop forwards emitted follow-up questions to the client until the
// connection context ends.
func (s *Server) pushLoop(ctx context.Context, conn *wsConn, runner *app.Runner) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-runner.Followups():
			s.sendWS(ctx, conn, wsMessage{Type: "followup", Followup: &rec})
		}
	}
}

// sendWS writes one message, logging failures at debug since a closing client
// is routine.
func (s *Server) sendWS(ctx context.Context, conn *wsConn, msg wsMessage) {
	if err := conn.writeJSON(ctx, msg); err != nil {
		s.log.Debug("websocket write failed", "type", msg.Type, "error", err)
	}
}
