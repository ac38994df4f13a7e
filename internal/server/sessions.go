package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vivavoce-ai/vivavoce/internal/app"
	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/engine"
)

// createSessionRequest starts a session either from the question bank (by ID)
// or from an inline question supplied in the request.
type createSessionRequest struct {
	QuestionID string           `json:"question_id,omitempty"`
	Question   *config.Question `json:"question,omitempty"`
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	QuestionID   string `json:"question_id,omitempty"`
	QuestionText string `json:"question_text"`
	Bullets      int    `json:"bullets"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var q config.Question
	switch {
	case req.QuestionID != "" && req.Question != nil:
		s.writeError(w, http.StatusBadRequest, "provide question_id or question, not both")
		return
	case req.QuestionID != "":
		var ok bool
		q, ok = s.app.Question(req.QuestionID)
		if !ok {
			s.writeError(w, http.StatusNotFound, "unknown question: "+req.QuestionID)
			return
		}
	case req.Question != nil:
		q = *req.Question
		if strings.TrimSpace(q.Text) == "" {
			s.writeError(w, http.StatusBadRequest, "inline question needs text")
			return
		}
	default:
		s.writeError(w, http.StatusBadRequest, "provide question_id or question")
		return
	}

	runner, err := s.app.Sessions().Start(q)
	if err != nil {
		s.log.Error("session start failed", "question_id", q.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	s.writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:    runner.ID(),
		QuestionID:   q.ID,
		QuestionText: q.Text,
		Bullets:      len(q.Bullets),
	})
}

type sessionStateResponse struct {
	SessionID string                `json:"session_id"`
	Bullets   []engine.BulletResult `json:"bullets"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	runner, ok := s.app.Sessions().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionStateResponse{
		SessionID: id,
		Bullets:   runner.Session().Snapshot(),
	})
}

func (s *Server) postFragment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	runner, ok := s.app.Sessions().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}

	var frag engine.Fragment
	if err := json.NewDecoder(r.Body).Decode(&frag); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid fragment: "+err.Error())
		return
	}
	if frag.At.IsZero() {
		frag.At = time.Now()
	}

	if err := runner.Update(r.Context(), frag); err != nil {
		if errors.Is(err, engine.ErrFinalized) {
			s.writeError(w, http.StatusConflict, "session already finalized")
			return
		}
		s.log.Error("fragment update failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	s.writeJSON(w, http.StatusOK, sessionStateResponse{
		SessionID: id,
		Bullets:   runner.Session().Snapshot(),
	})
}

func (s *Server) finalizeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	rep, err := s.app.Sessions().Finalize(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			s.writeError(w, http.StatusNotFound, "unknown session: "+id)
		case errors.Is(err, engine.ErrFinalized):
			s.writeError(w, http.StatusConflict, "session already finalized")
		default:
			s.log.Error("finalize failed", "session_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "finalize failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	if store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "report store not configured")
		return
	}

	id := chi.URLParam(r, "sessionID")
	rep, err := store.Get(r.Context(), id)
	if err != nil {
		s.log.Error("report lookup failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	if rep == nil {
		s.writeError(w, http.StatusNotFound, "no report for session: "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) searchAnswers(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	embedder := s.app.Embedder()
	if store == nil || embedder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "answer search needs the report store and an embeddings provider")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	vec, err := embedder.Embed(r.Context(), query)
	if err != nil {
		s.log.Error("query embedding failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "query embedding failed")
		return
	}

	matches, err := store.SearchAnswers(r.Context(), vec, limit)
	if err != nil {
		s.log.Error("answer search failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "answer search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
