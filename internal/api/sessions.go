package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/session"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/gorilla/mux"
)

type openSessionRequest struct {
	MemberID string `json:"member_id" validate:"required"`
	VideoID  string `json:"video_id" validate:"required"`
}

type eventRequest struct {
	Type playback.EventType `json:"type" validate:"required"`
	Code int                `json:"code"`
}

// lockedResponse is returned with 423 when the gate refuses an open.
type lockedResponse struct {
	ErrorResponse
	Decision policy.AccessDecision `json:"decision"`
	Notice   policy.Notice         `json:"notice"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	family := mux.Vars(r)["family"]

	var req openSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess, err := s.sessions.Open(r.Context(), family, req.MemberID, req.VideoID)
	if err != nil {
		var locked *session.LockedError
		switch {
		case errors.As(err, &locked):
			writeJSON(w, http.StatusLocked, lockedResponse{
				ErrorResponse: ErrorResponse{
					Error:   http.StatusText(http.StatusLocked),
					Message: "Viewing is locked",
					Code:    http.StatusLocked,
				},
				Decision: locked.Decision,
				Notice:   locked.Decision.Reason.Notice(),
			})
		case errors.Is(err, session.ErrNotAdmitted):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "Member or video not found")
		default:
			s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to open session")
			writeError(w, http.StatusInternalServerError, "Failed to open session")
		}
		return
	}

	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(mux.Vars(r)["session"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(mux.Vars(r)["session"]); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session"]

	var req eventRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.sessions.HandleEvent(id, playback.Event{Type: req.Type, Code: req.Code})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, playback.ErrUnknownEvent):
		writeError(w, http.StatusBadRequest, "Unknown event type: "+string(req.Type))
	default:
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to handle event")
		writeError(w, http.StatusInternalServerError, "Failed to handle event")
	}
}
