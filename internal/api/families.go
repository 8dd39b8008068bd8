package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/gorilla/mux"
)

type memberRequest struct {
	Name string       `json:"name" validate:"required,max=100"`
	Role storage.Role `json:"role" validate:"required,oneof=parent child"`
}

type controlsRequest struct {
	Enabled               bool             `json:"enabled"`
	DailyTimeLimitMinutes int              `json:"daily_time_limit_minutes" validate:"gte=0,lte=1440"`
	Schedule              storage.Schedule `json:"schedule"`
}

type accessResponse struct {
	policy.AccessDecision
	RemainingSeconds int64          `json:"remaining_seconds"`
	Notice           *policy.Notice `json:"notice,omitempty"`
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	family := mux.Vars(r)["family"]

	members, err := s.store.Members().List(r.Context(), family)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to list members")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	member, err := s.store.Members().Get(r.Context(), vars["family"], vars["member"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Member not found")
			return
		}
		s.logger.Error().Err(err).Str("member_id", vars["member"]).Msg("Failed to get member")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve member")
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (s *Server) putMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req memberRequest
	if !s.decode(w, r, &req) {
		return
	}

	member := storage.Member{
		ID:        vars["member"],
		FamilyID:  vars["family"],
		Name:      req.Name,
		Role:      req.Role,
		CreatedAt: s.clock.Now(),
	}

	status := http.StatusCreated
	existing, err := s.store.Members().Get(ctx, member.FamilyID, member.ID)
	switch {
	case err == nil:
		member.CreatedAt = existing.CreatedAt
		status = http.StatusOK
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Error().Err(err).Str("member_id", member.ID).Msg("Failed to get member")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve member")
		return
	}

	if err := s.store.Members().Upsert(ctx, member); err != nil {
		s.logger.Error().Err(err).Str("member_id", member.ID).Msg("Failed to save member")
		writeError(w, http.StatusInternalServerError, "Failed to save member")
		return
	}

	s.logger.Info().Str("family_id", member.FamilyID).Str("member_id", member.ID).Str("role", string(member.Role)).Msg("Member saved")
	writeJSON(w, status, member)
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.store.Members().Delete(r.Context(), vars["family"], vars["member"]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Member not found")
			return
		}
		s.logger.Error().Err(err).Str("member_id", vars["member"]).Msg("Failed to delete member")
		writeError(w, http.StatusInternalServerError, "Failed to delete member")
		return
	}

	s.logger.Info().Str("family_id", vars["family"]).Str("member_id", vars["member"]).Msg("Member deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getAccess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	decision, err := s.gate.Check(r.Context(), vars["family"], vars["member"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Member not found")
			return
		}
		s.logger.Error().Err(err).Str("member_id", vars["member"]).Msg("Failed to evaluate access")
		writeError(w, http.StatusInternalServerError, "Failed to evaluate access")
		return
	}

	writeJSON(w, http.StatusOK, newAccessResponse(decision))
}

func newAccessResponse(decision policy.AccessDecision) accessResponse {
	resp := accessResponse{AccessDecision: decision, RemainingSeconds: decision.RemainingSeconds()}
	if decision.Locked {
		notice := decision.Reason.Notice()
		resp.Notice = &notice
	}
	return resp
}

func (s *Server) getControls(w http.ResponseWriter, r *http.Request) {
	family := mux.Vars(r)["family"]

	controls, err := s.gate.Controls(r.Context(), family)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to get controls")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve controls")
		return
	}

	writeJSON(w, http.StatusOK, storage.ParentalControls{
		FamilyID:              family,
		Enabled:               controls.Enabled,
		DailyTimeLimitMinutes: controls.DailyTimeLimitMinutes,
		Schedule:              storage.Schedule{Start: controls.Schedule.Start, End: controls.Schedule.End},
	})
}

func (s *Server) putControls(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	family := mux.Vars(r)["family"]

	var req controlsRequest
	if !s.decode(w, r, &req) {
		return
	}

	controls := storage.ParentalControls{
		FamilyID:              family,
		Enabled:               req.Enabled,
		DailyTimeLimitMinutes: req.DailyTimeLimitMinutes,
		Schedule:              req.Schedule,
		UpdatedAt:             s.clock.Now(),
	}

	if err := s.store.Controls().Upsert(ctx, controls); err != nil {
		s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to save controls")
		writeError(w, http.StatusInternalServerError, "Failed to save controls")
		return
	}

	s.logger.Info().
		Str("family_id", family).
		Bool("enabled", controls.Enabled).
		Int("daily_time_limit_minutes", controls.DailyTimeLimitMinutes).
		Str("schedule_start", controls.Schedule.Start).
		Str("schedule_end", controls.Schedule.End).
		Msg("Parental controls saved")

	if err := s.sessions.ControlsChanged(ctx, family); err != nil {
		s.logger.Warn().Err(err).Str("family_id", family).Msg("Failed to re-evaluate open sessions")
	}

	writeJSON(w, http.StatusOK, controls)
}

func (s *Server) getQuota(w http.ResponseWriter, r *http.Request) {
	family := mux.Vars(r)["family"]

	quota, err := s.quota.Current(r.Context(), family)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to get quota")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve quota")
		return
	}

	writeJSON(w, http.StatusOK, quota)
}
