package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/video"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type videoRequest struct {
	URL                  string   `json:"url" validate:"required,max=2048"`
	Title                string   `json:"title" validate:"max=200"`
	TotalDurationSeconds int      `json:"total_duration_seconds" validate:"gte=0"`
	Recipients           []string `json:"recipients" validate:"dive,required"`
}

// listVideos returns the family's videos. With ?member= set to a child,
// only videos shared with that child are returned.
func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	family := mux.Vars(r)["family"]

	videos, err := s.store.Videos().List(ctx, family)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to list videos")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve videos")
		return
	}

	if memberID := r.URL.Query().Get("member"); memberID != "" {
		member, err := s.store.Members().Get(ctx, family, memberID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Member not found")
				return
			}
			s.logger.Error().Err(err).Str("member_id", memberID).Msg("Failed to get member")
			writeError(w, http.StatusInternalServerError, "Failed to retrieve member")
			return
		}
		if member.Role == storage.RoleChild {
			videos = slices.DeleteFunc(videos, func(v storage.Video) bool {
				return len(v.Recipients) > 0 && !slices.Contains(v.Recipients, member.ID)
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"videos": videos,
		"count":  len(videos),
	})
}

func (s *Server) getVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	v, err := s.store.Videos().Get(r.Context(), vars["family"], vars["video"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Video not found")
			return
		}
		s.logger.Error().Err(err).Str("video_id", vars["video"]).Msg("Failed to get video")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve video")
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (s *Server) createVideo(w http.ResponseWriter, r *http.Request) {
	family := mux.Vars(r)["family"]

	var req videoRequest
	if !s.decode(w, r, &req) {
		return
	}

	parsed := video.ParseURL(req.URL)
	if !parsed.Valid() {
		writeError(w, http.StatusBadRequest, "Unsupported video URL")
		return
	}

	title := req.Title
	if title == "" {
		title = parsed.Platform.DisplayName() + " video"
	}
	recipients := req.Recipients
	if recipients == nil {
		recipients = []string{}
	}

	now := s.clock.Now()
	v := storage.Video{
		ID:                   uuid.NewString(),
		FamilyID:             family,
		URL:                  parsed.OriginalURL,
		Title:                title,
		Platform:             string(parsed.Platform),
		VideoID:              parsed.VideoID,
		EmbedURL:             parsed.EmbedURL,
		ThumbnailURL:         parsed.ThumbnailURL,
		TotalDurationSeconds: req.TotalDurationSeconds,
		Status:               storage.VideoUnseen,
		Recipients:           recipients,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.Videos().Upsert(r.Context(), v); err != nil {
		s.logger.Error().Err(err).Str("family_id", family).Msg("Failed to create video")
		writeError(w, http.StatusInternalServerError, "Failed to create video")
		return
	}

	s.logger.Info().
		Str("family_id", family).
		Str("video_id", v.ID).
		Str("platform", v.Platform).
		Msg("Video added")
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) deleteVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.store.Videos().Delete(r.Context(), vars["family"], vars["video"]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Video not found")
			return
		}
		s.logger.Error().Err(err).Str("video_id", vars["video"]).Msg("Failed to delete video")
		writeError(w, http.StatusInternalServerError, "Failed to delete video")
		return
	}

	closed := s.sessions.CloseVideo(vars["family"], vars["video"])
	s.logger.Info().
		Str("family_id", vars["family"]).
		Str("video_id", vars["video"]).
		Int("sessions_closed", closed).
		Msg("Video deleted")
	w.WriteHeader(http.StatusNoContent)
}
