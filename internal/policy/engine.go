package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kidsfeed/internal/metrics"
	"github.com/goodtune/kidsfeed/internal/policy/opa"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/rs/zerolog"
)

// UsageTracker supplies today's watch counter with the daily reset applied
type UsageTracker interface {
	Current(ctx context.Context, familyID string) (storage.WatchQuota, error)
	Now() time.Time
}

// Engine gathers the facts for a viewer and runs the access gate and the
// admission policy
type Engine struct {
	members   storage.MemberStore
	controls  storage.ControlsStore
	usage     UsageTracker
	opaEngine *opa.Engine
	defaults  ParentalControls
	logger    zerolog.Logger
}

// NewEngine creates a new policy engine. defaults apply to families that
// never saved controls.
func NewEngine(store storage.Store, usage UsageTracker, opaEngine *opa.Engine, defaults ParentalControls, logger zerolog.Logger) *Engine {
	return &Engine{
		members:   store.Members(),
		controls:  store.Controls(),
		usage:     usage,
		opaEngine: opaEngine,
		defaults:  defaults,
		logger:    logger.With().Str("component", "policy").Logger(),
	}
}

// Controls returns the family's parental controls, or the defaults when
// none were saved.
func (e *Engine) Controls(ctx context.Context, familyID string) (ParentalControls, error) {
	stored, err := e.controls.Get(ctx, familyID)
	if errors.Is(err, storage.ErrNotFound) {
		return e.defaults, nil
	}
	if err != nil {
		return ParentalControls{}, fmt.Errorf("load controls for %s: %w", familyID, err)
	}
	return FromStorage(*stored), nil
}

// Check evaluates the gate for a member using today's counter.
func (e *Engine) Check(ctx context.Context, familyID, memberID string) (AccessDecision, error) {
	member, err := e.members.Get(ctx, familyID, memberID)
	if err != nil {
		return AccessDecision{}, fmt.Errorf("load member %s: %w", memberID, err)
	}

	quota, err := e.usage.Current(ctx, familyID)
	if err != nil {
		return AccessDecision{}, err
	}

	return e.Decide(ctx, *member, quota.DailyWatchTimeSeconds)
}

// Decide evaluates the gate for a member against a counter the caller
// already holds.
func (e *Engine) Decide(ctx context.Context, member storage.Member, dailyWatchTimeSeconds int64) (AccessDecision, error) {
	controls, err := e.Controls(ctx, member.FamilyID)
	if err != nil {
		return AccessDecision{}, err
	}

	user := User{ID: member.ID, Role: Role(member.Role)}
	decision := EvaluateAccess(user, controls, dailyWatchTimeSeconds, e.usage.Now())

	result := "unlocked"
	if decision.Locked {
		result = "locked"
	}
	metrics.AccessDecisions.WithLabelValues(result, decision.Reason.Label()).Inc()

	e.logger.Debug().
		Str("family_id", member.FamilyID).
		Str("member_id", member.ID).
		Bool("locked", decision.Locked).
		Str("reason", string(decision.Reason)).
		Int64("daily_watch_time_seconds", dailyWatchTimeSeconds).
		Msg("Access evaluated")

	return decision, nil
}

// Admit asks the admission policy whether member may open video.
func (e *Engine) Admit(ctx context.Context, member storage.Member, video storage.Video) (*opa.AdmissionDecision, error) {
	decision, err := e.opaEngine.EvaluateAdmission(ctx,
		opa.Member{ID: member.ID, Role: string(member.Role)},
		opa.Video{ID: video.ID, Platform: video.Platform, Recipients: video.Recipients},
	)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		metrics.AdmissionDenials.Inc()
		e.logger.Info().
			Str("family_id", member.FamilyID).
			Str("member_id", member.ID).
			Str("video_id", video.ID).
			Str("reason", decision.Reason).
			Msg("Video admission denied")
	}
	return decision, nil
}

// FromStorage converts stored controls into the gate's input.
func FromStorage(c storage.ParentalControls) ParentalControls {
	return ParentalControls{
		Enabled:               c.Enabled,
		DailyTimeLimitMinutes: c.DailyTimeLimitMinutes,
		Schedule:              Schedule{Start: c.Schedule.Start, End: c.Schedule.End},
	}
}
