package policy

import (
	"strconv"
	"strings"
	"time"
)

// EvaluateAccess decides whether user may watch at now. Parents and
// families with controls disabled are never locked. For children the daily
// limit is checked before the schedule, so a child over quota inside the
// window is locked for timeLimit.
//
// The schedule is compared literally: a window whose start is after its end
// locks at every minute.
func EvaluateAccess(user User, controls ParentalControls, dailyWatchTimeSeconds int64, now time.Time) AccessDecision {
	decision := AccessDecision{
		DailyWatchTimeSeconds: dailyWatchTimeSeconds,
		LimitSeconds:          -1,
		EvaluatedAt:           now,
	}

	if user.Role != RoleChild || !controls.Enabled {
		return decision
	}

	decision.LimitSeconds = int64(controls.DailyTimeLimitMinutes) * 60
	if dailyWatchTimeSeconds >= decision.LimitSeconds {
		decision.Locked = true
		decision.Reason = LockReasonTimeLimit
		return decision
	}

	start, okStart := ParseClock(controls.Schedule.Start)
	end, okEnd := ParseClock(controls.Schedule.End)
	if !okStart || !okEnd {
		// unparseable windows never lock
		return decision
	}

	nowMinutes := MinuteOfDay(now)
	if nowMinutes < start || nowMinutes > end {
		decision.Locked = true
		decision.Reason = LockReasonSchedule
	}

	return decision
}

// MinuteOfDay returns hour*60+minute of t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseClock converts "HH:MM" into minutes since midnight. A trailing
// ":SS" field is accepted and ignored.
func ParseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return h*60 + m, true
}

// ValidClock reports whether s is a well formed "HH:MM" time.
func ValidClock(s string) bool {
	_, ok := ParseClock(s)
	return ok
}
