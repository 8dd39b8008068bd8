// Package session owns the open playback sessions: it admits viewers
// through the access gate, wires each session's engine, watch timer and
// renderer bridge, and tears sessions down when the gate locks.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/kidsfeed/internal/metrics"
	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/policy/opa"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/usage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultReevaluateInterval is how often open sessions are checked
// against the schedule.
const DefaultReevaluateInterval = time.Minute

// storeTimeout bounds the storage work done on each tick.
const storeTimeout = 5 * time.Second

// Gate decides access and admission.
type Gate interface {
	Check(ctx context.Context, familyID, memberID string) (policy.AccessDecision, error)
	Decide(ctx context.Context, member storage.Member, dailyWatchTimeSeconds int64) (policy.AccessDecision, error)
	Admit(ctx context.Context, member storage.Member, video storage.Video) (*opa.AdmissionDecision, error)
}

// Quota credits watch time.
type Quota interface {
	Credit(ctx context.Context, familyID string, seconds int) (storage.WatchQuota, error)
}

// Options configures a Manager.
type Options struct {
	Clock              clockwork.Clock
	TickInterval       time.Duration
	APILoadTimeout     time.Duration
	ReevaluateInterval time.Duration
	Player             playback.PlayerOptions
}

// Manager tracks open sessions, at most one per family member.
type Manager struct {
	gate     Gate
	quota    Quota
	members  storage.MemberStore
	videos   storage.VideoStore
	resolver playback.Resolver
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	slots    map[slot]*Session
	families map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(store storage.Store, gate Gate, quota Quota, resolver playback.Resolver, opts Options, logger zerolog.Logger) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = usage.DefaultTickInterval
	}
	if opts.ReevaluateInterval <= 0 {
		opts.ReevaluateInterval = DefaultReevaluateInterval
	}
	return &Manager{
		gate:     gate,
		quota:    quota,
		members:  store.Members(),
		videos:   store.Videos(),
		resolver: resolver,
		opts:     opts,
		logger:   logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
		slots:    make(map[slot]*Session),
		families: make(map[string]*sync.Mutex),
	}
}

// Open starts a session for member on videoID. It fails with a
// *LockedError when the gate is locked and with ErrNotAdmitted when the
// admission policy refuses the video. A session already open for the same
// member is closed first.
func (m *Manager) Open(ctx context.Context, familyID, memberID, videoID string) (*Session, error) {
	member, err := m.members.Get(ctx, familyID, memberID)
	if err != nil {
		return nil, fmt.Errorf("load member %s: %w", memberID, err)
	}
	record, err := m.videos.Get(ctx, familyID, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video %s: %w", videoID, err)
	}

	decision, err := m.gate.Check(ctx, familyID, memberID)
	if err != nil {
		return nil, err
	}
	if decision.Locked {
		return nil, &LockedError{Decision: decision}
	}

	admission, err := m.gate.Admit(ctx, *member, *record)
	if err != nil {
		return nil, err
	}
	if !admission.Allow {
		return nil, fmt.Errorf("%w: %s", ErrNotAdmitted, admission.Reason)
	}

	if record.Status != storage.VideoSeen {
		record.Status = storage.VideoSeen
		record.UpdatedAt = m.opts.Clock.Now()
		if err := m.videos.Upsert(ctx, *record); err != nil {
			return nil, fmt.Errorf("mark video %s seen: %w", videoID, err)
		}
	}

	sess := m.newSession(*member, *record)

	key := slot{familyID: familyID, memberID: memberID}
	m.mu.Lock()
	previous := m.slots[key]
	if previous != nil {
		delete(m.sessions, previous.ID)
	}
	m.slots[key] = sess
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if previous != nil {
		m.teardown(previous, "replaced")
	}

	metrics.ActiveSessions.Inc()
	sess.engine.Start()

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("family_id", familyID).
		Str("member_id", memberID).
		Str("video_id", videoID).
		Str("platform", string(sess.Video.Platform)).
		Msg("Session opened")

	return sess, nil
}

func (m *Manager) newSession(member storage.Member, record storage.Video) *Session {
	v := toVideo(record)
	sess := &Session{
		ID:        uuid.NewString(),
		FamilyID:  member.FamilyID,
		MemberID:  member.ID,
		VideoID:   record.ID,
		Video:     v,
		Child:     member.Role == storage.RoleChild,
		OpenedAt:  m.opts.Clock.Now(),
		member:    member,
		bridge:    NewBridge(),
		persisted: v.WatchDurationSeconds,
	}

	sess.timer = usage.NewWatchTimer(usage.TimerConfig{
		Clock:       m.opts.Clock,
		Interval:    m.opts.TickInterval,
		Accumulated: v.WatchDurationSeconds,
		Total:       v.TotalDurationSeconds,
		OnCredit:    func(seconds int) { m.credit(sess, seconds) },
		OnProgress:  func(accumulated int) { m.progress(sess, accumulated) },
	})

	sess.engine = playback.NewEngine(playback.Config{
		VideoID:        v.SourceID(),
		Platform:       v.Platform,
		EmbedURL:       record.EmbedURL,
		Child:          sess.Child,
		Player:         m.opts.Player,
		APILoadTimeout: m.opts.APILoadTimeout,
		Clock:          m.opts.Clock,
	}, sess.bridge, m.resolver, sess.timer, m.logger.With().Str("session_id", sess.ID).Logger())

	return sess
}

// credit runs on the timer goroutine for every watched second. Crediting
// and the decision that follows hold the family mutex; sessions already
// closed by a lock credit nothing.
func (m *Manager) credit(sess *Session, seconds int) {
	mu := m.familyMutex(sess.FamilyID)
	mu.Lock()
	defer mu.Unlock()

	if !m.registered(sess) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	quota, err := m.quota.Credit(ctx, sess.FamilyID, seconds)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to credit watch time")
		return
	}

	// The quota is family-wide: a parent's second can lock every child.
	for _, member := range m.openChildren(sess.FamilyID) {
		decision, err := m.gate.Decide(ctx, member, quota.DailyWatchTimeSeconds)
		if err != nil {
			m.logger.Error().Err(err).Str("session_id", sess.ID).Str("member_id", member.ID).Msg("Failed to evaluate access")
			return
		}
		if decision.Locked {
			m.lockFamily(sess.FamilyID, decision)
			return
		}
	}
}

// familyMutex returns the mutex serialising quota changes and lock
// decisions for one family.
func (m *Manager) familyMutex(familyID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	mu, ok := m.families[familyID]
	if !ok {
		mu = &sync.Mutex{}
		m.families[familyID] = mu
	}
	return mu
}

func (m *Manager) registered(sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sess.ID] == sess
}

// openChildren returns the distinct child members with an open session in
// the family.
func (m *Manager) openChildren(familyID string) []storage.Member {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []storage.Member
	for _, s := range m.sessions {
		if s.FamilyID == familyID && s.Child && !seen[s.MemberID] {
			seen[s.MemberID] = true
			out = append(out, s.member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) progress(sess *Session, accumulated int) {
	if !sess.shouldPersist(accumulated) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := m.videos.UpdateWatchDuration(ctx, sess.FamilyID, sess.VideoID, accumulated); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Str("video_id", sess.VideoID).Msg("Failed to store watch duration")
	}
}

// lockFamily closes every child session of the family and tells their
// renderers why.
func (m *Manager) lockFamily(familyID string, decision policy.AccessDecision) {
	closing := m.detach(func(s *Session) bool { return s.FamilyID == familyID && s.Child })
	if len(closing) == 0 {
		return
	}

	m.logger.Info().
		Str("family_id", familyID).
		Str("reason", string(decision.Reason)).
		Int("sessions", len(closing)).
		Msg("Access locked, closing sessions")

	for _, s := range closing {
		if err := s.bridge.Send(playback.LockedCommand(decision.Reason)); err != nil {
			m.logger.Debug().Err(err).Str("session_id", s.ID).Msg("Failed to send lock notice")
		}
		m.teardown(s, "locked")
	}
}

// detach removes the matching sessions from the manager and returns them.
func (m *Manager) detach(match func(*Session) bool) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for id, s := range m.sessions {
		if !match(s) {
			continue
		}
		delete(m.sessions, id)
		key := slot{familyID: s.FamilyID, memberID: s.MemberID}
		if m.slots[key] == s {
			delete(m.slots, key)
		}
		out = append(out, s)
	}
	return out
}

// teardown closes a session that is no longer registered.
func (m *Manager) teardown(s *Session, cause string) {
	s.engine.Close()
	go func() {
		<-s.engine.Done()
		s.bridge.Close()
	}()

	metrics.ActiveSessions.Dec()
	metrics.SessionsClosed.WithLabelValues(cause).Inc()

	m.logger.Info().
		Str("session_id", s.ID).
		Str("family_id", s.FamilyID).
		Str("member_id", s.MemberID).
		Str("cause", cause).
		Int("accumulated_seconds", s.timer.Accumulated()).
		Msg("Session closed")
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].OpenedAt.Equal(sessions[j].OpenedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].OpenedAt.Before(sessions[j].OpenedAt)
	})

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// HandleEvent forwards a renderer event to the session's engine.
func (m *Manager) HandleEvent(id string, ev playback.Event) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if ev.Type == playback.EventAPIReady {
		s.bridge.MarkReady()
	}
	return s.engine.HandleEvent(ev)
}

// Close ends one session.
func (m *Manager) Close(id string) error {
	closing := m.detach(func(s *Session) bool { return s.ID == id })
	if len(closing) == 0 {
		return ErrNotFound
	}
	m.teardown(closing[0], "closed")
	return nil
}

// CloseVideo ends every session playing a deleted video.
func (m *Manager) CloseVideo(familyID, videoID string) int {
	closing := m.detach(func(s *Session) bool { return s.FamilyID == familyID && s.VideoID == videoID })
	for _, s := range closing {
		m.teardown(s, "deleted")
	}
	return len(closing)
}

// ControlsChanged re-evaluates the family's open sessions after its
// controls were saved.
func (m *Manager) ControlsChanged(ctx context.Context, familyID string) error {
	return m.reevaluate(ctx, familyID)
}

func (m *Manager) reevaluate(ctx context.Context, familyID string) error {
	mu := m.familyMutex(familyID)
	mu.Lock()
	defer mu.Unlock()

	for _, member := range m.openChildren(familyID) {
		decision, err := m.gate.Check(ctx, familyID, member.ID)
		if err != nil {
			return fmt.Errorf("re-evaluate %s/%s: %w", familyID, member.ID, err)
		}
		if decision.Locked {
			m.lockFamily(familyID, decision)
			return nil
		}
	}
	return nil
}

// Run re-evaluates every family with open sessions on each interval so
// schedule boundaries take effect without a new tick. It returns when ctx
// ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.opts.Clock.NewTicker(m.opts.ReevaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			for _, familyID := range m.families() {
				if err := m.reevaluate(ctx, familyID); err != nil {
					m.logger.Warn().Err(err).Str("family_id", familyID).Msg("Periodic re-evaluation failed")
				}
			}
		}
	}
}

func (m *Manager) families() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range m.sessions {
		if !seen[s.FamilyID] {
			seen[s.FamilyID] = true
			out = append(out, s.FamilyID)
		}
	}
	sort.Strings(out)
	return out
}

// Shutdown closes every session and waits for their engines to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	closing := m.detach(func(*Session) bool { return true })
	for _, s := range closing {
		m.teardown(s, "shutdown")
	}
	for _, s := range closing {
		if err := s.engine.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
