// Package fallback finds a replacement stream for a YouTube video whose
// native embed failed, trying direct-stream providers first and falling
// back to a provider's embed page.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/kidsfeed/internal/metrics"
	"github.com/goodtune/kidsfeed/internal/playback"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds each provider request.
	DefaultTimeout = 2 * time.Second

	// maxPayload caps provider response bodies.
	maxPayload = 8 << 20

	noAttemptsMessage = "Even my best tricks didn't work for this video. So sorry!"
	abandonedMessage  = "fallback abandoned"
)

const (
	tierStream   = "stream"
	tierMetadata = "metadata"
	tierEmbed    = "embed"
)

// Preferences selects the stream entry taken from a provider response.
type Preferences struct {
	StreamQuality   string
	StreamFormat    string
	FormatQuality   string
	FormatContainer string
}

// DefaultPreferences prefers 720p WEBM direct streams and 720p mp4
// format streams.
var DefaultPreferences = Preferences{
	StreamQuality:   "720p",
	StreamFormat:    "WEBM",
	FormatQuality:   "720p",
	FormatContainer: "mp4",
}

// Config configures a Resolver.
type Config struct {
	// StreamProviders expose GET {base}/streams/{id}.
	StreamProviders []string
	// MetadataProviders expose GET {base}/api/v1/videos/{id} and
	// {base}/embed/{id}.
	MetadataProviders []string
	Timeout           time.Duration
	Preferences       Preferences
	// CacheSize of 0 disables the stream cache.
	CacheSize int
	CacheTTL  time.Duration
	Client    *http.Client
	Clock     clockwork.Clock
	Rand      *rand.Rand
}

type cacheEntry struct {
	state   playback.FallbackVideo
	expires time.Time
}

// Resolver runs the fallback cascade.
type Resolver struct {
	streamProviders   []string
	metadataProviders []string
	timeout           time.Duration
	prefs             Preferences
	client            *http.Client
	clock             clockwork.Clock
	logger            zerolog.Logger

	cache    *lru.Cache[string, cacheEntry]
	cacheTTL time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewResolver creates a resolver.
func NewResolver(cfg Config, logger zerolog.Logger) (*Resolver, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Preferences == (Preferences{}) {
		cfg.Preferences = DefaultPreferences
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	r := &Resolver{
		streamProviders:   trimBases(cfg.StreamProviders),
		metadataProviders: trimBases(cfg.MetadataProviders),
		timeout:           cfg.Timeout,
		prefs:             cfg.Preferences,
		client:            cfg.Client,
		clock:             cfg.Clock,
		rand:              cfg.Rand,
		cacheTTL:          cfg.CacheTTL,
		logger:            logger.With().Str("component", "fallback").Logger(),
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, cacheEntry](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create stream cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

func trimBases(bases []string) []string {
	out := make([]string, 0, len(bases))
	for _, b := range bases {
		if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Resolve tries every stream provider, then every metadata provider, in
// shuffled order, and settles on the first metadata provider's embed page
// when none returned a stream. current is consulted between providers.
func (r *Resolver) Resolve(ctx context.Context, videoID string, current func() bool) playback.State {
	if current == nil {
		current = func() bool { return true }
	}
	if videoID == "" {
		return playback.ErrorState{Message: noAttemptsMessage}
	}

	if st, ok := r.cached(videoID); ok {
		metrics.FallbackCacheHits.Inc()
		r.logger.Debug().Str("video_id", videoID).Str("provider", st.Provider).Msg("Stream cache hit")
		return st
	}

	streams := r.shuffle(r.streamProviders)
	metadata := r.shuffle(r.metadataProviders)

	var lastErr error

	for _, base := range streams {
		if !current() || ctx.Err() != nil {
			return playback.ErrorState{Message: abandonedMessage}
		}
		streamURL, err := r.fetchStream(ctx, base, videoID)
		if err != nil {
			lastErr = err
			r.failed(tierStream, base, videoID, err)
			continue
		}
		return r.succeeded(tierStream, base, videoID, streamURL)
	}

	for _, base := range metadata {
		if !current() || ctx.Err() != nil {
			return playback.ErrorState{Message: abandonedMessage}
		}
		streamURL, err := r.fetchFormat(ctx, base, videoID)
		if err != nil {
			lastErr = err
			r.failed(tierMetadata, base, videoID, err)
			continue
		}
		return r.succeeded(tierMetadata, base, videoID, streamURL)
	}

	if len(metadata) > 0 {
		base := metadata[0]
		metrics.FallbackAttempts.WithLabelValues(tierEmbed, "success").Inc()
		r.logger.Info().Str("video_id", videoID).Str("provider", base).Msg("Using embed fallback")
		return playback.FallbackIframe{
			URL:      base + "/embed/" + url.PathEscape(videoID) + "?autoplay=1",
			Provider: base,
		}
	}

	r.logger.Warn().Err(lastErr).Str("video_id", videoID).Msg("All fallback attempts failed")
	if lastErr == nil {
		return playback.ErrorState{Message: noAttemptsMessage}
	}
	return playback.ErrorState{Message: "All fallback attempts failed:\n" + lastErr.Error()}
}

func (r *Resolver) succeeded(tier, base, videoID, streamURL string) playback.State {
	metrics.FallbackAttempts.WithLabelValues(tier, "success").Inc()
	r.logger.Info().Str("video_id", videoID).Str("tier", tier).Str("provider", base).Msg("Fallback stream found")

	st := playback.FallbackVideo{URL: streamURL, Provider: base}
	if r.cache != nil {
		r.cache.Add(videoID, cacheEntry{state: st, expires: r.clock.Now().Add(r.cacheTTL)})
	}
	return st
}

func (r *Resolver) failed(tier, base, videoID string, err error) {
	outcome := "error"
	var se *statusError
	switch {
	case errors.As(err, &se):
		outcome = "status"
	case errors.Is(err, errNoStream):
		outcome = "invalid"
	}
	metrics.FallbackAttempts.WithLabelValues(tier, outcome).Inc()
	r.logger.Debug().Err(err).Str("video_id", videoID).Str("tier", tier).Str("provider", base).Msg("Fallback provider failed")
}

func (r *Resolver) cached(videoID string) (playback.FallbackVideo, bool) {
	if r.cache == nil {
		return playback.FallbackVideo{}, false
	}
	entry, ok := r.cache.Get(videoID)
	if !ok {
		return playback.FallbackVideo{}, false
	}
	if r.cacheTTL > 0 && !r.clock.Now().Before(entry.expires) {
		r.cache.Remove(videoID)
		return playback.FallbackVideo{}, false
	}
	return entry.state, true
}

// Forget drops a cached stream, e.g. after the renderer failed to play it.
func (r *Resolver) Forget(videoID string) {
	if r.cache != nil {
		r.cache.Remove(videoID)
	}
}

// shuffle returns a Fisher-Yates shuffled copy of bases.
func (r *Resolver) shuffle(bases []string) []string {
	out := append([]string(nil), bases...)

	r.randMu.Lock()
	defer r.randMu.Unlock()
	for i := len(out) - 1; i > 0; i-- {
		j := r.rand.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
