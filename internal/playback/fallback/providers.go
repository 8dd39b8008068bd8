package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

var errNoStream = errors.New("no playable stream in response")

type statusError struct {
	tier   string
	base   string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s provider at %s responded with status %d", e.tier, e.base, e.status)
}

type streamsResponse struct {
	VideoStreams []struct {
		URL     string `json:"url"`
		Quality string `json:"quality"`
		Format  string `json:"format"`
	} `json:"videoStreams"`
}

type videoResponse struct {
	FormatStreams []struct {
		URL          string `json:"url"`
		QualityLabel string `json:"qualityLabel"`
		Container    string `json:"container"`
	} `json:"formatStreams"`
}

// fetchStream asks a stream provider for the video's direct streams.
func (r *Resolver) fetchStream(ctx context.Context, base, videoID string) (string, error) {
	var body streamsResponse
	if err := r.getJSON(ctx, tierStream, base, "/streams/"+url.PathEscape(videoID), &body); err != nil {
		return "", err
	}

	pick := ""
	for _, s := range body.VideoStreams {
		if s.Quality == r.prefs.StreamQuality && s.Format == r.prefs.StreamFormat {
			pick = s.URL
			break
		}
	}
	if pick == "" && len(body.VideoStreams) > 0 {
		pick = body.VideoStreams[0].URL
	}
	if pick == "" {
		return "", fmt.Errorf("%s provider at %s: %w", tierStream, base, errNoStream)
	}
	return resolveAgainst(base, pick)
}

// fetchFormat asks a metadata provider for the video's format streams.
func (r *Resolver) fetchFormat(ctx context.Context, base, videoID string) (string, error) {
	var body videoResponse
	if err := r.getJSON(ctx, tierMetadata, base, "/api/v1/videos/"+url.PathEscape(videoID), &body); err != nil {
		return "", err
	}

	pick := ""
	for _, s := range body.FormatStreams {
		if s.QualityLabel == r.prefs.FormatQuality && s.Container == r.prefs.FormatContainer {
			pick = s.URL
			break
		}
	}
	if pick == "" && len(body.FormatStreams) > 0 {
		pick = body.FormatStreams[0].URL
	}
	if pick == "" {
		return "", fmt.Errorf("%s provider at %s: %w", tierMetadata, base, errNoStream)
	}
	return resolveAgainst(base, pick)
}

func (r *Resolver) getJSON(ctx context.Context, tier, base, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("%s provider at %s: %w", tier, base, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s provider at %s: %w", tier, base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayload))
		return &statusError{tier: tier, base: base, status: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayload)).Decode(out); err != nil {
		return fmt.Errorf("%s provider at %s returned malformed JSON: %w", tier, base, err)
	}
	return nil
}

func resolveAgainst(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid provider base %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid stream url %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
