package playback

import (
	"net/url"
	"testing"
)

func TestPlayerConfig(t *testing.T) {
	tests := []struct {
		name      string
		child     bool
		origin    string
		disableKB int
	}{
		{"child viewer", true, "https://kids.example", 1},
		{"parent viewer", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewPlayerConfig("dQw4w9WgXcQ", tt.child, PlayerOptions{Origin: tt.origin})

			if cfg.Host != PrivacyEnhancedHost {
				t.Errorf("Host = %q", cfg.Host)
			}
			if cfg.ContainerID != "youtube-player" {
				t.Errorf("ContainerID = %q", cfg.ContainerID)
			}
			if cfg.PlayerVars["disablekb"] != tt.disableKB {
				t.Errorf("disablekb = %v, want %d", cfg.PlayerVars["disablekb"], tt.disableKB)
			}
			if cfg.PlayerVars["rel"] != 0 || cfg.PlayerVars["autoplay"] != 1 {
				t.Errorf("unexpected player vars %v", cfg.PlayerVars)
			}
			_, hasOrigin := cfg.PlayerVars["origin"]
			if hasOrigin != (tt.origin != "") {
				t.Errorf("origin present = %v", hasOrigin)
			}

			u, err := url.Parse(cfg.EmbedURL())
			if err != nil {
				t.Fatalf("EmbedURL: %v", err)
			}
			if u.Host != PrivacyEnhancedHost || u.Path != "/embed/dQw4w9WgXcQ" {
				t.Errorf("EmbedURL = %s", u)
			}
			if u.Query().Get("iv_load_policy") != "3" {
				t.Errorf("iv_load_policy = %q", u.Query().Get("iv_load_policy"))
			}
		})
	}
}
