package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body = strings.ReplaceAll(body, "{{dir}}", dir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: {{dir}}/data/kidsfeed.bolt
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Playback.ProviderTimeout != "2s" {
		t.Errorf("ProviderTimeout = %q, want 2s", cfg.Playback.ProviderTimeout)
	}
	if len(cfg.Playback.StreamProviders) != len(DefaultStreamProviders) {
		t.Errorf("StreamProviders has %d entries", len(cfg.Playback.StreamProviders))
	}
	if cfg.Policy.DefaultControls.ScheduleStart != "09:00" || cfg.Policy.DefaultControls.DailyTimeLimitMinutes != 60 {
		t.Errorf("unexpected default controls: %+v", cfg.Policy.DefaultControls)
	}
	if _, err := os.Stat(filepath.Dir(cfg.Storage.Path)); err != nil {
		t.Errorf("storage directory not created: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("KIDSFEED_STORAGE_PATH", filepath.Join(t.TempDir(), "kidsfeed.bolt"))

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("Storage.Type = %q", cfg.Storage.Type)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad port",
			body: "server:\n  api_port: 70000\nstorage:\n  path: {{dir}}/k.bolt\n",
			want: "invalid API port",
		},
		{
			name: "bad storage type",
			body: "storage:\n  type: sqlite\n  path: {{dir}}/k.bolt\n",
			want: "unknown storage type",
		},
		{
			name: "bad duration",
			body: "storage:\n  path: {{dir}}/k.bolt\nplayback:\n  provider_timeout: soon\n",
			want: "playback.provider_timeout",
		},
		{
			name: "bad schedule",
			body: "storage:\n  path: {{dir}}/k.bolt\npolicy:\n  default_controls:\n    schedule_start: \"9am\"\n",
			want: "schedule_start",
		},
		{
			name: "bad provider",
			body: "storage:\n  path: {{dir}}/k.bolt\nplayback:\n  stream_providers: [\"not a url\"]\n",
			want: "invalid provider URL",
		},
		{
			name: "bad timezone",
			body: "storage:\n  path: {{dir}}/k.bolt\nusage_tracking:\n  timezone: Mars/Olympus\n",
			want: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadTrimsProviderSlash(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: {{dir}}/k.bolt
playback:
  metadata_providers:
    - https://iv.example.org/
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Playback.MetadataProviders[0]; got != "https://iv.example.org" {
		t.Errorf("provider = %q", got)
	}
}
