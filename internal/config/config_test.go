package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Situation.SampleIntervalMS != 60000 {
		t.Fatalf("expected 60s sample interval, got %d", cfg.Situation.SampleIntervalMS)
	}
	if cfg.Session.HistoryCap != 10 {
		t.Fatalf("expected history cap 10, got %d", cfg.Session.HistoryCap)
	}
	if cfg.Speak.Voice.Gender != "female" {
		t.Fatalf("expected default female voice, got %q", cfg.Speak.Voice.Gender)
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "parlo.yaml")
	doc := `backend:
  enabled: true
  base_url: http://backend:5000
  timeout_ms: 2500
suggest:
  source: backend
speak:
  mode: backend
  player: beep
situation:
  location:
    source: static
    latitude: 51.5
    longitude: -0.12
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:5000" {
		t.Fatalf("expected backend url override, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Suggest.Source != "backend" {
		t.Fatalf("expected backend suggestions, got %q", cfg.Suggest.Source)
	}
	if cfg.Speak.Mode != "backend" || cfg.Speak.Player != "beep" {
		t.Fatalf("expected backend speak mode with beep player, got %q/%q", cfg.Speak.Mode, cfg.Speak.Player)
	}
	if cfg.Situation.Location.Source != "static" || cfg.Situation.Location.Latitude != 51.5 {
		t.Fatalf("expected static location, got %+v", cfg.Situation.Location)
	}
	// file overlay must not clobber untouched defaults
	if cfg.Situation.Geocoder.UserAgent != "parlo-core" {
		t.Fatalf("expected default geocoder user agent, got %q", cfg.Situation.Geocoder.UserAgent)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLO_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PARLO_BUS_USERNAME", "alice")
	t.Setenv("PARLO_BUS_PASSWORD", "secret")
	t.Setenv("PARLO_BUS_TLS_INSECURE", "true")
	t.Setenv("PARLO_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("PARLO_NODE_ID", "test-node")
	t.Setenv("PARLO_BACKEND_ENABLED", "true")
	t.Setenv("PARLO_BACKEND_BASE_URL", "http://example:5000")
	t.Setenv("PARLO_HISTORY_PATH", "./tmp.db")
	t.Setenv("PARLO_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("PARLO_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("PARLO_HISTORY_MAX_ENTRIES", "123")
	t.Setenv("PARLO_SPEAK_VOICE_GENDER", "male")
	t.Setenv("PARLO_SPEAK_VOICE_RATE", "1.5")
	t.Setenv("PARLO_SESSION_HISTORY_CAP", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if !cfg.Backend.Enabled || cfg.Backend.BaseURL != "http://example:5000" {
		t.Fatalf("expected backend override, got %+v", cfg.Backend)
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override")
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected history retention mode override")
	}
	if cfg.History.RetentionDays != 7 {
		t.Fatalf("expected history retention days override")
	}
	if cfg.History.MaxEntries != 123 {
		t.Fatalf("expected history max entries override")
	}
	if cfg.Speak.Voice.Gender != "male" || cfg.Speak.Voice.Rate != 1.5 {
		t.Fatalf("expected voice override, got %+v", cfg.Speak.Voice)
	}
	if cfg.Session.HistoryCap != 25 {
		t.Fatalf("expected history cap override, got %d", cfg.Session.HistoryCap)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("PARLO_LISTEN_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for listen.mode")
	}
}

func TestValidateBackendCoupling(t *testing.T) {
	t.Setenv("PARLO_SUGGEST_SOURCE", "backend")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error: backend suggestions without backend enabled")
	}
}
