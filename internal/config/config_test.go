package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearBridgeEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BRAGI_MA_URL", "BRAGI_MA_TOKEN", "BRAGI_PLAYER_ID", "BRAGI_INPUT_BOOLEAN",
		"BRAGI_HA_URL", "BRAGI_HA_TOKEN", "BRAGI_RECONNECT_DELAY", "BRAGI_REQUEST_TIMEOUT", "BRAGI_STATUS_ADDR",
		"SUPERVISOR_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadBridgeConfigTOMLDefaultsAndOverrides(t *testing.T) {
	clearBridgeEnv(t)
	path := writeFile(t, "config.toml", `
ma_url = "http://ma.local:8095"
ma_token = "ma-secret"
player_id = "kitchen"
input_boolean = "input_boolean.current_track_is_favorite"
ha_url = "http://ha.local:8123"
ha_token = "ha-secret"
status_addr = " 127.0.0.1:9130 "
cors_origins = ["http://ha.local:8123", " "]
`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := BridgeConfig{
		MusicAssistantURL:   "http://ma.local:8095",
		MusicAssistantToken: "ma-secret",
		PlayerID:            "kitchen",
		InputBoolean:        "input_boolean.current_track_is_favorite",
		HomeAssistantURL:    "http://ha.local:8123",
		HomeAssistantToken:  "ha-secret",
		ReconnectDelay:      5 * time.Second,
		RequestTimeout:      10 * time.Second,
		StatusAddr:          "127.0.0.1:9130",
		CorsOrigins:         []string{"http://ha.local:8123"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadBridgeConfigAppsYAML(t *testing.T) {
	clearBridgeEnv(t)
	path := writeFile(t, "apps.yaml", `
other_app:
  module: other
  class: Other
bragi_sync:
  module: bragi_sync
  class: BragiSync
  ma_url: "http://music-assistant.local:8095"
  ma_token: "YOUR_LONG_LIVED_TOKEN"
  player_id: "player-id"
  input_boolean: "input_boolean.current_track_is_favorite"
  ha_url: "http://ha.local:8123"
  ha_token: "ha-secret"
  reconnect_delay: "2s"
`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PlayerID != "player-id" {
		t.Fatalf("unexpected player id: %q", cfg.PlayerID)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Fatalf("unexpected reconnect delay: %v", cfg.ReconnectDelay)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("expected default request timeout, got %v", cfg.RequestTimeout)
	}
}

func TestLoadBridgeConfigFlatYAMLWithSupervisorEnv(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("SUPERVISOR_TOKEN", "supervisor-secret")
	path := writeFile(t, "bridge.yml", `
ma_url: "http://ma.local:8095"
ma_token: "ma-secret"
player_id: "den"
input_boolean: "input_boolean.fav"
`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeAssistantURL != SupervisorURL {
		t.Fatalf("unexpected ha url: %q", cfg.HomeAssistantURL)
	}
	if cfg.HomeAssistantToken != "supervisor-secret" {
		t.Fatalf("unexpected ha token: %q", cfg.HomeAssistantToken)
	}
}

func TestLoadBridgeConfigEnvOverridesFile(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("BRAGI_MA_TOKEN", "from-env")
	t.Setenv("BRAGI_RECONNECT_DELAY", "750ms")
	t.Setenv("BRAGI_REQUEST_TIMEOUT", "3")
	path := writeFile(t, "config.toml", `
ma_url = "http://ma.local:8095"
ma_token = "from-file"
player_id = "kitchen"
input_boolean = "input_boolean.fav"
ha_url = "http://ha.local:8123"
ha_token = "ha-secret"
`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MusicAssistantToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.MusicAssistantToken)
	}
	if cfg.ReconnectDelay != 750*time.Millisecond {
		t.Fatalf("unexpected reconnect delay: %v", cfg.ReconnectDelay)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected request timeout: %v", cfg.RequestTimeout)
	}
}

func TestLoadBridgeConfigMissingFields(t *testing.T) {
	clearBridgeEnv(t)
	path := writeFile(t, "config.toml", `
ma_url = "http://ma.local:8095"
`)

	_, err := LoadBridgeConfig(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, key := range []string{"ma_token", "player_id", "input_boolean", "ha_url", "ha_token"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoadBridgeConfigBadDuration(t *testing.T) {
	clearBridgeEnv(t)
	path := writeFile(t, "config.toml", `
reconnect_delay = "soon"
`)
	if _, err := LoadBridgeConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadBridgeConfigYAMLWithoutApp(t *testing.T) {
	clearBridgeEnv(t)
	path := writeFile(t, "apps.yaml", `
hello_world:
  module: hello
  class: HelloWorld
`)
	if _, err := LoadBridgeConfig(path); err == nil {
		t.Fatalf("expected missing app error")
	}
}

func TestValidateBridgeConfigRejectsForeignEntity(t *testing.T) {
	cfg := DefaultBridgeConfig()
	cfg.MusicAssistantURL = "http://ma"
	cfg.MusicAssistantToken = "t"
	cfg.PlayerID = "p"
	cfg.InputBoolean = "switch.favorite"
	cfg.HomeAssistantURL = "http://ha"
	cfg.HomeAssistantToken = "t"
	if err := ValidateBridgeConfig(cfg); err == nil {
		t.Fatalf("expected entity domain error")
	}
}

func TestLoadBridgeConfigBareSecondDurations(t *testing.T) {
	clearBridgeEnv(t)
	base := `
ma_url = "http://ma.local:8095"
ma_token = "ma-secret"
player_id = "kitchen"
input_boolean = "input_boolean.fav"
ha_url = "http://ha.local:8123"
ha_token = "ha-secret"
`
	cases := []struct {
		name  string
		extra string
		want  time.Duration
	}{
		{"integer", "reconnect_delay = 5\nrequest_timeout = 2\n", 5 * time.Second},
		{"float", "reconnect_delay = 1.5\nrequest_timeout = 2\n", 1500 * time.Millisecond},
		{"string seconds", "reconnect_delay = \"7\"\nrequest_timeout = \"2s\"\n", 7 * time.Second},
	}
	for _, tc := range cases {
		path := writeFile(t, "config.toml", base+tc.extra)
		cfg, err := LoadBridgeConfig(path)
		if err != nil {
			t.Fatalf("%s: load config: %v", tc.name, err)
		}
		if cfg.ReconnectDelay != tc.want || cfg.RequestTimeout != 2*time.Second {
			t.Fatalf("%s: got reconnect=%v timeout=%v", tc.name, cfg.ReconnectDelay, cfg.RequestTimeout)
		}
	}

	yamlPath := writeFile(t, "apps.yaml", `
bragi_sync:
  ma_url: "http://ma.local:8095"
  ma_token: "ma-secret"
  player_id: "kitchen"
  input_boolean: "input_boolean.fav"
  ha_url: "http://ha.local:8123"
  ha_token: "ha-secret"
  reconnect_delay: 5
`)
	cfg, err := LoadBridgeConfig(yamlPath)
	if err != nil {
		t.Fatalf("yaml: load config: %v", err)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("yaml: got reconnect=%v", cfg.ReconnectDelay)
	}
}

func TestParseDurationAcceptsBareSeconds(t *testing.T) {
	cases := map[string]time.Duration{
		"5":     5 * time.Second,
		" 2.5 ": 2500 * time.Millisecond,
		"750ms": 750 * time.Millisecond,
		"1m":    time.Minute,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		if err != nil || got != want {
			t.Fatalf("parseDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseDuration("soon"); err == nil {
		t.Fatalf("expected error for non-duration")
	}
}
