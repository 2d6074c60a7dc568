package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// BridgeConfig configures the favorite-sync bridge.
type BridgeConfig struct {
	MusicAssistantURL   string
	MusicAssistantToken string
	PlayerID            string
	InputBoolean        string
	HomeAssistantURL    string
	HomeAssistantToken  string
	ReconnectDelay      time.Duration
	RequestTimeout      time.Duration
	StatusAddr          string
	CorsOrigins         []string
	LogFile             string
}

// fileBridgeConfig mirrors the AppDaemon apps.yaml keys so either format can be used.
type fileBridgeConfig struct {
	MAURL          string   `toml:"ma_url" yaml:"ma_url"`
	MAToken        string   `toml:"ma_token" yaml:"ma_token"`
	PlayerID       string   `toml:"player_id" yaml:"player_id"`
	InputBoolean   string   `toml:"input_boolean" yaml:"input_boolean"`
	HAURL          string   `toml:"ha_url" yaml:"ha_url"`
	HAToken        string   `toml:"ha_token" yaml:"ha_token"`
	ReconnectDelay duration `toml:"reconnect_delay" yaml:"reconnect_delay"`
	RequestTimeout duration `toml:"request_timeout" yaml:"request_timeout"`
	StatusAddr     string   `toml:"status_addr" yaml:"status_addr"`
	CorsOrigins    []string `toml:"cors_origins" yaml:"cors_origins"`
	LogFile        string   `toml:"log_file" yaml:"log_file"`
}

// DefaultAppName is the apps.yaml key the original AppDaemon app was registered under.
const DefaultAppName = "bragi_sync"

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ReconnectDelay: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		CorsOrigins:    []string{},
	}
}

// LoadBridgeConfig reads a .toml or .yaml/.yml file, overlays env, and validates.
func LoadBridgeConfig(path string) (BridgeConfig, error) {
	cfg := DefaultBridgeConfig()

	var (
		raw     fileBridgeConfig
		defined func(key string) bool
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, defined, err = decodeBridgeYAML(path)
	default:
		raw, defined, err = decodeBridgeTOML(path)
	}
	if err != nil {
		return BridgeConfig{}, err
	}
	applyBridgeFile(&cfg, raw, defined)
	if err := ApplyBridgeEnv(&cfg); err != nil {
		return BridgeConfig{}, err
	}
	if err := ValidateBridgeConfig(cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

func decodeBridgeTOML(path string) (fileBridgeConfig, func(string) bool, error) {
	var raw fileBridgeConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fileBridgeConfig{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return raw, func(key string) bool { return meta.IsDefined(key) }, nil
}

// decodeBridgeYAML accepts either a flat document or an AppDaemon apps.yaml
// with the settings nested under an app name.
func decodeBridgeYAML(path string) (fileBridgeConfig, func(string) bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileBridgeConfig{}, nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fileBridgeConfig{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	var node yaml.Node
	if _, flat := doc["ma_url"]; flat {
		if err := yaml.Unmarshal(data, &node); err != nil {
			return fileBridgeConfig{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if len(node.Content) > 0 {
			node = *node.Content[0]
		}
	} else {
		app, ok := pickApp(doc)
		if !ok {
			return fileBridgeConfig{}, nil, fmt.Errorf("config parse failed (%s): no %s app found", path, DefaultAppName)
		}
		node = app
	}

	var raw fileBridgeConfig
	if err := node.Decode(&raw); err != nil {
		return fileBridgeConfig{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	var keys map[string]any
	if err := node.Decode(&keys); err != nil {
		return fileBridgeConfig{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return raw, func(key string) bool {
		_, ok := keys[key]
		return ok
	}, nil
}

func pickApp(doc map[string]yaml.Node) (yaml.Node, bool) {
	if app, ok := doc[DefaultAppName]; ok && app.Kind == yaml.MappingNode {
		return app, true
	}
	for _, app := range doc {
		if app.Kind != yaml.MappingNode {
			continue
		}
		var probe struct {
			Class string `yaml:"class"`
		}
		if err := app.Decode(&probe); err == nil && probe.Class == "BragiSync" {
			return app, true
		}
	}
	return yaml.Node{}, false
}

func applyBridgeFile(cfg *BridgeConfig, raw fileBridgeConfig, defined func(string) bool) {
	if defined("ma_url") {
		cfg.MusicAssistantURL = strings.TrimSpace(raw.MAURL)
	}
	if defined("ma_token") {
		cfg.MusicAssistantToken = strings.TrimSpace(raw.MAToken)
	}
	if defined("player_id") {
		cfg.PlayerID = strings.TrimSpace(raw.PlayerID)
	}
	if defined("input_boolean") {
		cfg.InputBoolean = strings.TrimSpace(raw.InputBoolean)
	}
	if defined("ha_url") {
		cfg.HomeAssistantURL = strings.TrimSpace(raw.HAURL)
	}
	if defined("ha_token") {
		cfg.HomeAssistantToken = strings.TrimSpace(raw.HAToken)
	}
	if defined("reconnect_delay") {
		cfg.ReconnectDelay = time.Duration(raw.ReconnectDelay)
	}
	if defined("request_timeout") {
		cfg.RequestTimeout = time.Duration(raw.RequestTimeout)
	}
	if defined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if defined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if defined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
}

func ValidateBridgeConfig(cfg BridgeConfig) error {
	missing := make([]string, 0, 6)
	if strings.TrimSpace(cfg.MusicAssistantURL) == "" {
		missing = append(missing, "ma_url")
	}
	if strings.TrimSpace(cfg.MusicAssistantToken) == "" {
		missing = append(missing, "ma_token")
	}
	if strings.TrimSpace(cfg.PlayerID) == "" {
		missing = append(missing, "player_id")
	}
	if strings.TrimSpace(cfg.InputBoolean) == "" {
		missing = append(missing, "input_boolean")
	}
	if strings.TrimSpace(cfg.HomeAssistantURL) == "" {
		missing = append(missing, "ha_url")
	}
	if strings.TrimSpace(cfg.HomeAssistantToken) == "" {
		missing = append(missing, "ha_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("bridge config missing required parameters: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(cfg.InputBoolean, "input_boolean.") {
		return fmt.Errorf("bridge config input_boolean must be an input_boolean entity: %q", cfg.InputBoolean)
	}
	if cfg.ReconnectDelay <= 0 {
		return fmt.Errorf("bridge config reconnect_delay must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("bridge config request_timeout must be positive")
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
