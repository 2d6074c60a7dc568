package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// SupervisorURL is the Core API proxy reachable from inside a Home Assistant add-on.
const SupervisorURL = "http://supervisor/core"

type bridgeEnv struct {
	MAURL           string   `env:"BRAGI_MA_URL"`
	MAToken         string   `env:"BRAGI_MA_TOKEN"`
	PlayerID        string   `env:"BRAGI_PLAYER_ID"`
	InputBoolean    string   `env:"BRAGI_INPUT_BOOLEAN"`
	HAURL           string   `env:"BRAGI_HA_URL"`
	HAToken         string   `env:"BRAGI_HA_TOKEN"`
	ReconnectDelay  duration `env:"BRAGI_RECONNECT_DELAY"`
	RequestTimeout  duration `env:"BRAGI_REQUEST_TIMEOUT"`
	StatusAddr      string   `env:"BRAGI_STATUS_ADDR"`
	SupervisorToken string   `env:"SUPERVISOR_TOKEN"`
}

type albumArtEnv struct {
	CacheDir  string `env:"ALBUMART_CACHE_DIR"`
	Format    string `env:"ALBUMART_FORMAT"`
	Size      int    `env:"ALBUMART_SIZE"`
	Colors    int    `env:"ALBUMART_COLORS"`
	Quality   int    `env:"ALBUMART_QUALITY"`
	ByteOrder string `env:"ALBUMART_BYTE_ORDER"`
	LogFile   string `env:"ALBUMART_LOG_FILE"`
	UserAgent string `env:"ALBUMART_USER_AGENT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyBridgeEnv overlays set environment variables onto cfg. Inside a Home
// Assistant add-on the supervisor token and proxy URL fill in missing HA settings.
func ApplyBridgeEnv(cfg *BridgeConfig) error {
	var e bridgeEnv
	if err := ParseEnv(&e); err != nil {
		return err
	}
	setString(&cfg.MusicAssistantURL, e.MAURL)
	setString(&cfg.MusicAssistantToken, e.MAToken)
	setString(&cfg.PlayerID, e.PlayerID)
	setString(&cfg.InputBoolean, e.InputBoolean)
	setString(&cfg.HomeAssistantURL, e.HAURL)
	setString(&cfg.HomeAssistantToken, e.HAToken)
	setString(&cfg.StatusAddr, e.StatusAddr)
	setDuration(&cfg.ReconnectDelay, e.ReconnectDelay)
	setDuration(&cfg.RequestTimeout, e.RequestTimeout)

	if token := strings.TrimSpace(e.SupervisorToken); token != "" {
		if strings.TrimSpace(cfg.HomeAssistantToken) == "" {
			cfg.HomeAssistantToken = token
		}
		if strings.TrimSpace(cfg.HomeAssistantURL) == "" {
			cfg.HomeAssistantURL = SupervisorURL
		}
	}
	return nil
}

// ApplyAlbumArtEnv overlays set environment variables onto cfg.
func ApplyAlbumArtEnv(cfg *AlbumArtConfig) error {
	var e albumArtEnv
	if err := ParseEnv(&e); err != nil {
		return err
	}
	setString(&cfg.CacheDir, e.CacheDir)
	setString(&cfg.Format, strings.ToLower(e.Format))
	setString(&cfg.ByteOrder, strings.ToLower(e.ByteOrder))
	setString(&cfg.LogFile, e.LogFile)
	setString(&cfg.UserAgent, e.UserAgent)
	setInt(&cfg.Size, e.Size)
	setInt(&cfg.Colors, e.Colors)
	setInt(&cfg.JPEGQuality, e.Quality)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Zero numeric values mean unset. Validation rejects zero for each of them.
func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}
