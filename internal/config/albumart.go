package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	FormatJPEG   = "jpeg"
	FormatRGB565 = "rgb565"

	ByteOrderBig    = "big"
	ByteOrderLittle = "little"

	// MaxDownloadAttempts bounds how many times a single image URL is requested.
	MaxDownloadAttempts = 3
)

// AlbumArtConfig configures the album-art cache utility.
type AlbumArtConfig struct {
	CacheDir        string
	Format          string
	Size            int
	Colors          int
	JPEGQuality     int
	ByteOrder       string
	MaxPayloadBytes int
	Attempts        int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	RequestTimeout  time.Duration
	UserAgent       string
	LogFile         string
}

type fileAlbumArtConfig struct {
	CacheDir        string `toml:"cache_dir"`
	Format          string `toml:"format"`
	Size            int    `toml:"size"`
	Colors          int    `toml:"colors"`
	JPEGQuality     int    `toml:"jpeg_quality"`
	ByteOrder       string `toml:"byte_order"`
	MaxPayloadBytes int    `toml:"max_payload_bytes"`
	Attempts        int    `toml:"attempts"`
	InitialDelay    duration `toml:"initial_delay"`
	MaxDelay        duration `toml:"max_delay"`
	RequestTimeout  duration `toml:"request_timeout"`
	UserAgent       string `toml:"user_agent"`
	LogFile         string `toml:"log_file"`
}

func DefaultAlbumArtConfig() AlbumArtConfig {
	return AlbumArtConfig{
		CacheDir:        "/config/www/media/album_art",
		Format:          FormatJPEG,
		Size:            110,
		Colors:          256,
		JPEGQuality:     50,
		ByteOrder:       ByteOrderBig,
		MaxPayloadBytes: 50000,
		Attempts:        MaxDownloadAttempts,
		InitialDelay:    time.Second,
		MaxDelay:        8 * time.Second,
		RequestTimeout:  10 * time.Second,
		UserAgent:       "bragi-albumart/1.0",
	}
}

// LoadAlbumArtConfig applies an optional TOML file and env on top of defaults.
// An empty path skips the file.
func LoadAlbumArtConfig(path string) (AlbumArtConfig, error) {
	cfg := DefaultAlbumArtConfig()
	if strings.TrimSpace(path) != "" {
		var raw fileAlbumArtConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return AlbumArtConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		applyAlbumArtFile(&cfg, raw, meta)
	}
	if err := ApplyAlbumArtEnv(&cfg); err != nil {
		return AlbumArtConfig{}, err
	}
	return cfg, nil
}

func applyAlbumArtFile(cfg *AlbumArtConfig, raw fileAlbumArtConfig, meta toml.MetaData) {
	if meta.IsDefined("cache_dir") {
		cfg.CacheDir = strings.TrimSpace(raw.CacheDir)
	}
	if meta.IsDefined("format") {
		cfg.Format = strings.ToLower(strings.TrimSpace(raw.Format))
	}
	if meta.IsDefined("size") {
		cfg.Size = raw.Size
	}
	if meta.IsDefined("colors") {
		cfg.Colors = raw.Colors
	}
	if meta.IsDefined("jpeg_quality") {
		cfg.JPEGQuality = raw.JPEGQuality
	}
	if meta.IsDefined("byte_order") {
		cfg.ByteOrder = strings.ToLower(strings.TrimSpace(raw.ByteOrder))
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("attempts") {
		cfg.Attempts = raw.Attempts
	}
	for _, d := range []struct {
		key string
		raw duration
		dst *time.Duration
	}{
		{"initial_delay", raw.InitialDelay, &cfg.InitialDelay},
		{"max_delay", raw.MaxDelay, &cfg.MaxDelay},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
	} {
		if meta.IsDefined(d.key) {
			*d.dst = time.Duration(d.raw)
		}
	}
	if meta.IsDefined("user_agent") {
		cfg.UserAgent = strings.TrimSpace(raw.UserAgent)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
}

func ValidateAlbumArtConfig(cfg AlbumArtConfig) error {
	if strings.TrimSpace(cfg.CacheDir) == "" {
		return fmt.Errorf("albumart config missing cache_dir")
	}
	switch cfg.Format {
	case FormatJPEG, FormatRGB565:
	default:
		return fmt.Errorf("albumart config unknown format %q", cfg.Format)
	}
	switch cfg.ByteOrder {
	case ByteOrderBig, ByteOrderLittle:
	default:
		return fmt.Errorf("albumart config unknown byte_order %q", cfg.ByteOrder)
	}
	if cfg.Size <= 0 {
		return fmt.Errorf("albumart config size must be positive")
	}
	if cfg.Colors < 2 || cfg.Colors > 256 {
		return fmt.Errorf("albumart config colors must be within 2..256")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return fmt.Errorf("albumart config jpeg_quality must be within 1..100")
	}
	if cfg.Attempts < 1 || cfg.Attempts > MaxDownloadAttempts {
		return fmt.Errorf("albumart config attempts must be within 1..%d", MaxDownloadAttempts)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("albumart config request_timeout must be positive")
	}
	return nil
}
