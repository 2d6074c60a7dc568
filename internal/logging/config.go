package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "BRAGI_LOG_LEVEL"
	EnvLogTimestamp = "BRAGI_LOG_TIMESTAMP"
	EnvLogNoColor   = "BRAGI_LOG_NOCOLOR"
	EnvLogFile      = "BRAGI_LOG_FILE"
)

type Profile int

const (
	// ProfileRuntime logs to stdout for long-running daemons.
	ProfileRuntime Profile = iota
	// ProfileCLI logs to stderr so stdout stays reserved for command output.
	ProfileCLI
	ProfileTest
)

// Config is the resolved logger setup for one process.
type Config struct {
	App       string
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// File, when set, receives a copy of every log line (append mode).
	File string
	Out  io.Writer
}

var (
	configureOnce sync.Once
	fileMu        sync.Mutex
	openFile      *os.File
)

func ConfigureRuntime(app string) {
	Configure(ProfileRuntime, app)
}

func ConfigureTests() {
	Configure(ProfileTest, "test")
}

// Configure installs the global logger once per process. Failures opening the
// log file fall back to console-only output.
func Configure(profile Profile, app string) {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile, app)
		ApplyEnvOverrides(&cfg)
		if _, err := Setup(cfg); err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("log file disabled")
		}
	})
}

func DefaultConfig(profile Profile, app string) Config {
	cfg := Config{App: app}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
		cfg.Out = os.Stderr
	case ProfileCLI:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
		cfg.Out = os.Stderr
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
		cfg.Out = os.Stdout
	}
	return cfg
}

// Setup builds the logger described by cfg and installs it as log.Logger.
// It is not guarded by Configure's once, so CLIs can call it after flag parsing.
func Setup(cfg Config) (zerolog.Logger, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{consoleWriter(out, cfg.NoColor)}

	var fileErr error
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			fileErr = err
		} else {
			writers = append(writers, consoleWriter(f, true))
		}
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	zerolog.SetGlobalLevel(cfg.Level)
	return logger, fileErr
}

// Close releases the log file opened by Setup, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if openFile == nil {
		return nil
	}
	err := openFile.Close()
	openFile = nil
	return err
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: time.DateTime,
	}
}

func openLogFile(path string) (*os.File, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if openFile != nil {
		_ = openFile.Close()
		openFile = nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	openFile = f
	return f, nil
}

func ApplyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.File = v
	}
}

// ParseLevel maps user-facing level names onto zerolog levels.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
