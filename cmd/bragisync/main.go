package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/bragi/internal/config"
	"github.com/danmuck/bragi/internal/favsync"
	"github.com/danmuck/bragi/internal/logging"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const defaultConfigPath = "cmd/bragisync/config.toml"

func main() {
	configPath := flag.StringP("config", "c", defaultConfigPath, "bridge config (.toml, or AppDaemon .yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		config.Exitf("bragisync: %v", err)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.LoadBridgeConfig(path)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		log.Warn().Err(err).Str("file", cfg.LogFile).Msg("log file disabled")
	}
	defer logging.Close()

	bridge, err := favsync.New(cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("config", path).
		Str("player", cfg.PlayerID).
		Str("entity", cfg.InputBoolean).
		Str("status_addr", cfg.StatusAddr).
		Msg("bragisync starting")
	return bridge.Serve(ctx)
}

func setupLogging(cfg config.BridgeConfig) error {
	logCfg := logging.DefaultConfig(logging.ProfileRuntime, config.DefaultAppName)
	logCfg.File = cfg.LogFile
	logging.ApplyEnvOverrides(&logCfg)
	_, err := logging.Setup(logCfg)
	return err
}
