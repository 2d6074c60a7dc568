package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/bragi/internal/albumart"
	"github.com/danmuck/bragi/internal/config"
	"github.com/danmuck/bragi/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	url        string
	artist     string
	album      string
	title      string
	cacheDir   string
	format     string
	byteOrder  string
	logFile    string
	size       int
	colors     int
	quality    int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "albumart URL [ARTIST [ALBUM [TITLE]]]",
		Short: "Download, resize and cache album art for a small display",
		Long: `Resolves album art to a file in the cache directory and prints
CACHE_KEY:<key> on success. Cached art is never downloaded again.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, opts, args, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "optional TOML config file")
	f.StringVar(&opts.url, "url", "", "image URL (overrides the first positional)")
	f.StringVar(&opts.artist, "artist", "", "artist name")
	f.StringVar(&opts.album, "album", "", "album name")
	f.StringVar(&opts.title, "title", "", "track title, used when the album is unknown")
	f.StringVar(&opts.cacheDir, "cache-dir", "", "cache directory")
	f.StringVar(&opts.format, "format", "", "output format: jpeg|rgb565")
	f.StringVar(&opts.byteOrder, "byte-order", "", "rgb565 byte order: big|little")
	f.StringVar(&opts.logFile, "log-file", "", "append logs to this file")
	f.IntVar(&opts.size, "size", 0, "output width and height in pixels")
	f.IntVar(&opts.colors, "colors", 0, "palette size, 2..256")
	f.IntVar(&opts.quality, "quality", 0, "jpeg quality, 1..100")
	return cmd
}

func resolve(cmd *cobra.Command, opts options, args []string, stdout, stderr io.Writer) (err error) {
	cfg, err := config.LoadAlbumArtConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, &cfg)
	if err := config.ValidateAlbumArtConfig(cfg); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(logging.ProfileCLI, "albumart")
	logCfg.Out = stderr
	logCfg.File = cfg.LogFile
	logging.ApplyEnvOverrides(&logCfg)
	if _, err := logging.Setup(logCfg); err != nil {
		log.Warn().Err(err).Str("file", logCfg.File).Msg("log file disabled")
	}
	defer logging.Close()
	defer func() {
		if err != nil {
			log.Error().Err(err).Msg("album art failed")
		}
	}()

	req := requestFromArgs(cmd, opts, args)
	res, err := albumart.NewServiceFromConfig(cfg, nil).Resolve(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "CACHE_KEY:%s\n", res.Key)
	log.Info().Str("key", res.Key).Bool("cached", res.Cached).Msg("success")
	return nil
}

func applyFlags(cmd *cobra.Command, opts options, cfg *config.AlbumArtConfig) {
	flags := cmd.Flags()
	if flags.Changed("cache-dir") {
		cfg.CacheDir = strings.TrimSpace(opts.cacheDir)
	}
	if flags.Changed("format") {
		cfg.Format = strings.ToLower(strings.TrimSpace(opts.format))
	}
	if flags.Changed("byte-order") {
		cfg.ByteOrder = strings.ToLower(strings.TrimSpace(opts.byteOrder))
	}
	if flags.Changed("log-file") {
		cfg.LogFile = strings.TrimSpace(opts.logFile)
	}
	if flags.Changed("size") {
		cfg.Size = opts.size
	}
	if flags.Changed("colors") {
		cfg.Colors = opts.colors
	}
	if flags.Changed("quality") {
		cfg.JPEGQuality = opts.quality
	}
}

// requestFromArgs fills URL, artist, album and title from positionals, then
// lets explicit flags win. Positionals past the fourth are ignored. Names that
// were not supplied at all become "unknown"; supplied empty strings stay empty.
func requestFromArgs(cmd *cobra.Command, opts options, args []string) albumart.Request {
	req := albumart.Request{Artist: albumart.Unknown, Album: albumart.Unknown, Title: albumart.Unknown}
	fields := []*string{&req.URL, &req.Artist, &req.Album, &req.Title}
	if len(args) > len(fields) {
		log.Debug().Strs("ignored", args[len(fields):]).Msg("extra arguments")
		args = args[:len(fields)]
	}
	for i, arg := range args {
		*fields[i] = arg
	}
	flags := cmd.Flags()
	for _, f := range []struct {
		name string
		val  string
		dst  *string
	}{
		{"url", opts.url, &req.URL},
		{"artist", opts.artist, &req.Artist},
		{"album", opts.album, &req.Album},
		{"title", opts.title, &req.Title},
	} {
		if flags.Changed(f.name) {
			*f.dst = f.val
		}
	}
	return req
}
