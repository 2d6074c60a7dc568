package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/bragi/internal/config"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		config.Exitf("configgen: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("configgen", flag.ContinueOnError)
	kind := fs.String("kind", config.KindBridge, "config kind: bragisync|bragisync-yaml|albumart")
	output := fs.StringP("out", "o", "", "output path for config template (defaults to per-kind cmd path)")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			p, err := defaultPath(*kind)
			if err != nil {
				return err
			}
			path = p
		}
		if err := validateFile(*kind, path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Validated %s config at %s\n", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		p, err := defaultPath(*kind)
		if err != nil {
			return err
		}
		target = p
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s config template to %s\n", *kind, target)
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindBridge:
		return "cmd/bragisync/config.toml", nil
	case config.KindBridgeYAML:
		return "cmd/bragisync/apps.yaml", nil
	case config.KindAlbumArt:
		return "cmd/albumart/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func validateFile(kind, path string) error {
	switch kind {
	case config.KindBridge, config.KindBridgeYAML:
		_, err := config.LoadBridgeConfig(path)
		return err
	case config.KindAlbumArt:
		cfg, err := config.LoadAlbumArtConfig(path)
		if err != nil {
			return err
		}
		return config.ValidateAlbumArtConfig(cfg)
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}
