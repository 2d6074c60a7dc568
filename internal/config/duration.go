package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// duration decodes Go duration strings or bare numbers of seconds from TOML,
// YAML and env, the way the AppDaemon app read reconnect_delay.
type duration time.Duration

func (d *duration) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		*d = duration(time.Duration(x) * time.Second)
	case float64:
		*d = duration(x * float64(time.Second))
	case string:
		return d.UnmarshalText([]byte(x))
	default:
		return fmt.Errorf("unsupported duration value %v (%T)", v, v)
	}
	return nil
}

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// parseDuration accepts Go durations and bare numbers of seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}
