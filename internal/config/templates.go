package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindBridge     = "bragisync"
	KindBridgeYAML = "bragisync-yaml"
	KindAlbumArt   = "albumart"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindBridge:
		return bridgeTemplate, nil
	case KindBridgeYAML:
		return bridgeYAMLTemplate, nil
	case KindAlbumArt:
		return albumArtTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `ma_url = "http://music-assistant.local:8095"
ma_token = "YOUR_LONG_LIVED_TOKEN"
player_id = "player-id"
input_boolean = "input_boolean.current_track_is_favorite"

ha_url = "http://homeassistant.local:8123"
ha_token = "YOUR_HA_LONG_LIVED_TOKEN"

reconnect_delay = "5s"
request_timeout = "10s"
status_addr = "127.0.0.1:9130"
cors_origins = ["http://homeassistant.local:8123"]
`

const bridgeYAMLTemplate = `bragi_sync:
  module: bragi_sync
  class: BragiSync
  ma_url: "http://music-assistant.local:8095"
  ma_token: "YOUR_LONG_LIVED_TOKEN"
  player_id: "player-id"
  input_boolean: "input_boolean.current_track_is_favorite"
  ha_url: "http://homeassistant.local:8123"
  ha_token: "YOUR_HA_LONG_LIVED_TOKEN"
  reconnect_delay: "5s"
`

const albumArtTemplate = `cache_dir = "/config/www/media/album_art"
format = "jpeg"
size = 110
colors = 256
jpeg_quality = 50
byte_order = "big"
max_payload_bytes = 50000
attempts = 3
initial_delay = "1s"
max_delay = "8s"
request_timeout = "10s"
log_file = "/config/www/media/album_art/resize_debug.log"
`
