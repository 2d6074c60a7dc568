package musicassistant

import (
	"encoding/json"
	"fmt"
)

// EventType names a Music Assistant server event.
type EventType string

const (
	EventMediaItemUpdated EventType = "media_item_updated"
	EventMediaItemAdded   EventType = "media_item_added"
	EventPlayerUpdated    EventType = "player_updated"
	EventQueueUpdated     EventType = "queue_updated"
	EventShutdown         EventType = "shutdown"
)

// ServerInfo is the greeting the server sends right after the websocket opens.
type ServerInfo struct {
	ServerID                  string `json:"server_id"`
	ServerVersion             string `json:"server_version"`
	SchemaVersion             int    `json:"schema_version"`
	MinSupportedSchemaVersion int    `json:"min_supported_schema_version"`
	BaseURL                   string `json:"base_url"`
	HomeAssistantAddon        bool   `json:"homeassistant_addon"`
	OnboardDone               bool   `json:"onboard_done"`
}

// Event is one pushed server event. Data stays raw until a handler decodes it.
type Event struct {
	Event    EventType       `json:"event"`
	ObjectID string          `json:"object_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the event payload into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("musicassistant: event %s has no data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("musicassistant: decode %s data: %w", e.Event, err)
	}
	return nil
}

// MediaItem is the part of a library item the bridge cares about.
type MediaItem struct {
	ItemID    string `json:"item_id"`
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	URI       string `json:"uri"`
	MediaType string `json:"media_type"`
	Favorite  bool   `json:"favorite"`
}

// PlayerMedia describes what a player is currently playing.
type PlayerMedia struct {
	URI       string `json:"uri"`
	MediaType string `json:"media_type"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	ImageURL  string `json:"image_url"`
}

// Player is the part of a player_updated payload the bridge reads.
type Player struct {
	PlayerID     string       `json:"player_id"`
	DisplayName  string       `json:"display_name"`
	Available    bool         `json:"available"`
	CurrentMedia *PlayerMedia `json:"current_media"`
}

// CommandError is an error_code reply to a command.
type CommandError struct {
	Command string
	Code    int
	Details string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("musicassistant: command %s failed: code=%d details=%q", e.Command, e.Code, e.Details)
}

type commandMessage struct {
	MessageID string         `json:"message_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
}

// inbound covers every shape the server sends: results, errors, events and
// the server-info greeting.
type inbound struct {
	MessageID json.RawMessage `json:"message_id"`
	Result    json.RawMessage `json:"result"`
	Partial   bool            `json:"partial"`
	ErrorCode *int            `json:"error_code"`
	Details   string          `json:"details"`
	Event     EventType       `json:"event"`
	ObjectID  string          `json:"object_id"`
	Data      json.RawMessage `json:"data"`
	ServerID  string          `json:"server_id"`
}

func (m inbound) id() string {
	if len(m.MessageID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.MessageID, &s); err == nil {
		return s
	}
	return string(m.MessageID)
}
