package musicassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

var (
	ErrURLRequired        = errors.New("musicassistant: server url required")
	ErrUnexpectedGreeting = errors.New("musicassistant: unexpected server greeting")
	ErrAuthFailed         = errors.New("musicassistant: authentication failed")
	ErrClosed             = errors.New("musicassistant: client closed")
)

// Config configures one websocket connection to a Music Assistant server.
type Config struct {
	URL            string
	Token          string
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	return c
}

// Handler receives pushed events. It runs on the read loop and must not block;
// spawn a goroutine for anything slow.
type Handler func(Event)

type subscription struct {
	handler Handler
	types   map[EventType]struct{}
}

func (s subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type reply struct {
	result json.RawMessage
	err    error
}

type pendingCommand struct {
	command string
	parts   []json.RawMessage
	done    chan reply
}

// Client is a live Music Assistant websocket session.
type Client struct {
	cfg  Config
	conn *websocket.Conn
	info ServerInfo

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCommand
	subs    map[int]subscription
	nextSub int

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial opens the websocket, reads the server greeting and authenticates when
// a token is configured.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	wsURL, origin, err := WebsocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	wsCfg, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, fmt.Errorf("musicassistant: websocket config: %w", err)
	}
	wsCfg.Dialer = &net.Dialer{Timeout: cfg.DialTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := wsCfg.DialContext(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("musicassistant: dial %s: %w", wsURL, err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		pending: make(map[string]*pendingCommand),
		subs:    make(map[int]subscription),
		closed:  make(chan struct{}),
	}
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	var info ServerInfo
	if err := websocket.JSON.Receive(c.conn, &info); err != nil {
		return fmt.Errorf("musicassistant: read server info: %w", err)
	}
	if info.ServerID == "" && info.ServerVersion == "" {
		return ErrUnexpectedGreeting
	}
	c.info = info
	log.Debug().
		Str("server_id", info.ServerID).
		Str("version", info.ServerVersion).
		Int("schema", info.SchemaVersion).
		Msg("musicassistant server info")

	if strings.TrimSpace(c.cfg.Token) == "" {
		return nil
	}
	return c.authenticate()
}

// authenticate runs before the read loop starts, so it reads its own reply
// and drops anything else that arrives first.
func (c *Client) authenticate() error {
	id := uuid.NewString()
	msg := commandMessage{MessageID: id, Command: "auth", Args: map[string]any{"token": c.cfg.Token}}
	if err := c.send(msg); err != nil {
		return fmt.Errorf("musicassistant: send auth: %w", err)
	}
	for {
		var raw []byte
		if err := websocket.Message.Receive(c.conn, &raw); err != nil {
			return fmt.Errorf("musicassistant: read auth reply: %w", err)
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.id() != id {
			continue
		}
		if msg.ErrorCode != nil {
			return fmt.Errorf("%w: %w", ErrAuthFailed, &CommandError{Command: "auth", Code: *msg.ErrorCode, Details: msg.Details})
		}
		return nil
	}
}

// Info returns the server greeting received during Dial.
func (c *Client) Info() ServerInfo {
	return c.info
}

// Subscribe registers h for the given event types, or for all events when
// none are given. The returned func removes the subscription.
func (c *Client) Subscribe(h Handler, types ...EventType) func() {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = subscription{handler: h, types: set}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Listen runs the read loop until the connection drops or ctx ends. Command
// replies are only delivered while Listen is running.
func (c *Client) Listen(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	for {
		var raw []byte
		if err := websocket.Message.Receive(c.conn, &raw); err != nil {
			c.failPending(err)
			_ = c.Close()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("musicassistant: connection lost: %w", err)
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Int("bytes", len(raw)).Msg("musicassistant dropped malformed message")
			continue
		}
		c.route(msg)
	}
}

func (c *Client) route(msg inbound) {
	if id := msg.id(); id != "" {
		c.resolve(id, msg)
		return
	}
	if msg.Event == "" {
		return
	}
	event := Event{Event: msg.Event, ObjectID: msg.ObjectID, Data: msg.Data}

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.wants(event.Event) {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *Client) resolve(id string, msg inbound) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if msg.Partial && msg.ErrorCode == nil {
		p.parts = append(p.parts, msg.Result)
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	if msg.ErrorCode != nil {
		p.done <- reply{err: &CommandError{Command: p.command, Code: *msg.ErrorCode, Details: msg.Details}}
		return
	}
	result, err := mergePartials(p.parts, msg.Result)
	p.done <- reply{result: result, err: err}
}

// mergePartials concatenates chunked list results into one JSON array.
func mergePartials(parts []json.RawMessage, last json.RawMessage) (json.RawMessage, error) {
	if len(parts) == 0 {
		return last, nil
	}
	var all []json.RawMessage
	for _, part := range append(parts, last) {
		if len(part) == 0 || string(part) == "null" {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(part, &items); err != nil {
			return nil, fmt.Errorf("musicassistant: merge partial result: %w", err)
		}
		all = append(all, items...)
	}
	merged, err := json.Marshal(all)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Client) failPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCommand)
	c.mu.Unlock()
	for _, p := range pending {
		p.done <- reply{err: fmt.Errorf("%w: %v", ErrClosed, cause)}
	}
}

// SendCommand sends one command and decodes its result into out (if non-nil).
func (c *Client) SendCommand(ctx context.Context, command string, args map[string]any, out any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	id := uuid.NewString()
	p := &pendingCommand{command: command, done: make(chan reply, 1)}
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(commandMessage{MessageID: id, Command: command, Args: args}); err != nil {
		return fmt.Errorf("musicassistant: send %s: %w", command, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	select {
	case r := <-p.done:
		if r.err != nil {
			return r.err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(r.result, out); err != nil {
			return fmt.Errorf("musicassistant: decode %s result: %w", command, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("musicassistant: %s: %w", command, ctx.Err())
	case <-c.closed:
		return ErrClosed
	}
}

// GetItem fetches a single library item.
func (c *Client) GetItem(ctx context.Context, mediaType, itemID, provider string) (MediaItem, error) {
	var item MediaItem
	err := c.SendCommand(ctx, "music/item", map[string]any{
		"media_type":                     mediaType,
		"item_id":                        itemID,
		"provider_instance_id_or_domain": provider,
	}, &item)
	if err != nil {
		return MediaItem{}, err
	}
	return item, nil
}

func (c *Client) send(msg commandMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// Close tears down the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// WebsocketURL maps a server base URL (http, https, ws or wss) onto the /ws
// endpoint and an origin for the handshake.
func WebsocketURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("musicassistant: parse url: %w", err)
	}
	origin := *u
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws":
		origin.Scheme = "http"
	case "wss":
		origin.Scheme = "https"
	default:
		return "", "", fmt.Errorf("musicassistant: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("musicassistant: url missing host: %q", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	origin.Path = ""
	origin.RawQuery = ""
	return u.String(), origin.String(), nil
}
