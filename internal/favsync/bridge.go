package favsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/bragi/internal/backoff"
	"github.com/danmuck/bragi/internal/config"
	"github.com/danmuck/bragi/internal/homeassistant"
	"github.com/danmuck/bragi/internal/musicassistant"
	"github.com/danmuck/bragi/internal/observability"
	"github.com/rs/zerolog/log"
)

var ErrSessionClosed = errors.New("favsync: music assistant session closed")

// Session is one live Music Assistant connection.
type Session interface {
	Subscribe(h musicassistant.Handler, types ...musicassistant.EventType) func()
	Listen(ctx context.Context) error
	GetItem(ctx context.Context, mediaType, itemID, provider string) (musicassistant.MediaItem, error)
	Close() error
}

// Switch is the Home Assistant side of the bridge.
type Switch interface {
	SetInputBoolean(ctx context.Context, entityID string, on bool) error
	State(ctx context.Context, entityID string) (homeassistant.EntityState, error)
}

// DialFunc opens a new Music Assistant session.
type DialFunc func(ctx context.Context) (Session, error)

type Option func(*Bridge)

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(b *Bridge) { b.dial = dial }
}

// WithSwitch replaces the Home Assistant REST client.
func WithSwitch(sw Switch) Option {
	return func(b *Bridge) { b.ha = sw }
}

// WithHTTPClient sets the client used for Home Assistant calls.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) { b.httpClient = c }
}

// Bridge mirrors the favorite flag of the configured player's current item
// onto a Home Assistant input_boolean.
type Bridge struct {
	cfg        config.BridgeConfig
	dial       DialFunc
	ha         Switch
	httpClient *http.Client
	started    time.Time

	mu        sync.Mutex
	last      *bool
	connected bool

	handlers sync.WaitGroup
}

func New(cfg config.BridgeConfig, opts ...Option) (*Bridge, error) {
	if err := config.ValidateBridgeConfig(cfg); err != nil {
		return nil, err
	}
	b := &Bridge{cfg: cfg, started: time.Now()}
	for _, opt := range opts {
		opt(b)
	}
	if b.dial == nil {
		maCfg := musicassistant.Config{
			URL:            cfg.MusicAssistantURL,
			Token:          cfg.MusicAssistantToken,
			DialTimeout:    cfg.RequestTimeout,
			CommandTimeout: cfg.RequestTimeout,
		}
		b.dial = func(ctx context.Context) (Session, error) {
			client, err := musicassistant.Dial(ctx, maCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}
	if b.ha == nil {
		client, err := homeassistant.NewClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken, b.httpClient, cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
		b.ha = client
	}
	return b, nil
}

// Run keeps a session open until ctx is cancelled, waiting a fixed delay
// between connection attempts. It returns nil once in-flight handlers finish.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.handlers.Wait()

	log.Info().
		Str("player", b.cfg.PlayerID).
		Str("entity", b.cfg.InputBoolean).
		Msg("favorite sync initialized")
	b.seedState(ctx)

	delay := backoff.Fixed(b.cfg.ReconnectDelay)
	attempt := 0
	for {
		if ctx.Err() != nil {
			break
		}
		connected, err := b.runSession(ctx)
		if ctx.Err() != nil {
			break
		}
		if connected {
			attempt = 0
		}
		attempt++
		observability.RecordReconnect(b.cfg.PlayerID)
		wait := backoff.NextDelay(delay, attempt)
		log.Error().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("music assistant connection error")
		if err := backoff.Sleep(ctx, wait); err != nil {
			break
		}
	}
	log.Info().Str("player", b.cfg.PlayerID).Msg("favorite sync stopped")
	return nil
}

func (b *Bridge) runSession(ctx context.Context) (bool, error) {
	log.Info().Str("url", b.cfg.MusicAssistantURL).Msg("connecting to music assistant")
	sess, err := b.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()

	unsubscribe := sess.Subscribe(
		b.dispatch(ctx, sess),
		musicassistant.EventMediaItemUpdated,
		musicassistant.EventPlayerUpdated,
	)
	defer unsubscribe()

	b.setConnected(true)
	defer b.setConnected(false)
	log.Info().Msg("connected to music assistant, monitoring player updates and favorite changes")

	if err := sess.Listen(ctx); err != nil {
		return true, err
	}
	return true, ErrSessionClosed
}

// dispatch hands each event to its own goroutine. Handlers share nothing but
// the last pushed state, so arrival order is the only ordering there is.
func (b *Bridge) dispatch(ctx context.Context, sess Session) musicassistant.Handler {
	return func(event musicassistant.Event) {
		observability.RecordSyncEvent(b.cfg.PlayerID, string(event.Event))
		b.handlers.Add(1)
		go func() {
			defer b.handlers.Done()
			switch event.Event {
			case musicassistant.EventMediaItemUpdated:
				b.onMediaItemUpdated(ctx, event)
			case musicassistant.EventPlayerUpdated:
				b.onPlayerUpdated(ctx, sess, event)
			}
		}()
	}
}

func (b *Bridge) onMediaItemUpdated(ctx context.Context, event musicassistant.Event) {
	if event.ObjectID == "" {
		return
	}
	var item musicassistant.MediaItem
	if err := event.DecodeData(&item); err != nil {
		log.Error().Err(err).Str("object_id", event.ObjectID).Msg("media item update")
		return
	}
	b.setFavorite(ctx, item.Favorite)
}

func (b *Bridge) onPlayerUpdated(ctx context.Context, sess Session, event musicassistant.Event) {
	if event.ObjectID != b.cfg.PlayerID {
		return
	}
	var player musicassistant.Player
	if err := event.DecodeData(&player); err != nil {
		log.Error().Err(err).Str("player", event.ObjectID).Msg("player update")
		return
	}
	if player.CurrentMedia == nil || strings.TrimSpace(player.CurrentMedia.URI) == "" {
		return
	}
	b.checkFavorite(ctx, sess, player.CurrentMedia.URI)
}

func (b *Bridge) checkFavorite(ctx context.Context, sess Session, uri string) {
	ref, err := musicassistant.ParseURI(uri)
	if err != nil {
		log.Warn().Str("uri", uri).Msg("invalid media uri")
		return
	}
	item, err := sess.GetItem(ctx, ref.MediaType, ref.ItemID, ref.Provider)
	if err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("checking favorite status")
		return
	}
	if last, ok := b.LastFavorite(); ok && last == item.Favorite {
		return
	}
	b.setFavorite(ctx, item.Favorite)
}

// setFavorite pushes state to the input_boolean. Failures are logged and the
// last pushed state is left untouched.
func (b *Bridge) setFavorite(ctx context.Context, state bool) {
	start := time.Now()
	err := b.ha.SetInputBoolean(ctx, b.cfg.InputBoolean, state)
	observability.RecordFavoritePush(b.cfg.PlayerID, state, time.Since(start), err == nil)
	if err != nil {
		log.Error().Err(err).Str("entity", b.cfg.InputBoolean).Bool("favorite", state).Msg("updating home assistant")
		return
	}
	b.mu.Lock()
	b.last = &state
	b.mu.Unlock()
	log.Debug().Str("entity", b.cfg.InputBoolean).Bool("favorite", state).Msg("favorite pushed")
}

// seedState starts from the entity's current value so the first matching
// player update does not cause a redundant service call.
func (b *Bridge) seedState(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()
	state, err := b.ha.State(ctx, b.cfg.InputBoolean)
	if err != nil {
		log.Warn().Err(err).Str("entity", b.cfg.InputBoolean).Msg("could not read initial favorite state")
		return
	}
	var on bool
	switch strings.ToLower(state.State) {
	case "on":
		on = true
	case "off":
	default:
		log.Warn().Str("entity", b.cfg.InputBoolean).Str("state", state.State).Msg("initial favorite state unknown")
		return
	}
	b.mu.Lock()
	b.last = &on
	b.mu.Unlock()
}

// LastFavorite returns the last successfully pushed state, if any.
func (b *Bridge) LastFavorite() (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return false, false
	}
	return *b.last, true
}

// Connected reports whether a Music Assistant session is listening.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bridge) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
	observability.SetConnected(b.cfg.PlayerID, v)
}
