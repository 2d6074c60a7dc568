package favsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/bragi/internal/config"
	"github.com/danmuck/bragi/internal/homeassistant"
	"github.com/danmuck/bragi/internal/musicassistant"
	"github.com/danmuck/bragi/internal/testutil/mafake"
	"github.com/danmuck/bragi/internal/testutil/testlog"
	"go.uber.org/goleak"
)

func testConfig() config.BridgeConfig {
	cfg := config.DefaultBridgeConfig()
	cfg.MusicAssistantURL = "http://ma.local:8095"
	cfg.MusicAssistantToken = "ma-token"
	cfg.PlayerID = "kitchen"
	cfg.InputBoolean = "input_boolean.current_track_is_favorite"
	cfg.HomeAssistantURL = "http://ha.local:8123"
	cfg.HomeAssistantToken = "ha-token"
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

type fakeSwitch struct {
	mu       sync.Mutex
	calls    []bool
	setErr   error
	state    string
	stateErr error
}

func (f *fakeSwitch) SetInputBoolean(_ context.Context, _ string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.calls = append(f.calls, on)
	return nil
}

func (f *fakeSwitch) State(_ context.Context, entityID string) (homeassistant.EntityState, error) {
	if f.stateErr != nil {
		return homeassistant.EntityState{}, f.stateErr
	}
	return homeassistant.EntityState{EntityID: entityID, State: f.state}, nil
}

func (f *fakeSwitch) Calls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeSession struct {
	mu       sync.Mutex
	item     musicassistant.MediaItem
	itemErr  error
	lookups  []musicassistant.ItemRef
	handlers []musicassistant.Handler
	closed   bool
}

func (s *fakeSession) Subscribe(h musicassistant.Handler, _ ...musicassistant.EventType) func() {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
	return func() {}
}

func (s *fakeSession) Listen(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *fakeSession) GetItem(_ context.Context, mediaType, itemID, provider string) (musicassistant.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, musicassistant.ItemRef{Provider: provider, MediaType: mediaType, ItemID: itemID})
	if s.itemErr != nil {
		return musicassistant.MediaItem{}, s.itemErr
	}
	return s.item, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Lookups() []musicassistant.ItemRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]musicassistant.ItemRef(nil), s.lookups...)
}

func newTestBridge(t *testing.T, sw Switch) *Bridge {
	t.Helper()
	b, err := New(testConfig(), WithSwitch(sw), WithDialer(func(context.Context) (Session, error) {
		return nil, errors.New("dial disabled")
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func event(t *testing.T, typ musicassistant.EventType, objectID string, data any) musicassistant.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	return musicassistant.Event{Event: typ, ObjectID: objectID, Data: raw}
}

func playerEvent(t *testing.T, playerID, uri string) musicassistant.Event {
	t.Helper()
	data := map[string]any{"player_id": playerID}
	if uri != "" {
		data["current_media"] = map[string]any{"uri": uri}
	}
	return event(t, musicassistant.EventPlayerUpdated, playerID, data)
}

func equalCalls(got []bool, want ...bool) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.PlayerID = ""
	cfg.MusicAssistantToken = ""
	_, err := New(cfg, WithSwitch(&fakeSwitch{}))
	if err == nil || !strings.Contains(err.Error(), "ma_token, player_id") {
		t.Fatalf("expected missing parameter error, got %v", err)
	}
}

func TestMediaItemUpdatedPushesFavorite(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	b := newTestBridge(t, sw)

	b.onMediaItemUpdated(context.Background(), event(t, musicassistant.EventMediaItemUpdated, "library://track/1", map[string]any{"favorite": true}))
	b.onMediaItemUpdated(context.Background(), event(t, musicassistant.EventMediaItemUpdated, "library://track/1", map[string]any{"favorite": true}))
	b.onMediaItemUpdated(context.Background(), event(t, musicassistant.EventMediaItemUpdated, "library://track/2", map[string]any{"name": "no flag"}))

	if got := sw.Calls(); !equalCalls(got, true, true, false) {
		t.Fatalf("unexpected pushes: %v", got)
	}
	if fav, ok := b.LastFavorite(); !ok || fav {
		t.Fatalf("expected last favorite false, got %v ok=%v", fav, ok)
	}
}

func TestMediaItemUpdatedIgnoresEmptyObjectID(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	b := newTestBridge(t, sw)

	b.onMediaItemUpdated(context.Background(), event(t, musicassistant.EventMediaItemUpdated, "", map[string]any{"favorite": true}))
	if got := sw.Calls(); len(got) != 0 {
		t.Fatalf("expected no pushes, got %v", got)
	}
	if _, ok := b.LastFavorite(); ok {
		t.Fatalf("expected unknown last favorite")
	}
}

func TestPlayerUpdatedIgnoresOtherPlayers(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	sess := &fakeSession{item: musicassistant.MediaItem{Favorite: true}}
	b := newTestBridge(t, sw)

	b.onPlayerUpdated(context.Background(), sess, playerEvent(t, "bedroom", "library://track/1"))
	b.onPlayerUpdated(context.Background(), sess, playerEvent(t, "kitchen", ""))

	if got := sess.Lookups(); len(got) != 0 {
		t.Fatalf("expected no lookups, got %+v", got)
	}
	if got := sw.Calls(); len(got) != 0 {
		t.Fatalf("expected no pushes, got %v", got)
	}
}

func TestPlayerUpdatedPushesOnlyOnChange(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	sess := &fakeSession{item: musicassistant.MediaItem{Favorite: true}}
	b := newTestBridge(t, sw)
	ctx := context.Background()

	b.onPlayerUpdated(ctx, sess, playerEvent(t, "kitchen", "spotify://track/abc"))
	b.onPlayerUpdated(ctx, sess, playerEvent(t, "kitchen", "spotify://track/abc"))
	sess.mu.Lock()
	sess.item.Favorite = false
	sess.mu.Unlock()
	b.onPlayerUpdated(ctx, sess, playerEvent(t, "kitchen", "filesystem://track/Music/a b/01.flac"))

	if got := sw.Calls(); !equalCalls(got, true, false) {
		t.Fatalf("unexpected pushes: %v", got)
	}
	lookups := sess.Lookups()
	if len(lookups) != 3 {
		t.Fatalf("expected 3 lookups, got %d", len(lookups))
	}
	want := musicassistant.ItemRef{Provider: "filesystem", MediaType: "track", ItemID: "Music/a b/01.flac"}
	if lookups[2] != want {
		t.Fatalf("unexpected lookup: %+v", lookups[2])
	}
}

func TestPlayerUpdatedInvalidURI(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	sess := &fakeSession{}
	b := newTestBridge(t, sw)

	b.onPlayerUpdated(context.Background(), sess, playerEvent(t, "kitchen", "not-a-uri"))
	if got := sess.Lookups(); len(got) != 0 {
		t.Fatalf("expected no lookups, got %+v", got)
	}
}

func TestPlayerUpdatedLookupErrorIsSwallowed(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	sess := &fakeSession{itemErr: &musicassistant.CommandError{Command: "music/item", Code: 404}}
	b := newTestBridge(t, sw)

	b.onPlayerUpdated(context.Background(), sess, playerEvent(t, "kitchen", "library://track/1"))
	if got := sw.Calls(); len(got) != 0 {
		t.Fatalf("expected no pushes, got %v", got)
	}
}

func TestSetFavoriteFailureKeepsLastState(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{}
	b := newTestBridge(t, sw)
	ctx := context.Background()

	b.setFavorite(ctx, true)
	sw.mu.Lock()
	sw.setErr = &homeassistant.StatusError{StatusCode: 500}
	sw.mu.Unlock()
	b.setFavorite(ctx, false)

	if fav, ok := b.LastFavorite(); !ok || !fav {
		t.Fatalf("expected last favorite to stay true, got %v ok=%v", fav, ok)
	}
}

func TestSeedState(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		sw     *fakeSwitch
		want   bool
		wantOK bool
	}{
		{"on", &fakeSwitch{state: "on"}, true, true},
		{"off", &fakeSwitch{state: "off"}, false, true},
		{"unavailable", &fakeSwitch{state: "unavailable"}, false, false},
		{"error", &fakeSwitch{stateErr: errors.New("boom")}, false, false},
	}
	for _, tc := range cases {
		b := newTestBridge(t, tc.sw)
		b.seedState(context.Background())
		got, ok := b.LastFavorite()
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("%s: got %v ok=%v, want %v ok=%v", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestRunReconnectsAfterDialFailure(t *testing.T) {
	testlog.Start(t)
	sw := &fakeSwitch{state: "off"}
	sess := &fakeSession{}
	var (
		mu    sync.Mutex
		dials int
	)
	connected := make(chan struct{})
	dial := func(context.Context) (Session, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials < 3 {
			return nil, errors.New("connection refused")
		}
		close(connected)
		return sess, nil
	}
	b, err := New(testConfig(), WithSwitch(sw), WithDialer(dial))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not reconnect")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	sess.mu.Lock()
	closed := sess.closed
	sess.mu.Unlock()
	if !closed {
		t.Fatalf("expected session to be closed on shutdown")
	}
	if b.Connected() {
		t.Fatalf("expected disconnected after shutdown")
	}
}

type haRecorder struct {
	mu    sync.Mutex
	calls []string
	hit   chan string
}

func newHARecorder(t *testing.T) (*haRecorder, *httptest.Server) {
	t.Helper()
	rec := &haRecorder{hit: make(chan string, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ha-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, r.URL.Path+" "+string(body))
		rec.mu.Unlock()
		rec.hit <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func waitPath(t *testing.T, rec *haRecorder, want string) {
	t.Helper()
	select {
	case got := <-rec.hit:
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestBridgeEndToEnd(t *testing.T) {
	testlog.Start(t)
	fake := mafake.New(t, "ma-token")
	fake.PutItem(mafake.Item{ItemID: "7", Provider: "library", MediaType: "track", Favorite: false})
	rec, ha := newHARecorder(t)

	cfg := testConfig()
	cfg.MusicAssistantURL = fake.URL()
	cfg.HomeAssistantURL = ha.URL
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	fake.WaitDials(t, 1, 3*time.Second)

	fake.PushEvent("media_item_updated", "library://track/7", map[string]any{"item_id": "7", "favorite": true})
	waitPath(t, rec, "/api/services/input_boolean/turn_on")

	fake.PushEvent("player_updated", "kitchen", map[string]any{
		"player_id":     "kitchen",
		"current_media": map[string]any{"uri": "library://track/7"},
	})
	waitPath(t, rec, "/api/services/input_boolean/turn_off")

	fake.DropClients()
	fake.WaitDials(t, 2, 3*time.Second)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 2 || !strings.Contains(rec.calls[0], `"entity_id":"input_boolean.current_track_is_favorite"`) {
		t.Fatalf("unexpected HA calls: %v", rec.calls)
	}
	if got := len(fake.RequestsFor("music/item")); got != 1 {
		t.Fatalf("expected one music/item lookup, got %d", got)
	}
}

func TestServeShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	testlog.Start(t)

	sess := &fakeSession{}
	dialed := make(chan struct{}, 1)
	cfg := testConfig()
	cfg.StatusAddr = "127.0.0.1:0"
	b, err := New(cfg, WithSwitch(&fakeSwitch{state: "on"}), WithDialer(func(context.Context) (Session, error) {
		dialed <- struct{}{}
		return sess, nil
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx) }()
	select {
	case <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge never dialed")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
}
