// Package mafake is an in-process Music Assistant websocket server for tests.
package mafake

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

const (
	ServerID      = "mafake"
	ServerVersion = "2.4.0"
	SchemaVersion = 26

	ErrCodeAuth     = 20
	ErrCodeNotFound = 404
	ErrCodeUnknown  = 999
)

// Item is a library item the fake answers music/item with.
type Item struct {
	ItemID    string `json:"item_id"`
	Provider  string `json:"provider"`
	MediaType string `json:"media_type"`
	Name      string `json:"name"`
	URI       string `json:"uri"`
	Favorite  bool   `json:"favorite"`
}

// Request is one command a client sent.
type Request struct {
	MessageID string         `json:"message_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args"`
}

// Error is returned by a HandlerFunc to produce an error_code reply.
type Error struct {
	Code    int
	Details string
}

// HandlerFunc answers a custom command.
type HandlerFunc func(args map[string]any) (any, *Error)

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return websocket.JSON.Send(c.conn, v)
}

// Server is a fake Music Assistant endpoint served from httptest.
type Server struct {
	srv   *httptest.Server
	token string

	mu       sync.Mutex
	items    map[string]Item
	handlers map[string]HandlerFunc
	chunked  map[string][][]any
	requests []Request
	clients  map[*client]struct{}
	dials    int
	changed  chan struct{}
}

// New starts a fake server. An empty token disables the auth check.
func New(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{
		token:    token,
		items:    make(map[string]Item),
		handlers: make(map[string]HandlerFunc),
		chunked:  make(map[string][][]any),
		clients:  make(map[*client]struct{}),
		changed:  make(chan struct{}),
	}
	s.srv = httptest.NewServer(websocket.Server{Handler: s.serve})
	t.Cleanup(func() {
		s.DropClients()
		s.srv.Close()
	})
	return s
}

// URL is the http base URL; clients map it onto ws://host/ws themselves.
func (s *Server) URL() string {
	return s.srv.URL
}

func itemKey(provider, mediaType, itemID string) string {
	return provider + "://" + mediaType + "/" + itemID
}

// PutItem adds or replaces a library item.
func (s *Server) PutItem(it Item) {
	if it.URI == "" {
		it.URI = itemKey(it.Provider, it.MediaType, it.ItemID)
	}
	s.mu.Lock()
	s.items[itemKey(it.Provider, it.MediaType, it.ItemID)] = it
	s.mu.Unlock()
}

// Handle installs a custom command handler.
func (s *Server) Handle(command string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[command] = fn
	s.mu.Unlock()
}

// HandleChunked answers command with one partial reply per chunk.
func (s *Server) HandleChunked(command string, chunks ...[]any) {
	s.mu.Lock()
	s.chunked[command] = chunks
	s.mu.Unlock()
}

// Requests returns every command received so far, auth included.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsFor filters Requests by command name.
func (s *Server) RequestsFor(command string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Command == command {
			out = append(out, r)
		}
	}
	return out
}

// Dials counts sessions that completed the greeting and auth.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Clients counts live sessions.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// WaitDials blocks until at least n sessions have been established.
func (s *Server) WaitDials(t testing.TB, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		dials := s.dials
		changed := s.changed
		s.mu.Unlock()
		if dials >= n {
			return
		}
		select {
		case <-changed:
		case <-deadline.C:
			t.Fatalf("mafake: expected %d sessions, got %d", n, dials)
		}
	}
}

// PushEvent sends an event frame to every live session.
func (s *Server) PushEvent(event, objectID string, data any) {
	frame := map[string]any{"event": event, "object_id": objectID, "data": data}
	for _, c := range s.snapshotClients() {
		_ = c.send(frame)
	}
}

// PushRaw sends an arbitrary text frame to every live session.
func (s *Server) PushRaw(payload string) {
	for _, c := range s.snapshotClients() {
		c.writeMu.Lock()
		_ = websocket.Message.Send(c.conn, payload)
		c.writeMu.Unlock()
	}
}

// DropClients closes every live session.
func (s *Server) DropClients() {
	for _, c := range s.snapshotClients() {
		_ = c.conn.Close()
	}
}

func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) serve(conn *websocket.Conn) {
	c := &client{conn: conn}
	defer conn.Close()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	// Sessions register before the reply that completes their handshake so
	// a pushed event can never race the client's Dial returning.
	if s.token == "" {
		s.register(c)
	}
	err := c.send(map[string]any{
		"server_id":                    ServerID,
		"server_version":               ServerVersion,
		"schema_version":               SchemaVersion,
		"min_supported_schema_version": SchemaVersion,
		"base_url":                     s.srv.URL,
	})
	if err != nil {
		return
	}

	for {
		var req Request
		if err := websocket.JSON.Receive(conn, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if req.Command == "auth" {
			token, _ := req.Args["token"].(string)
			if s.token != "" && token != s.token {
				_ = c.send(errorFrame(req.MessageID, ErrCodeAuth, "invalid token"))
				return
			}
			s.register(c)
			_ = c.send(resultFrame(req.MessageID, map[string]any{"authenticated": true}, false))
			continue
		}
		s.answer(c, req)
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.dials++
	s.notify()
	s.mu.Unlock()
}

func (s *Server) answer(c *client, req Request) {
	s.mu.Lock()
	handler := s.handlers[req.Command]
	chunks := s.chunked[req.Command]
	s.mu.Unlock()

	switch {
	case handler != nil:
		result, cmdErr := handler(req.Args)
		if cmdErr != nil {
			_ = c.send(errorFrame(req.MessageID, cmdErr.Code, cmdErr.Details))
			return
		}
		_ = c.send(resultFrame(req.MessageID, result, false))
	case len(chunks) > 0:
		for i, chunk := range chunks {
			_ = c.send(resultFrame(req.MessageID, chunk, i < len(chunks)-1))
		}
	case req.Command == "music/item":
		s.answerItem(c, req)
	default:
		_ = c.send(errorFrame(req.MessageID, ErrCodeUnknown, "unknown command: "+req.Command))
	}
}

func (s *Server) answerItem(c *client, req Request) {
	mediaType, _ := req.Args["media_type"].(string)
	itemID, _ := req.Args["item_id"].(string)
	provider, _ := req.Args["provider_instance_id_or_domain"].(string)

	s.mu.Lock()
	it, ok := s.items[itemKey(provider, mediaType, itemID)]
	s.mu.Unlock()
	if !ok {
		_ = c.send(errorFrame(req.MessageID, ErrCodeNotFound, "item not found"))
		return
	}
	_ = c.send(resultFrame(req.MessageID, it, false))
}

func resultFrame(id string, result any, partial bool) map[string]any {
	frame := map[string]any{"message_id": id, "result": result}
	if partial {
		frame["partial"] = true
	}
	return frame
}

func errorFrame(id string, code int, details string) map[string]any {
	return map[string]any{"message_id": id, "error_code": code, "details": details}
}
