// Package realtime exposes the channel bus over WebSocket and a small
// REST mirror.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/benW3ART/vibes-sub001/internal/bus"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
	maxFrameSize  = 16 << 20
)

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// StaticDir, when set, is served at "/".
	StaticDir string
}

// Server manages WebSocket clients and routes their envelopes through
// the bus.
type Server struct {
	bus       *bus.Bus
	logger    *slog.Logger
	staticDir string
	upgrader  websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	id     string
	conn   *websocket.Conn
	codec  protocol.Codec
	send   chan []byte
	server *Server

	ctx    context.Context
	cancel context.CancelFunc
	invoke sync.WaitGroup

	filterMu sync.RWMutex
	filter   map[protocol.Channel]bool // nil: every push channel
}

// New creates a Server for b.
func New(b *bus.Bus, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:       b,
		logger:    logger,
		staticDir: opts.StaticDir,
		clients:   make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{protocol.SubprotocolJSON, protocol.SubprotocolCBOR},
		CheckOrigin:  allowedOrigin,
	}
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /invoke/{channel}", s.handleInvoke)
	mux.HandleFunc("GET /channels", s.handleChannels)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	return corsMiddleware(mux)
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// allowedOrigin accepts requests without an Origin header and requests
// from loopback origins. The daemon listens on localhost; other sites
// must not drive it from a browser.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowedOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket. The codec
// follows the negotiated subprotocol.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		codec:  protocol.CodecFor(conn.Subprotocol()),
		send:   make(chan []byte, sendBuffer),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	dispose := s.bus.SubscribeAll(c.onPush)
	s.logger.Info("client connected", "client", c.id, "codec", c.codec.Subprotocol())

	go c.writePump()
	go func() {
		c.readPump()
		dispose()
		c.cancel()
		c.invoke.Wait()
		s.removeClient(c)
	}()
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	s.logger.Info("client disconnected", "client", c.id)
}

// readPump reads envelopes from the WebSocket connection.
func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump writes frames to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(frameType, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one client frame. Failures are answered with
// a failed result; nothing tears down the read loop.
func (c *client) handleMessage(raw []byte) {
	env, err := c.codec.Decode(raw)
	if err != nil {
		c.reply(protocol.NewResult("", "", protocol.Fail(protocol.Errorf(protocol.CodeInvalidMessage, "%v", err))))
		return
	}
	if err := protocol.ValidateClientMessage(env); err != nil {
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			perr = protocol.Errorf(protocol.CodeInvalidMessage, "%v", err)
		}
		c.reply(protocol.NewResult(env.ID, env.Channel, protocol.Fail(perr)))
		return
	}

	switch env.Kind {
	case protocol.KindInvoke:
		spec, _ := protocol.Lookup(env.Channel)
		if spec.Concurrent {
			c.invoke.Add(1)
			go func() {
				defer c.invoke.Done()
				c.handleInvoke(env)
			}()
			return
		}
		c.handleInvoke(env)

	case protocol.KindSubscribe:
		c.subscribe(env.Channels)
		c.ack(env)

	case protocol.KindUnsubscribe:
		c.unsubscribe(env.Channels)
		c.ack(env)
	}
}

func (c *client) handleInvoke(env *protocol.Envelope) {
	result := c.server.bus.Invoke(c.ctx, env.Channel, env.Payload)
	c.reply(protocol.NewResult(env.ID, env.Channel, result))
}

func (c *client) ack(env *protocol.Envelope) {
	if env.ID == "" {
		return
	}
	c.reply(protocol.NewResult(env.ID, "", protocol.OK(c.subscriptions())))
}

// subscribe narrows the pushes this client receives. The first explicit
// subscription replaces the default of every push channel.
func (c *client) subscribe(channels []protocol.Channel) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if c.filter == nil {
		c.filter = make(map[protocol.Channel]bool)
	}
	for _, ch := range channels {
		c.filter[ch] = true
	}
}

func (c *client) unsubscribe(channels []protocol.Channel) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if c.filter == nil {
		c.filter = make(map[protocol.Channel]bool)
		for _, ch := range protocol.Channels(protocol.Push) {
			c.filter[ch] = true
		}
	}
	for _, ch := range channels {
		delete(c.filter, ch)
	}
}

func (c *client) subscriptions() []protocol.Channel {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if c.filter == nil {
		return protocol.Channels(protocol.Push)
	}
	result := make([]protocol.Channel, 0, len(c.filter))
	for ch := range c.filter {
		result = append(result, ch)
	}
	return result
}

func (c *client) wants(ch protocol.Channel) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.filter == nil || c.filter[ch]
}

// onPush runs on the publisher's goroutine. It never blocks: when the
// client's buffer is full the event is dropped and the client recovers
// through the gap in stream sequence numbers.
func (c *client) onPush(ch protocol.Channel, payload json.RawMessage) {
	if !c.wants(ch) {
		return
	}
	data, err := c.codec.Encode(&protocol.Envelope{
		Kind:      protocol.KindEvent,
		Channel:   ch,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.server.logger.Error("encode event failed", "client", c.id, "channel", ch, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.server.logger.Warn("client buffer full, event dropped", "client", c.id, "channel", ch)
	}
}

// reply queues a result. Results wait for buffer space until the client
// disconnects.
func (c *client) reply(env *protocol.Envelope) {
	data, err := c.codec.Encode(env)
	if err != nil {
		c.server.logger.Error("encode result failed", "client", c.id, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}
