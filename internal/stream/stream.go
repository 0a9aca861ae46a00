// Package stream exposes the validated market-data feed over WebSocket.
// Clients connect to /ws and optionally filter with ?symbols=rb2501,hc2501.
// Delivery is best-effort: a slow client loses messages, never the feed.
package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ctp-md-gateway/internal/model"
)

const (
	writeWait      = 5 * time.Second
	clientBuffer   = 256
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway runs inside the trading network; origin checks are the
	// perimeter's job.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the wire frame sent to clients.
type envelope struct {
	Type string `json:"type"` // "tick" or "bar"
	Data any    `json:"data"`
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]struct{} // empty = everything
}

func (c *client) wants(symbol string) bool {
	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

// Server is the WebSocket broadcast hub.
type Server struct {
	addr   string
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	httpSrv *http.Server
}

// NewServer builds the hub; Start brings up the listener.
func NewServer(addr string) *Server {
	return &Server{
		addr:    addr,
		logger:  log.With().Str("component", "stream").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Start serves /ws in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("WebSocket stream listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("WebSocket server failed")
		}
	}()
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, clientBuffer),
		symbols: parseSymbolFilter(r.URL.Query().Get("symbols")),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", n).Msg("Stream client connected")

	go s.writePump(c)
	go s.readPump(c)
}

func parseSymbolFilter(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

// readPump discards client input and watches for disconnect.
func (s *Server) readPump(c *client) {
	defer s.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// broadcast fans msg out to every interested client without blocking.
func (s *Server) broadcast(symbol string, msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client, message dropped
		}
	}
}

// TickSink adapts the hub to the gateway tick callback signature.
func (s *Server) TickSink() func(*model.Tick) {
	return func(tick *model.Tick) {
		msg, err := json.Marshal(envelope{Type: "tick", Data: tick.ToMap()})
		if err != nil {
			return
		}
		s.broadcast(tick.Symbol, msg)
	}
}

// BarSink adapts the hub to the gateway bar callback signature.
func (s *Server) BarSink() func(*model.Bar) {
	return func(bar *model.Bar) {
		msg, err := json.Marshal(envelope{Type: "bar", Data: bar})
		if err != nil {
			return
		}
		s.broadcast(bar.Symbol, msg)
	}
}
