// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hub relays bus traffic between WebSocket clients so nodes on
// different machines share one virtual wire.
package hub

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// BusPath is the WebSocket endpoint
const BusPath = "/bus"

const (
	clientQueueSize = 256
	writeTimeout    = 5 * time.Second
)

// Config configures a hub
type Config struct {
	Addr     string
	Username string // Basic auth is required when set
	Password string
	Logger   zerolog.Logger
}

// Hub fans every binary message out to all other connected clients
type Hub struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	nextID  uint64

	relayed atomic.Uint64
	dropped atomic.Uint64
}

type client struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
}

// New creates a hub
func New(cfg Config) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Relayed returns the number of messages delivered to clients
func (h *Hub) Relayed() uint64 {
	return h.relayed.Load()
}

// Dropped returns the number of messages lost to slow clients
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Handler returns the hub's HTTP handler
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BusPath, h.serveBus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// ListenAndServe serves the hub on cfg.Addr until ctx is cancelled
func (h *Hub) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		h.closeAll()
	}()

	h.logger.Info().Str("addr", h.cfg.Addr).Str("path", BusPath).Msg("hub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.cfg.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.Password)) == 1
	return userOK && passOK
}

func (h *Hub) serveBus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="plantctl"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("rejected client")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	c := h.register(conn)
	log := h.logger.With().Uint64("client", c.id).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("client connected")

	go h.writeLoop(c)
	h.readLoop(c)

	h.unregister(c)
	log.Info().Msg("client disconnected")
}

func (h *Hub) register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &client{id: h.nextID, conn: conn, send: make(chan []byte, clientQueueSize)}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *Hub) readLoop(c *client) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		h.broadcast(c, data)
	}
}

func (h *Hub) broadcast(from *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- data:
			h.relayed.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			h.logger.Debug().Err(err).Uint64("client", c.id).Msg("write failed")
			c.conn.Close()
			// Drain until unregister closes the queue
			for range c.send {
			}
			return
		}
	}
}
