// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link provides the byte-stream connections a bus node talks over:
// a serial port, a WebSocket relay, or an in-process shared medium.
package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Dial limits for the WebSocket relay
const (
	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
)

// ErrConnectionClosed is returned once the underlying stream has gone away
var ErrConnectionClosed = errors.New("connection closed")

// Connection is the byte stream a bus node decodes frames from.
// Writes carry whole encoded frames.
type Connection interface {
	io.ReadWriteCloser
}

// SerialConnection is a bus attached through a USB-UART adapter
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialConnection) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialConnection) Close() error                { return s.port.Close() }

// OpenSerialConnection opens port at baud, 8N1
func OpenSerialConnection(port string, baud int) (Connection, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return &SerialConnection{port: p}, nil
}

// WebSocketConnection carries bus bytes in binary WebSocket messages.
// One message holds one or more frames; a frame may also span messages.
type WebSocketConnection struct {
	conn    *websocket.Conn
	pending []byte
	readErr error
	writeMu sync.Mutex
}

// NewWebSocketConnection wraps an established WebSocket connection
func NewWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	return &WebSocketConnection{conn: conn}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		if w.readErr != nil {
			return 0, w.readErr
		}
		kind, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			return 0, w.readErr
		}
		if kind == websocket.BinaryMessage {
			w.pending = msg
		}
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenWebSocketConnection dials a ws:// or wss:// relay. Credentials given
// as arguments take precedence over user info in the URL; either is sent
// as HTTP Basic auth.
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	u.User = nil

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	header := http.Header{}
	if username != "" && password != "" {
		header.Set("Authorization", "Basic "+basicAuth(username, password))
	}

	ctx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", u.Redacted(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return NewWebSocketConnection(conn), nil
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
