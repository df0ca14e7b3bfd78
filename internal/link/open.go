// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
)

// Transport names accepted by Open
const (
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
	TransportMemory    = "memory"
)

// Options selects and configures a connection
type Options struct {
	Transport   string
	Port        string
	Baud        int
	URL         string
	Username    string
	Password    string
	NoSSLVerify bool
	Medium      *Medium // required for TransportMemory
}

// Open opens the connection described by opts and returns it with a
// human-readable description. An empty Transport is inferred from the
// URL/Port fields, preferring the WebSocket URL.
func Open(ctx context.Context, opts Options) (Connection, string, error) {
	transport := opts.Transport
	if transport == "" {
		switch {
		case opts.URL != "":
			transport = TransportWebSocket
		case opts.Port != "":
			transport = TransportSerial
		case opts.Medium != nil:
			transport = TransportMemory
		default:
			return nil, "", fmt.Errorf("either --port or --url must be specified")
		}
	}

	switch transport {
	case TransportWebSocket:
		conn, err := OpenWebSocketConnection(ctx, opts.URL, opts.Username, opts.Password, opts.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", opts.URL), nil

	case TransportSerial:
		conn, err := OpenSerialConnection(opts.Port, opts.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", opts.Port, opts.Baud), nil

	case TransportMemory:
		if opts.Medium == nil {
			return nil, "", fmt.Errorf("memory transport needs a medium")
		}
		return opts.Medium.Attach(), "Memory bus", nil

	default:
		return nil, "", fmt.Errorf("unknown transport %q (use serial, websocket or memory)", transport)
	}
}
