// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/internal/observability"
	"golang.org/x/term"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("PLANTCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens the serial or WebSocket connection selected by
// flags and configuration
func OpenConnection(ctx context.Context) (link.Connection, string, error) {
	opts := link.Options{
		Transport:   cfg.Bus.Transport,
		Port:        cfg.Bus.Port,
		Baud:        cfg.Bus.Baud,
		URL:         cfg.Bus.URL,
		Username:    cfg.Bus.Username,
		NoSSLVerify: cfg.Bus.NoSSLVerify,
	}
	if opts.Transport == link.TransportMemory {
		return nil, "", fmt.Errorf("memory transport is only available in 'plantctl sim'")
	}

	if opts.URL != "" && opts.Username != "" && (opts.Transport == "" || opts.Transport == link.TransportWebSocket) {
		password, err := GetPassword()
		if err != nil {
			return nil, "", err
		}
		opts.Password = password
	}

	return link.Open(ctx, opts)
}

// busOptions builds node options for id from configuration
func busOptions(id uint8, sniff bool) bus.Options {
	return bus.Options{
		ID:          id,
		CRC32:       cfg.Bus.UseCRC32(),
		Ack:         cfg.Bus.Ack,
		MaxAttempts: cfg.Bus.MaxAttempts,
		AckTimeout:  cfg.Bus.AckTimeout.D(),
		Sniff:       sniff,
		Logger:      logger,
	}
}

// openNode opens the configured connection and wraps it in a bus node.
// Connection failures exit with code 2.
func openNode(ctx context.Context, id uint8, sniff bool) (*bus.Node, string) {
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	node, err := bus.New(conn, busOptions(id, sniff))
	if err != nil {
		conn.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return node, connInfo
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// startMetrics serves /metrics in the background when an address is configured
func startMetrics(ctx context.Context) {
	if cfg.Master.MetricsAddr == "" {
		return
	}
	go func() {
		if err := observability.ServeMetrics(ctx, cfg.Master.MetricsAddr, logger); err != nil {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}
