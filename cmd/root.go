// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/plantctl/internal/config"
	"github.com/Thermoquad/plantctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus flags
	transport string
	useCRC32  bool
	useAck    bool

	// Ambient flags
	configPath  string
	logLevel    string
	logFile     string
	metricsAddr string
)

// cfg is the loaded configuration with flag overrides applied
var cfg = config.Default()

// logger is the process logger, set up before any command runs
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "plantctl",
	Short: "Power-plant demo rig bus tool",
	Long: `plantctl - master, slave and analyzer for the power-plant demo rig bus.

A master discovers slaves through their heartbeats, drops slaves that stay
silent for longer than the peer timeout, and sends commands either to one
slave or to every slave of a device type. Slaves run registered command
handlers and reply to the master.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host:8080/bus [--username user]
  Memory:    plantctl sim (master and slaves in one process)

For WebSocket authentication, the password is read from the PLANTCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings can also come from a TOML file (--config); flags win over the file.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Bus flags
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "Transport: serial, websocket (default: inferred from --port/--url)")
	rootCmd.PersistentFlags().BoolVar(&useCRC32, "crc32", true, "Send frames with a CRC-32 trailer (--crc32=false for CRC-16)")
	rootCmd.PersistentFlags().BoolVar(&useAck, "ack", false, "Request acknowledgement for unicast frames")

	// Ambient flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

// setup loads the configuration, applies flag overrides and starts logging
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlagOverrides(cmd)

	l, err := observability.InitLogger("plantctl", observability.LogOptions{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("port") || cfg.Bus.Port == "" {
		cfg.Bus.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Bus.Baud = baudRate
	}
	if flags.Changed("url") || cfg.Bus.URL == "" {
		cfg.Bus.URL = wsURL
	}
	if flags.Changed("username") || cfg.Bus.Username == "" {
		cfg.Bus.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bus.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("transport") {
		cfg.Bus.Transport = transport
	}
	if flags.Changed("crc32") {
		crc32 := useCRC32
		cfg.Bus.CRC32 = &crc32
	}
	if flags.Changed("ack") {
		cfg.Bus.Ack = useAck
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("metrics-addr") {
		cfg.Master.MetricsAddr = metricsAddr
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
