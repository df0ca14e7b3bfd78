// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/plantctl/internal/config"
	"github.com/Thermoquad/plantctl/internal/plant"
	"github.com/Thermoquad/plantctl/internal/slave"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/spf13/cobra"
)

var (
	slaveID        uint8
	slaveType      string
	slaveName      string
	slaveHeartbeat time.Duration
	slaveMasterID  uint8
)

var slaveCmd = &cobra.Command{
	Use:   "slave",
	Short: "Run a simulated power-plant slave",
	Long: `Run one slave node with the power-plant demo behaviour.

The slave sends a heartbeat {0x03, id, type} to the master every interval
and serves these commands:
  LED_CONTROL  (0x10)  set the indicator LED
  TEMP_REQUEST (0x20)  reply with the simulated temperature
  CUSTOM       (0x30)  blink the LED for 5 seconds
  STATUS       (0x40)  reply with a CBOR status map
  SET_OUTPUT   (0x50)  set the output percentage (0-100)

The StarWire nibbles 1-4 map to LED, temperature, custom and status.

If --config lists a slave with the same --id, its type, name and heartbeat
are used unless overridden by flags. On SIGHUP the file is read again and
the slave's heartbeat_interval is applied without restarting, unless
--heartbeat was given.

Examples:
  plantctl slave --port /dev/ttyUSB1 --id 10 --type solar
  plantctl slave --url ws://localhost:8080/bus --id 20 --type wind --name Turbine`,
	RunE: runSlave,
}

func init() {
	rootCmd.AddCommand(slaveCmd)
	slaveCmd.Flags().Uint8Var(&slaveID, "id", 0, "Slave bus id (1-254)")
	slaveCmd.Flags().StringVar(&slaveType, "type", "", "Device type (solar, wind, battery, hydro, coal, nuclear, gas or a number)")
	slaveCmd.Flags().StringVar(&slaveName, "name", "", "Device name returned in hello responses")
	slaveCmd.Flags().DurationVar(&slaveHeartbeat, "heartbeat", time.Second, "Heartbeat interval")
	slaveCmd.Flags().Uint8Var(&slaveMasterID, "master", comprot.MasterID, "Master bus id")
	_ = slaveCmd.MarkFlagRequired("id")
}

// slaveConfig merges slave flags over the matching config entry
func slaveConfig(cmd *cobra.Command) (config.SlaveConfig, error) {
	sc, ok := cfg.Slave(slaveID)
	if !ok {
		sc = config.SlaveConfig{
			ID:                slaveID,
			Name:              config.DeviceName(slaveID),
			HeartbeatInterval: config.Duration(slaveHeartbeat),
		}
	}
	if slaveType != "" {
		t, err := comprot.ParseDeviceType(slaveType)
		if err != nil {
			return config.SlaveConfig{}, err
		}
		sc.Type = config.Device(t)
	}
	if cmd.Flags().Changed("name") {
		sc.Name = slaveName
	}
	if cmd.Flags().Changed("heartbeat") {
		sc.HeartbeatInterval = config.Duration(slaveHeartbeat)
	}
	if sc.Type.DeviceType() == comprot.DeviceAny {
		return config.SlaveConfig{}, fmt.Errorf("slave %d needs --type (or an entry in --config)", slaveID)
	}
	if err := config.ValidateSlave(sc); err != nil {
		return config.SlaveConfig{}, fmt.Errorf("slave %d: %w", slaveID, err)
	}
	return sc, nil
}

func runSlave(cmd *cobra.Command, args []string) error {
	sc, err := slaveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	node, connInfo := openNode(ctx, sc.ID, false)
	s, err := slave.New(node, slave.Config{
		Type:              sc.Type.DeviceType(),
		Name:              sc.Name,
		MasterID:          slaveMasterID,
		HeartbeatInterval: sc.HeartbeatInterval.D(),
		Logger:            logger,
	})
	if err != nil {
		node.Close()
		return err
	}

	p := plant.New(sc.Type.DeviceType(), sc.Name, logger)
	if err := p.Register(s); err != nil {
		node.Close()
		return err
	}

	fmt.Printf("plantctl - Slave\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Slave ID=%d, Type=%s, Name=%s\n", s.ID(), s.Type(), s.Name())
	fmt.Printf("Heartbeat every %s to master %d\n", sc.HeartbeatInterval.D(), slaveMasterID)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if configPath != "" && !cmd.Flags().Changed("heartbeat") {
		go watchHeartbeatReload(ctx, s, configPath)
	}

	if err := s.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Bus error: %v\n", err)
		os.Exit(2)
	}
	return nil
}

// reloadedHeartbeat reads path again and returns the heartbeat interval of slave id
func reloadedHeartbeat(path string, id uint8) (time.Duration, error) {
	f, err := config.Load(path)
	if err != nil {
		return 0, err
	}
	sc, ok := f.Slave(id)
	if !ok {
		return 0, fmt.Errorf("slave %d not found in %s", id, path)
	}
	return sc.HeartbeatInterval.D(), nil
}

// watchHeartbeatReload applies the configured heartbeat interval on SIGHUP
func watchHeartbeatReload(ctx context.Context, s *slave.Slave, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d, err := reloadedHeartbeat(path, s.ID())
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed")
				continue
			}
			s.SetHeartbeatInterval(d)
		}
	}
}
