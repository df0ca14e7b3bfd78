// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/config"
	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/Thermoquad/plantctl/internal/plant"
	"github.com/Thermoquad/plantctl/internal/slave"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/spf13/cobra"
)

var (
	simSlaves  string
	simDemo    bool
	simDebugRX bool
	simReport  time.Duration
	simRuntime time.Duration
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a master and simulated slaves on an in-memory bus",
	Long: `Run the whole rig in one process: a master plus one plant slave per entry,
all attached to an in-memory bus.

Slaves come from --slaves ("id:type" pairs) or from the [[slaves]] entries
of --config. With --runtime the simulation stops on its own.

Examples:
  plantctl sim --slaves 10:solar,11:solar,20:wind
  plantctl sim --config rig.toml --type-mode bus`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVar(&simSlaves, "slaves", "", `Slaves as "id:type" pairs, e.g. 10:solar,20:wind`)
	simCmd.Flags().BoolVar(&simDemo, "demo", true, "Run the demo command schedule")
	simCmd.Flags().BoolVar(&simDebugRX, "debug-rx", false, "Print every frame the master receives")
	simCmd.Flags().DurationVar(&simReport, "report-interval", 10*time.Second, "Peer table report interval (0 disables)")
	simCmd.Flags().DurationVar(&simRuntime, "runtime", 0, "Stop after this long (0 runs until Ctrl+C)")
	simCmd.Flags().StringVar(&masterTypeMode, "type-mode", "", "Type addressing: iterate or bus")
}

// parseSlaveSpecs parses "10:solar,20:wind" into slave entries
func parseSlaveSpecs(s string) ([]config.SlaveConfig, error) {
	var out []config.SlaveConfig
	seen := make(map[uint8]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, typeStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("slave %q: expected id:type", part)
		}
		id, err := parseNodeID(idStr)
		if err != nil {
			return nil, fmt.Errorf("slave %q: %w", part, err)
		}
		t, err := comprot.ParseDeviceType(typeStr)
		if err != nil {
			return nil, fmt.Errorf("slave %q: %w", part, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("slave %q: duplicate id %d", part, id)
		}
		seen[id] = true

		sc := config.SlaveConfig{
			ID:                id,
			Type:              config.Device(t),
			Name:              config.DeviceName(id),
			HeartbeatInterval: config.Duration(slave.DefaultHeartbeatInterval),
		}
		if err := config.ValidateSlave(sc); err != nil {
			return nil, fmt.Errorf("slave %q: %w", part, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// startSimSlave attaches one plant slave to medium and runs it in wg
func startSimSlave(ctx context.Context, wg *sync.WaitGroup, medium *link.Medium, sc config.SlaveConfig) error {
	node, err := bus.New(medium.Attach(), busOptions(sc.ID, false))
	if err != nil {
		return err
	}
	s, err := slave.New(node, slave.Config{
		Type:              sc.Type.DeviceType(),
		Name:              sc.Name,
		MasterID:          cfg.Master.ID,
		HeartbeatInterval: sc.HeartbeatInterval.D(),
		Logger:            logger,
	})
	if err != nil {
		node.Close()
		return err
	}
	if err := plant.New(sc.Type.DeviceType(), sc.Name, logger).Register(s); err != nil {
		node.Close()
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			logger.Error().Err(err).Uint8("slave", sc.ID).Msg("slave stopped")
		}
	}()
	return nil
}

func runSim(cmd *cobra.Command, args []string) error {
	slaves := cfg.Slaves
	if simSlaves != "" {
		var err error
		if slaves, err = parseSlaveSpecs(simSlaves); err != nil {
			return err
		}
	}
	if len(slaves) == 0 {
		return fmt.Errorf("no slaves: use --slaves or a config file with [[slaves]] entries")
	}

	mc, id, err := masterConfig(cmd)
	if err != nil {
		return err
	}
	for _, sc := range slaves {
		if sc.ID == id {
			return fmt.Errorf("slave id %d collides with the master id", sc.ID)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	if simRuntime > 0 {
		ctx, cancel = context.WithTimeout(ctx, simRuntime)
		defer cancel()
	}

	medium := link.NewMedium()
	mnode, err := bus.New(medium.Attach(), busOptions(id, false))
	if err != nil {
		return err
	}
	m, err := master.New(mnode, mc)
	if err != nil {
		mnode.Close()
		return err
	}

	var wg sync.WaitGroup
	for _, sc := range slaves {
		if err := startSimSlave(ctx, &wg, medium, sc); err != nil {
			cancel()
			wg.Wait()
			mnode.Close()
			return fmt.Errorf("slave %d: %w", sc.ID, err)
		}
	}

	fmt.Printf("plantctl - Simulation\n")
	fmt.Printf("Connection: %s\n", "Memory bus")
	fmt.Printf("Master id: %d, %d slaves\n", id, len(slaves))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	attachMasterPrinters(m, simDebugRX)
	startMetrics(ctx)
	if simDemo {
		go m.RunDemo(ctx, cfg.Master.DemoInterval.D(), nil)
	}
	if simReport > 0 {
		go reportLoop(ctx, m, simReport)
	}

	err = m.Run(ctx)
	wg.Wait()
	if dropped := medium.Dropped(); dropped > 0 {
		logger.Warn().Uint64("dropped", dropped).Msg("memory bus dropped chunks")
	}
	return err
}
