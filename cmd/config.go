// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/plantctl/internal/config"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/spf13/cobra"
)

var (
	genStart  uint8
	genEnd    uint8
	genType   string
	genOutput string
	genUpdate string
	genForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate, list and validate configuration files",
}

var configGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate [[slaves]] entries for a range of ids",
	Long: `Generate slave entries for ids --start..--end, all of one device type.

Without --output or --update the entries are printed to stdout. --output
writes a complete configuration file with defaults. --update merges the
entries into an existing file, keeping entries whose id already exists.

Examples:
  plantctl config gen --start 10 --end 19 --type solar
  plantctl config gen --start 20 --end 24 --type wind --update rig.toml`,
	RunE: runConfigGen,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the slaves in --config",
	RunE:  runConfigList,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenCmd, configListCmd, configValidateCmd)

	configGenCmd.Flags().Uint8Var(&genStart, "start", 0, "First slave id")
	configGenCmd.Flags().Uint8Var(&genEnd, "end", 0, "Last slave id (default: --start)")
	configGenCmd.Flags().StringVar(&genType, "type", "", "Device type of the generated slaves")
	configGenCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Write a complete config file here")
	configGenCmd.Flags().StringVar(&genUpdate, "update", "", "Merge into this existing config file")
	configGenCmd.Flags().BoolVar(&genForce, "force", false, "Overwrite --output if it exists")
	_ = configGenCmd.MarkFlagRequired("start")
	_ = configGenCmd.MarkFlagRequired("type")
	configGenCmd.MarkFlagsMutuallyExclusive("output", "update")
}

func runConfigGen(cmd *cobra.Command, args []string) error {
	t, err := comprot.ParseDeviceType(genType)
	if err != nil {
		return err
	}
	end := genEnd
	if !cmd.Flags().Changed("end") {
		end = genStart
	}
	slaves, err := config.GenerateSlaves(genStart, end, t)
	if err != nil {
		return err
	}

	switch {
	case genUpdate != "":
		f, err := config.Load(genUpdate)
		if err != nil {
			return err
		}
		for _, id := range f.MergeSlaves(slaves) {
			fmt.Fprintf(os.Stderr, "skipping slave %d: already configured\n", id)
		}
		if err := f.Validate(); err != nil {
			return err
		}
		if err := config.Save(genUpdate, f, true); err != nil {
			return err
		}
		fmt.Printf("Updated %s (%d slaves)\n", genUpdate, len(f.Slaves))

	case genOutput != "":
		f := config.Default()
		f.Slaves = slaves
		if err := f.Validate(); err != nil {
			return err
		}
		if err := config.Save(genOutput, f, genForce); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d slaves)\n", genOutput, len(slaves))

	default:
		return config.WriteSlaves(os.Stdout, slaves)
	}
	return nil
}

func runConfigList(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	fmt.Printf("Master: id=%d, peer timeout=%s, type mode=%s\n",
		cfg.Master.ID, cfg.Master.PeerTimeout.D(), cfg.Master.TypeMode)
	fmt.Printf("Slaves: %d\n", len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		fmt.Printf("  ID=%-3d Type=%-8s Name=%-16s Heartbeat=%s\n",
			s.ID, s.Type.DeviceType(), s.Name, s.HeartbeatInterval.D())
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	f, err := config.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: OK (%d slaves)\n", args[0], len(f.Slaves))
	return nil
}
