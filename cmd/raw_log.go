// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/internal/observability"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/spf13/cobra"
)

var (
	rawValidate      bool
	rawShowAll       bool
	rawStatsInterval int
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every frame on the bus in human-readable format",
	Long: `Continuously decode and display bus frames as they arrive.

The analyzer never transmits. Every frame is shown regardless of its
destination, with timestamp, addresses, flags and the decoded message.

With --validate each frame is also checked for anomalies (unknown message
types, heartbeat id mismatch, out-of-range values) and only problem frames
are printed unless --show-all is given. --show-all also dumps the raw wire
bytes of frames the decoder rejects. Statistics are printed every
--stats-interval seconds.

Decode errors before the first good frame are counted as sync noise.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawValidate, "validate", false, "Validate frames and report anomalies")
	rawLogCmd.Flags().BoolVar(&rawShowAll, "show-all", false, "Show valid frames with --validate and raw bytes of rejected frames")
	rawLogCmd.Flags().IntVar(&rawStatsInterval, "stats-interval", 10, "Statistics interval in seconds (0 disables)")
}

// frameEvent is one decoder result from the connection
type frameEvent struct {
	frame *comprot.Frame
	err   error
	raw   []byte // wire bytes of a rejected frame
}

// readFrames decodes conn into events until the connection closes or ctx
// is cancelled. Decode errors before the first frame are counted, not sent.
func readFrames(ctx context.Context, conn link.Connection, events chan<- frameEvent, synced func(skipped int)) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	decoder := comprot.NewDecoder()
	buf := make([]byte, 256)
	synchronized := false
	skipped := 0

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, link.ErrConnectionClosed) {
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			frame, decodeErr := decoder.DecodeByte(buf[i])
			switch {
			case decodeErr != nil:
				if !synchronized {
					skipped++
					continue
				}
				kind := "decode"
				if errors.Is(decodeErr, comprot.ErrCRCMismatch) {
					kind = "crc"
				}
				observability.RecordFrameError(0, kind)
				raw := append([]byte(nil), decoder.RejectedBytes()...)
				events <- frameEvent{err: decodeErr, raw: raw}
			case frame != nil:
				if !synchronized {
					synchronized = true
					if synced != nil {
						synced(skipped)
					}
				}
				events <- frameEvent{frame: frame}
			}
		}
	}
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("plantctl - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if rawValidate {
		if rawShowAll {
			fmt.Printf("Mode: All frames\n")
		} else {
			fmt.Printf("Mode: Errors only\n")
		}
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	events := make(chan frameEvent, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(ctx, conn, events, func(skipped int) {
			if skipped > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", skipped)
			}
		})
	}()

	stats := comprot.NewStatistics()
	var statsTick <-chan time.Time
	if rawStatsInterval > 0 {
		ticker := time.NewTicker(time.Duration(rawStatsInterval) * time.Second)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	for {
		select {
		case ev := <-events:
			printFrameEvent(ev, stats)

		case <-statsTick:
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-readErr:
			if err != nil {
				logger.Error().Err(err).Msg("read failed")
				return err
			}
			logger.Info().Msg("connection closed")
			return nil
		}
	}
}

func printFrameEvent(ev frameEvent, stats *comprot.Statistics) {
	if ev.err != nil {
		stats.Update(nil, ev.err, nil)
		fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", stamp(), ev.err)
		if rawShowAll && len(ev.raw) > 0 {
			fmt.Printf("  Raw: %s\n", comprot.FormatHex(ev.raw))
		}
		fmt.Println()
		return
	}

	var problems []comprot.ValidationError
	if rawValidate {
		problems = comprot.ValidateFrame(ev.frame)
	}
	stats.Update(ev.frame, nil, problems)

	switch {
	case len(problems) > 0:
		printValidationErrors(ev.frame, problems)
	case !rawValidate || rawShowAll:
		fmt.Print(comprot.FormatFrame(ev.frame))
	}
}

// printValidationErrors prints the anomalies found in a frame
func printValidationErrors(f *comprot.Frame, problems []comprot.ValidationError) {
	ts := f.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) %d -> %d\n",
		ts, comprot.FormatMessageType(f.Type()), f.Type(), f.Src(), f.Dst())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")
	for i, p := range problems {
		fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, p.Message)
	}
	fmt.Printf("  Payload: %s\n", comprot.FormatHex(f.Payload()))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}
