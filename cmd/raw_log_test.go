// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/pkg/comprot"
)

func TestReadFrames_RejectedRawBytes(t *testing.T) {
	medium := link.NewMedium()
	tap := medium.Attach()
	talker := medium.Attach()
	defer talker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan frameEvent, 8)
	skipped := -1
	done := make(chan error, 1)
	go func() {
		done <- readFrames(ctx, tap, events, func(n int) { skipped = n })
	}()

	good := comprot.MustEncodeFrame(comprot.MasterID, 10, 0, comprot.Heartbeat{ID: 10, Type: comprot.DeviceSolar}.Encode())
	bad := comprot.MustEncodeFrame(comprot.MasterID, 10, 0, comprot.Heartbeat{ID: 10, Type: comprot.DeviceSolar}.Encode())
	bad[6] = 11

	talker.Write(good)
	talker.Write(bad)

	next := func() frameEvent {
		select {
		case ev := <-events:
			return ev
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame event")
			return frameEvent{}
		}
	}

	if ev := next(); ev.frame == nil || ev.frame.Src() != 10 {
		t.Fatalf("first event = %+v, want heartbeat from 10", ev)
	}
	ev := next()
	if !errors.Is(ev.err, comprot.ErrCRCMismatch) {
		t.Fatalf("second event error = %v, want ErrCRCMismatch", ev.err)
	}
	if !bytes.Equal(ev.raw, bad) {
		t.Errorf("raw = % X, want % X", ev.raw, bad)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("readFrames returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readFrames did not stop")
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
}
