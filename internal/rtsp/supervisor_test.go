/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rtsp

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/registry"
	"github.com/cartesiancs/vessel/internal/topicrouter"
)

// TestSupervisor_RunIsIdleWithNoMappings confirms Run returns cleanly when
// the Topic Router has no RTSP mappings, rather than blocking forever on
// an empty task set.
func TestSupervisor_RunIsIdleWithNoMappings(t *testing.T) {
	s := New(&topicrouter.Router{}, registry.New(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected Run to return context.DeadlineExceeded, got %v", err)
	}
}

// TestRunPipelineTask_RebuildsAfterError exercises the §4.C loop: a
// pipeline attempt that errors must be retried after a backoff, not
// abandoned, until the task's context is canceled.
func TestRunPipelineTask_RebuildsAfterError(t *testing.T) {
	s := New(&topicrouter.Router{}, registry.New(), zerolog.Nop())

	var attempts int32
	s.runOnce = func(ctx context.Context, url, entityID string, log zerolog.Logger) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return fmt.Errorf("simulated pipeline failure %d", n)
		}
		<-ctx.Done()
		return nil
	}

	// Shrink the backoff for the test via the package-level var.
	orig := rebuildBackoff
	rebuildBackoff = 1 * time.Millisecond
	defer func() { rebuildBackoff = orig }()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.runPipelineTask(ctx, "rtsp://example.invalid/stream", "entity.cam")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runPipelineTask did not return after context cancellation")
	}

	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected at least 3 rebuild attempts, got %d", attempts)
	}
}
