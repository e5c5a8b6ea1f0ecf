// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// errStopSignal is the cause of a context cancelled by a shutdown signal.
var errStopSignal = errors.New("stopped by signal")

// handleSignals returns a context cancelled on SIGINT or SIGTERM.  The Lambda
// runtime sends SIGTERM before it freezes or recycles the sandbox.
func handleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := cancelOnSignal(ctx, sigs)
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func cancelOnSignal(ctx context.Context, sigs <-chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case sig := <-sigs:
			slog.Warn("Shutdown signal received", slog.String("signal", sig.String()))
			cancel(fmt.Errorf("%w: %s", errStopSignal, sig))
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// stopCause explains err when ctx was cancelled by a shutdown signal.
func stopCause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, errStopSignal) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}
