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

package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/objalert/internal/logctx"
)

// Handler runs one invocation of a stage with its JSON payload.  The context
// deadline is the invocation's time budget.
type Handler func(ctx context.Context, payload []byte) error

// Local runs stages as goroutines in this process.  Each invocation gets its
// own deadline, mirroring a fresh Lambda invocation, and payloads pass
// through JSON so handlers see exactly what Lambda would deliver.
//
// InvokeAsync never blocks on the concurrency limit: goroutines wait for a
// slot themselves, so a running stage can trigger others without deadlock.
type Local struct {
	timeout time.Duration
	sem     *semaphore.Weighted
	g       errgroup.Group
	base    context.Context

	mu       sync.RWMutex
	handlers map[Stage]Handler
	counts   map[Stage]int
}

var _ Invoker = (*Local)(nil)

// NewLocal creates a local invoker running at most concurrency stages at a
// time, each limited to timeout.  Invocations inherit values and
// cancellation from ctx, not from the caller that triggered them.
func NewLocal(ctx context.Context, concurrency int, timeout time.Duration) *Local {
	return &Local{
		timeout:  timeout,
		sem:      semaphore.NewWeighted(int64(max(concurrency, 1))),
		base:     ctx,
		handlers: make(map[Stage]Handler),
		counts:   make(map[Stage]int),
	}
}

func (l *Local) Register(stage Stage, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[stage] = h
}

func (l *Local) InvokeAsync(ctx context.Context, stage Stage, payload any) error {
	l.mu.Lock()
	h, ok := l.handlers[stage]
	if ok {
		l.counts[stage]++
	}
	l.mu.Unlock()
	if !ok {
		return &Error{Stage: stage, Err: errors.New("no handler registered")}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Stage: stage, Err: fmt.Errorf("encode payload: %w", err)}
	}

	l.g.Go(func() error {
		if err := l.sem.Acquire(l.base, 1); err != nil {
			return err
		}
		defer l.sem.Release(1)

		ictx, cancel := context.WithTimeout(l.base, l.timeout)
		defer cancel()
		ictx = logctx.With(ictx, slog.String("stage", stage.String()))

		if err := h(ictx, body); err != nil {
			logctx.FromContext(ictx).Error("Stage invocation failed", slog.Any("error", err))
			return fmt.Errorf("%s: %w", stage, err)
		}
		return nil
	})
	return nil
}

// Wait blocks until every invocation, including those triggered by other
// invocations, has finished.  It returns the first handler error.
func (l *Local) Wait() error {
	return l.g.Wait()
}

// Count reports how many times stage has been invoked.
func (l *Local) Count(stage Stage) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[stage]
}
