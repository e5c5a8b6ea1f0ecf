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

// Package dispatch drains the work queue into asynchronous analyzer
// invocations.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/objalert/internal/budget"
	"github.com/cardinalhq/objalert/internal/invoke"
	"github.com/cardinalhq/objalert/internal/logctx"
	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/s3event"
)

type Config struct {
	// MaxDispatches caps analyzer invocations per dispatcher run.
	MaxDispatches int
	// WaitTime is the long-poll wait of each receive call.
	WaitTime time.Duration
	// ProcessingMargin is the time needed beyond WaitTime to build and send
	// one payload.
	ProcessingMargin time.Duration
	MaxMessages      int
	// EmptyPollLimit ends the run after that many consecutive receives return
	// nothing.  Zero keeps polling until the ceiling or the budget stops it.
	EmptyPollLimit int
	// UnescapeKeys treats message keys as form-escaped, as S3's own
	// notifications write them.
	UnescapeKeys bool
}

func DefaultConfig() Config {
	return Config{
		MaxDispatches:    20,
		WaitTime:         10 * time.Second,
		ProcessingMargin: 5 * time.Second,
		MaxMessages:      queue.MaxBatchSize,
	}
}

type StopReason int

const (
	StoppedCeiling StopReason = iota
	StoppedBudget
	StoppedDrained
)

func (r StopReason) String() string {
	switch r {
	case StoppedCeiling:
		return "ceiling"
	case StoppedBudget:
		return "budget"
	case StoppedDrained:
		return "drained"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

type Result struct {
	StartDepth       int
	Polls            int
	MessagesReceived int
	InvalidMessages  int
	Dispatches       int
	KeysDispatched   int
	Stopped          StopReason
	Rescheduled      bool
}

// Work is the queue surface the dispatcher needs.  Valid messages are left
// for the analyzer to delete.
type Work interface {
	queue.Receiver
	queue.Deleter
	queue.DepthReporter
}

type Dispatcher struct {
	q       Work
	invoker invoke.Invoker
	cfg     Config
}

func NewDispatcher(q Work, invoker invoke.Invoker, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > queue.MaxBatchSize {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.MaxDispatches <= 0 {
		cfg.MaxDispatches = def.MaxDispatches
	}
	return &Dispatcher{q: q, invoker: invoker, cfg: cfg}
}

// Run polls until the dispatch ceiling or the time budget stops it.  If the
// queue held more messages at the start than this run received, the
// dispatcher reschedules itself with an empty payload; polling then resumes
// from whatever is still queued.
func (d *Dispatcher) Run(ctx context.Context, b budget.Budget) (Result, error) {
	ll := logctx.FromContext(ctx)

	var res Result
	depth, err := d.q.ApproximateDepth(ctx)
	if err != nil {
		ll.Warn("Failed to read queue depth, assuming empty", slog.Any("error", err))
		depth = 0
	}
	res.StartDepth = depth

	emptyPolls := 0
	for {
		if res.Dispatches >= d.cfg.MaxDispatches {
			res.Stopped = StoppedCeiling
			break
		}
		if b.Remaining() <= d.cfg.WaitTime+d.cfg.ProcessingMargin {
			res.Stopped = StoppedBudget
			break
		}
		if d.cfg.EmptyPollLimit > 0 && emptyPolls >= d.cfg.EmptyPollLimit {
			res.Stopped = StoppedDrained
			break
		}

		msgs, err := d.q.Receive(ctx, d.cfg.MaxMessages, d.cfg.WaitTime)
		if err != nil {
			return res, err
		}
		res.Polls++
		res.MessagesReceived += len(msgs)
		if len(msgs) == 0 {
			emptyPolls++
			continue
		}
		emptyPolls = 0

		var opts []s3event.DecodeOption
		if d.cfg.UnescapeKeys {
			opts = append(opts, s3event.WithFormEscapedKeys())
		}
		payload, invalid := BuildPayload(ctx, msgs, opts...)
		if len(invalid) > 0 {
			res.InvalidMessages += len(invalid)
			ll.Warn("Removing invalid messages", slog.Int("count", len(invalid)))
			if err := d.q.DeleteBatch(ctx, invalid); err != nil {
				ll.Error("Failed to delete invalid messages", slog.Any("error", err))
			}
		}
		if payload == nil {
			continue
		}

		if err := d.invoker.InvokeAsync(ctx, invoke.StageAnalyzer, payload); err != nil {
			return res, err
		}
		res.Dispatches++
		res.KeysDispatched += len(payload.S3Objects)
		ll.Info("Sent objects to an analyzer",
			slog.Int("objects", len(payload.S3Objects)),
			slog.Int("messages", len(payload.SQSReceipts)))
	}

	if res.Stopped != StoppedDrained && res.StartDepth > res.MessagesReceived {
		if err := d.invoker.InvokeAsync(ctx, invoke.StageDispatcher, struct{}{}); err != nil {
			return res, fmt.Errorf("reschedule dispatcher: %w", err)
		}
		res.Rescheduled = true
	}

	ll.Info("Dispatcher finished",
		slog.Int("analyzers", res.Dispatches),
		slog.Int("keys", res.KeysDispatched),
		slog.Int("startDepth", res.StartDepth),
		slog.String("stopped", res.Stopped.String()),
		slog.Bool("rescheduled", res.Rescheduled))
	return res, nil
}
