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

// Package ingest drives enumeration and batch packing within one bounded
// invocation, rescheduling itself with a continuation cursor when time runs
// short.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/objalert/internal/budget"
	"github.com/cardinalhq/objalert/internal/enumerator"
	"github.com/cardinalhq/objalert/internal/invoke"
	"github.com/cardinalhq/objalert/internal/logctx"
)

// Continuation is the batcher stage's invocation payload.  A nil token
// starts the listing from the beginning.
type Continuation struct {
	ContinuationToken *string `json:"S3ContinuationToken,omitempty"`
}

type State int

const (
	StateDone State = iota
	StateRescheduled
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateRescheduled:
		return "rescheduled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Result struct {
	State      State
	KeysListed int
	Pages      int
	// Next is the cursor handed to the rescheduled invocation.
	Next *string
}

// KeyPacker accepts keys and sends them on in batches.
type KeyPacker interface {
	AddKey(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

type Controller struct {
	enum         enumerator.Enumerator
	packer       KeyPacker
	invoker      invoke.Invoker
	safetyMargin time.Duration
}

// DefaultSafetyMargin covers one page fetch plus one batch flush.
const DefaultSafetyMargin = 10 * time.Second

func NewController(enum enumerator.Enumerator, packer KeyPacker, invoker invoke.Invoker, safetyMargin time.Duration) *Controller {
	if safetyMargin <= 0 {
		safetyMargin = DefaultSafetyMargin
	}
	return &Controller{
		enum:         enum,
		packer:       packer,
		invoker:      invoker,
		safetyMargin: safetyMargin,
	}
}

// Run lists pages starting at cont while more than the safety margin remains
// in b.  A listing error aborts the run; batches already flushed stay queued.
func (c *Controller) Run(ctx context.Context, b budget.Budget, cont Continuation) (Result, error) {
	ll := logctx.FromContext(ctx)

	var res Result
	cursor := cont.ContinuationToken
	exhausted := false

	for !exhausted && b.Remaining() > c.safetyMargin {
		page, err := c.enum.ListPage(ctx, cursor)
		if err != nil {
			return res, err
		}
		res.Pages++

		for _, key := range page.Keys {
			if err := c.packer.AddKey(ctx, key); err != nil {
				return res, err
			}
		}
		res.KeysListed += len(page.Keys)

		cursor = page.Next
		exhausted = cursor == nil
	}

	if err := c.packer.Flush(ctx); err != nil {
		return res, err
	}

	if exhausted {
		res.State = StateDone
		ll.Info("Enumeration complete",
			slog.Int("keys", res.KeysListed),
			slog.Int("pages", res.Pages))
		return res, nil
	}

	res.State = StateRescheduled
	res.Next = cursor
	if err := c.invoker.InvokeAsync(ctx, invoke.StageBatcher, Continuation{ContinuationToken: cursor}); err != nil {
		return res, fmt.Errorf("reschedule batcher: %w", err)
	}
	ll.Info("Time budget exhausted, rescheduled enumeration",
		slog.Int("keys", res.KeysListed),
		slog.Int("pages", res.Pages),
		slog.Bool("fromStart", cursor == nil))
	return res, nil
}

// IsListError reports whether err came from the object listing.
func IsListError(err error) bool {
	var le *enumerator.ListError
	return errors.As(err, &le)
}
