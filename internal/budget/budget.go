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

// Package budget reports how much execution time an invocation has left.
package budget

import (
	"context"
	"time"
)

// Budget is a source of remaining execution time.  Stages consult it between
// units of work and stop cleanly when it runs low.
type Budget interface {
	Remaining() time.Duration
}

// Deadline is a Budget measured against a fixed point in time.
type Deadline struct {
	at  time.Time
	now func() time.Time
}

func NewDeadline(at time.Time) *Deadline {
	return &Deadline{at: at, now: time.Now}
}

// FromContext uses the context deadline, as set by the Lambda runtime.  A
// context without a deadline gets fallback from now.
func FromContext(ctx context.Context, fallback time.Duration) *Deadline {
	if at, ok := ctx.Deadline(); ok {
		return NewDeadline(at)
	}
	return NewDeadline(time.Now().Add(fallback))
}

func (d *Deadline) Remaining() time.Duration {
	return max(d.at.Sub(d.now()), 0)
}

// Sequence replays a fixed series of remaining times, repeating the last one
// once exhausted.  It makes budget-driven loops deterministic in tests.
type Sequence struct {
	values []time.Duration
	calls  int
}

func NewSequence(values ...time.Duration) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Remaining() time.Duration {
	if len(s.values) == 0 {
		return 0
	}
	i := min(s.calls, len(s.values)-1)
	s.calls++
	return s.values[i]
}

// Calls reports how many times Remaining was consulted.
func (s *Sequence) Calls() int {
	return s.calls
}
