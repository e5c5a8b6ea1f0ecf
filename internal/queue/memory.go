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

package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Queue with at-least-once semantics: a received
// message stays in flight until deleted and becomes visible again once its
// visibility timeout lapses.
type Memory struct {
	mu         sync.Mutex
	visibility time.Duration
	nextID     int
	ready      []Message
	inflight   map[string]inflightMessage
	now        func() time.Time
}

type inflightMessage struct {
	msg       Message
	visibleAt time.Time
}

var _ Queue = (*Memory)(nil)

func NewMemory(visibility time.Duration) *Memory {
	return &Memory{
		visibility: visibility,
		inflight:   map[string]inflightMessage{},
		now:        time.Now,
	}
}

func (q *Memory) SendBatch(_ context.Context, entries []SendEntry) ([]SendFailure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.nextID++
		q.ready = append(q.ready, Message{ID: strconv.Itoa(q.nextID), Body: e.Body})
	}
	return nil, nil
}

func (q *Memory) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	maxMessages = min(max(maxMessages, 1), MaxBatchSize)
	deadline := q.now().Add(wait)
	for {
		if msgs := q.take(maxMessages); len(msgs) > 0 {
			return msgs, nil
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, &Error{Op: "receive", Err: ctx.Err()}
		case <-time.After(min(50*time.Millisecond, deadline.Sub(q.now()))):
		}
	}
}

func (q *Memory) take(maxMessages int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for receipt, m := range q.inflight {
		if !now.Before(m.visibleAt) {
			delete(q.inflight, receipt)
			q.ready = append(q.ready, m.msg)
		}
	}

	n := min(maxMessages, len(q.ready))
	if n == 0 {
		return nil
	}
	out := make([]Message, 0, n)
	for _, m := range q.ready[:n] {
		m.ReceiptHandle = uuid.NewString()
		q.inflight[m.ReceiptHandle] = inflightMessage{msg: m, visibleAt: now.Add(q.visibility)}
		out = append(out, m)
	}
	q.ready = q.ready[n:]
	return out
}

func (q *Memory) DeleteBatch(_ context.Context, receipts []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range receipts {
		delete(q.inflight, r)
	}
	return nil
}

func (q *Memory) ApproximateDepth(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), nil
}

// InFlight reports how many messages have been received but not deleted.
func (q *Memory) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
