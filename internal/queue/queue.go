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
	"fmt"
	"time"
)

// MaxBatchSize is the largest number of entries a single batch send, receive
// or delete call may carry.
const MaxBatchSize = 10

// SendEntry is one message in a batch send request.  ID must be unique within
// the batch and is echoed back in SendFailure.
type SendEntry struct {
	ID   string
	Body string
}

// SendFailure describes one entry the queue service refused to enqueue.
type SendFailure struct {
	ID          string
	Code        string
	Message     string
	SenderFault bool
}

// Message is a received queue message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type Sender interface {
	SendBatch(ctx context.Context, entries []SendEntry) ([]SendFailure, error)
}

type Receiver interface {
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
}

type Deleter interface {
	DeleteBatch(ctx context.Context, receipts []string) error
}

type DepthReporter interface {
	ApproximateDepth(ctx context.Context) (int, error)
}

// Queue is the full set of operations the pipeline needs from a broker.
type Queue interface {
	Sender
	Receiver
	Deleter
	DepthReporter
}

// Error wraps a failed call to the queue service.  These are infrastructure
// failures and are never retried inside the pipeline.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
