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

// Package batcher packs object keys into queue messages and sends them in
// batches.
package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cardinalhq/objalert/internal/logctx"
	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/s3event"
)

// Stats counts what a Packer has sent so far.
type Stats struct {
	Flushes      int
	KeysSent     int
	KeysDropped  int
	MessagesSent int
}

// Packer groups keys into up to messagesPerBatch messages of up to
// objectsPerMessage keys each.  When the last slot fills, the batch is sent
// synchronously.  A single flush therefore never carries more than
// objectsPerMessage * messagesPerBatch keys.
//
// A Packer is not safe for concurrent use.
type Packer struct {
	sender            queue.Sender
	objectsPerMessage int
	messagesPerBatch  int

	slots [][]string
	slot  int

	// first and last key since the previous flush, logged with each batch.
	firstKey *string
	lastKey  *string

	stats Stats
}

func NewPacker(sender queue.Sender, objectsPerMessage, messagesPerBatch int) (*Packer, error) {
	if objectsPerMessage < 1 {
		return nil, fmt.Errorf("objects per message must be at least 1, got %d", objectsPerMessage)
	}
	if messagesPerBatch < 1 || messagesPerBatch > queue.MaxBatchSize {
		return nil, fmt.Errorf("messages per batch must be between 1 and %d, got %d", queue.MaxBatchSize, messagesPerBatch)
	}
	p := &Packer{
		sender:            sender,
		objectsPerMessage: objectsPerMessage,
		messagesPerBatch:  messagesPerBatch,
		slots:             make([][]string, messagesPerBatch),
	}
	for i := range p.slots {
		p.slots[i] = make([]string, 0, objectsPerMessage)
	}
	return p, nil
}

// AddKey appends key to the current message.  If that completes the batch,
// the batch is flushed before AddKey returns.
func (p *Packer) AddKey(ctx context.Context, key string) error {
	if p.firstKey == nil {
		p.firstKey = &key
	}
	p.lastKey = &key

	p.slots[p.slot] = append(p.slots[p.slot], key)
	if len(p.slots[p.slot]) < p.objectsPerMessage {
		return nil
	}
	p.slot++
	if p.slot < p.messagesPerBatch {
		return nil
	}
	return p.Flush(ctx)
}

// Pending reports how many keys are waiting for the next flush.
func (p *Packer) Pending() int {
	n := 0
	for _, s := range p.slots {
		n += len(s)
	}
	return n
}

// Flush sends every non-empty message in one batch call.  Entries the queue
// refuses are logged and counted but not returned: their keys are dropped and
// picked up again by a later listing.  The packer is reset whatever the
// outcome, so the next key always starts a fresh message in slot 0.  The
// returned error is non-nil only when the send call itself failed.
func (p *Packer) Flush(ctx context.Context) error {
	if p.Pending() == 0 {
		return nil
	}
	defer p.reset()

	ll := logctx.FromContext(ctx)

	entries := make([]queue.SendEntry, 0, p.messagesPerBatch)
	keys := 0
	for i, s := range p.slots {
		if len(s) == 0 {
			continue
		}
		body, err := s3event.Encode(s)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		entries = append(entries, queue.SendEntry{ID: strconv.Itoa(i), Body: string(body)})
		keys += len(s)
	}

	ll.Info("Flushing batch",
		slog.Int("messages", len(entries)),
		slog.Int("keys", keys),
		slog.String("firstKey", *p.firstKey),
		slog.String("lastKey", *p.lastKey))

	p.stats.Flushes++
	batchesFlushed.Add(ctx, 1)

	failures, err := p.sender.SendBatch(ctx, entries)
	if err != nil {
		p.stats.KeysDropped += keys
		return fmt.Errorf("send batch: %w", err)
	}

	dropped := 0
	for _, f := range failures {
		first := ""
		n := 0
		if idx, err := strconv.Atoi(f.ID); err == nil && idx >= 0 && idx < len(p.slots) {
			n = len(p.slots[idx])
			if n > 0 {
				first = p.slots[idx][0]
			}
		}
		dropped += n
		ll.Error("Queue rejected message",
			slog.String("entryID", f.ID),
			slog.String("code", f.Code),
			slog.String("message", f.Message),
			slog.Bool("senderFault", f.SenderFault),
			slog.String("firstKey", first),
			slog.Int("keys", n))
	}
	if len(failures) > 0 {
		enqueueFailures.Add(ctx, int64(len(failures)))
	}

	p.stats.MessagesSent += len(entries) - len(failures)
	p.stats.KeysSent += keys - dropped
	p.stats.KeysDropped += dropped
	keysEnqueued.Add(ctx, int64(keys-dropped))
	return nil
}

func (p *Packer) reset() {
	for i := range p.slots {
		p.slots[i] = p.slots[i][:0]
	}
	p.slot = 0
	p.firstKey = nil
	p.lastKey = nil
}

func (p *Packer) Stats() Stats {
	return p.stats
}
