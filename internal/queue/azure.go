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
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/cardinalhq/objalert/internal/azureclient"
)

type azureAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
	GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error)
}

// Azure is a Queue backed by Azure Queue Storage.  Azure has no batch send
// or delete, so batches are issued entry by entry; receipt handles carry both
// the message ID and the pop receipt Azure needs to delete a message.
type Azure struct {
	client     azureAPI
	visibility time.Duration
	pollPause  time.Duration
}

var _ Queue = (*Azure)(nil)

func NewAzure(client *azureclient.QueueClient, visibility time.Duration) *Azure {
	return newAzure(client.QueueClient, visibility)
}

func newAzure(client azureAPI, visibility time.Duration) *Azure {
	return &Azure{
		client:     client,
		visibility: visibility,
		pollPause:  time.Second,
	}
}

// SendBatch enqueues entries one at a time.  Per-entry errors, even when
// every entry fails, are reported as failures so the caller can retry them.
func (q *Azure) SendBatch(ctx context.Context, entries []SendEntry) ([]SendFailure, error) {
	if len(entries) > MaxBatchSize {
		return nil, &Error{Op: "send", Err: fmt.Errorf("batch of %d entries exceeds limit of %d", len(entries), MaxBatchSize)}
	}
	var failures []SendFailure
	for _, e := range entries {
		if _, err := q.client.EnqueueMessage(ctx, e.Body, nil); err != nil {
			failures = append(failures, SendFailure{ID: e.ID, Message: err.Error()})
		}
	}
	return failures, nil
}

// Receive emulates long polling: Azure dequeues return immediately, so the
// queue is polled until a message appears or the wait elapses.
func (q *Azure) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	n := int32(min(max(maxMessages, 1), MaxBatchSize))
	vis := int32(q.visibility / time.Second)
	deadline := time.Now().Add(wait)

	for {
		result, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
			NumberOfMessages:  &n,
			VisibilityTimeout: &vis,
		})
		if err != nil {
			return nil, &Error{Op: "receive", Err: err}
		}

		msgs := make([]Message, 0, len(result.Messages))
		for _, m := range result.Messages {
			if m == nil || m.MessageID == nil || m.PopReceipt == nil {
				continue
			}
			var body string
			if m.MessageText != nil {
				body = string(decodeIfBase64(*m.MessageText))
			}
			msgs = append(msgs, Message{
				ID:            *m.MessageID,
				Body:          body,
				ReceiptHandle: *m.MessageID + ":" + *m.PopReceipt,
			})
		}
		if len(msgs) > 0 || !time.Now().Add(q.pollPause).Before(deadline) {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, &Error{Op: "receive", Err: ctx.Err()}
		case <-time.After(q.pollPause):
		}
	}
}

func (q *Azure) DeleteBatch(ctx context.Context, receipts []string) error {
	var errs []error
	for _, r := range receipts {
		id, pop, ok := strings.Cut(r, ":")
		if !ok {
			errs = append(errs, fmt.Errorf("invalid receipt handle %q", r))
			continue
		}
		if _, err := q.client.DeleteMessage(ctx, id, pop, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &Error{Op: "delete", Err: errors.Join(errs...)}
	}
	return nil
}

func (q *Azure) ApproximateDepth(ctx context.Context) (int, error) {
	props, err := q.client.GetProperties(ctx, nil)
	if err != nil {
		return 0, &Error{Op: "properties", Err: err}
	}
	if props.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return int(*props.ApproximateMessagesCount), nil
}

// decodeIfBase64 undoes the base64 wrapping some Azure producers apply to
// message text.  Anything that does not decode cleanly is returned as is.
func decodeIfBase64(s string) []byte {
	if len(s) == 0 || len(s)%4 != 0 {
		return []byte(s)
	}
	for _, c := range s {
		if !(('A' <= c && c <= 'Z') ||
			('a' <= c && c <= 'z') ||
			('0' <= c && c <= '9') ||
			c == '+' || c == '/' || c == '=') {
			return []byte(s)
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return decoded
}
