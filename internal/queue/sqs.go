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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cardinalhq/objalert/internal/awsclient"
	"github.com/cardinalhq/objalert/internal/logctx"
)

type sqsAPI interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQS is a Queue backed by an Amazon SQS standard queue.
type SQS struct {
	client   sqsAPI
	queueURL string
}

var _ Queue = (*SQS)(nil)

func NewSQS(client *awsclient.SQSClient, queueURL string) *SQS {
	return newSQS(client.Client, queueURL)
}

func newSQS(client sqsAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

func (q *SQS) SendBatch(ctx context.Context, entries []SendEntry) ([]SendFailure, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > MaxBatchSize {
		return nil, &Error{Op: "send", Err: fmt.Errorf("batch of %d entries exceeds limit of %d", len(entries), MaxBatchSize)}
	}

	reqs := make([]types.SendMessageBatchRequestEntry, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, types.SendMessageBatchRequestEntry{
			Id:          aws.String(e.ID),
			MessageBody: aws.String(e.Body),
		})
	}

	out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(q.queueURL),
		Entries:  reqs,
	})
	if err != nil {
		return nil, &Error{Op: "send", Err: err}
	}

	failures := make([]SendFailure, 0, len(out.Failed))
	for _, f := range out.Failed {
		failures = append(failures, SendFailure{
			ID:          aws.ToString(f.Id),
			Code:        aws.ToString(f.Code),
			Message:     aws.ToString(f.Message),
			SenderFault: f.SenderFault,
		})
	}
	return failures, nil
}

func (q *SQS) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	maxMessages = min(max(maxMessages, 1), MaxBatchSize)
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, &Error{Op: "receive", Err: err}
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (q *SQS) DeleteBatch(ctx context.Context, receipts []string) error {
	var errs []error
	for _, group := range chunk(receipts, MaxBatchSize) {
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(group))
		for i, r := range group {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: aws.String(r),
			})
		}
		out, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, f := range out.Failed {
			logctx.FromContext(ctx).Warn("Failed to delete SQS message",
				slog.String("id", aws.ToString(f.Id)),
				slog.String("code", aws.ToString(f.Code)),
				slog.String("message", aws.ToString(f.Message)))
		}
	}
	if len(errs) > 0 {
		return &Error{Op: "delete", Err: errors.Join(errs...)}
	}
	return nil
}

func (q *SQS) ApproximateDepth(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, &Error{Op: "attributes", Err: err}
	}
	raw, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Op: "attributes", Err: fmt.Errorf("parse ApproximateNumberOfMessages %q: %w", raw, err)}
	}
	return n, nil
}
