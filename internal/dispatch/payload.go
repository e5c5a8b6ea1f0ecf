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

package dispatch

import (
	"context"
	"log/slog"

	"github.com/cardinalhq/objalert/internal/logctx"
	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/s3event"
)

// Payload is the analyzer stage's invocation payload.  Receipts are only
// used to delete the messages once analysis is done; they do not line up
// one-to-one with the keys.
type Payload struct {
	S3Objects   []string `json:"S3Objects"`
	SQSReceipts []string `json:"SQSReceipts"`
}

// BuildPayload merges the keys of every well-formed message into one
// payload.  Receipts of malformed messages are returned separately so the
// caller can delete them.  The payload is nil when no message carried a key.
func BuildPayload(ctx context.Context, msgs []queue.Message, opts ...s3event.DecodeOption) (*Payload, []string) {
	ll := logctx.FromContext(ctx)

	var p Payload
	var invalid []string
	for _, m := range msgs {
		keys, err := s3event.Decode([]byte(m.Body), opts...)
		if err != nil {
			ll.Warn("Invalid queue message body",
				slog.String("messageID", m.ID),
				slog.String("body", m.Body),
				slog.Any("error", err))
			invalid = append(invalid, m.ReceiptHandle)
			continue
		}
		p.S3Objects = append(p.S3Objects, keys...)
		p.SQSReceipts = append(p.SQSReceipts, m.ReceiptHandle)
	}

	if len(p.S3Objects) == 0 {
		return nil, invalid
	}
	return &p, invalid
}
