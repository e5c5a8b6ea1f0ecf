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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/s3event"
)

func message(t *testing.T, receipt string, keys ...string) queue.Message {
	t.Helper()
	body, err := s3event.Encode(keys)
	require.NoError(t, err)
	return queue.Message{ID: receipt, Body: string(body), ReceiptHandle: receipt}
}

func TestBuildPayloadDropsMalformed(t *testing.T) {
	msgs := []queue.Message{
		message(t, "r-good", "bin/a.exe", "bin/b.dll"),
		{ID: "r-bad", Body: `{"Records":[{"s3":{}}]}`, ReceiptHandle: "r-bad"},
	}

	payload, invalid := BuildPayload(context.Background(), msgs)
	require.NotNil(t, payload)
	assert.Equal(t, []string{"bin/a.exe", "bin/b.dll"}, payload.S3Objects)
	assert.Equal(t, []string{"r-good"}, payload.SQSReceipts)
	assert.Equal(t, []string{"r-bad"}, invalid)
}

func TestBuildPayloadMergesMessages(t *testing.T) {
	msgs := []queue.Message{
		message(t, "r1", "a"),
		message(t, "r2", "b", "c"),
		message(t, "r3", "d"),
	}
	payload, invalid := BuildPayload(context.Background(), msgs)
	require.NotNil(t, payload)
	assert.Empty(t, invalid)
	assert.Equal(t, []string{"a", "b", "c", "d"}, payload.S3Objects)
	assert.Equal(t, []string{"r1", "r2", "r3"}, payload.SQSReceipts)

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"S3Objects":["a","b","c","d"],"SQSReceipts":["r1","r2","r3"]}`, string(b))
}

func TestBuildPayloadAllInvalid(t *testing.T) {
	msgs := []queue.Message{
		{ID: "1", Body: "not json", ReceiptHandle: "r1"},
		{ID: "2", Body: `{"Messages":[]}`, ReceiptHandle: "r2"},
		{ID: "3", Body: `{"Service":"Amazon S3","Event":"s3:TestEvent"}`, ReceiptHandle: "r3"},
	}
	payload, invalid := BuildPayload(context.Background(), msgs)
	assert.Nil(t, payload)
	assert.Equal(t, []string{"r1", "r2", "r3"}, invalid)
}

func TestBuildPayloadKeepsRawKeys(t *testing.T) {
	msgs := []queue.Message{message(t, "r1", "a+b.txt", "reports/100%.pdf")}
	payload, invalid := BuildPayload(context.Background(), msgs)
	require.NotNil(t, payload)
	assert.Empty(t, invalid)
	assert.Equal(t, []string{"a+b.txt", "reports/100%.pdf"}, payload.S3Objects)
}

func TestBuildPayloadFormEscapedKeys(t *testing.T) {
	msgs := []queue.Message{{
		ID:            "n1",
		Body:          `{"Records":[{"s3":{"object":{"key":"uploads/my+file.txt"}}},{"s3":{"object":{"key":"reports/100%.pdf"}}}]}`,
		ReceiptHandle: "n1",
	}}
	payload, invalid := BuildPayload(context.Background(), msgs, s3event.WithFormEscapedKeys())
	require.NotNil(t, payload)
	assert.Empty(t, invalid)
	assert.Equal(t, []string{"uploads/my file.txt", "reports/100%.pdf"}, payload.S3Objects)
}
