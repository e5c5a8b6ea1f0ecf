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
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAzure struct {
	enqueued   []string
	enqueueErr func(body string) error
	deleted    [][2]string
}

func (f *fakeAzure) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.enqueueErr != nil {
		if err := f.enqueueErr(content); err != nil {
			return azqueue.EnqueueMessagesResponse{}, err
		}
	}
	f.enqueued = append(f.enqueued, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeAzure) DequeueMessages(_ context.Context, _ *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error) {
	return azqueue.DequeueMessagesResponse{}, nil
}

func (f *fakeAzure) DeleteMessage(_ context.Context, id string, pop string, _ *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.deleted = append(f.deleted, [2]string{id, pop})
	return azqueue.DeleteMessageResponse{}, nil
}

func (f *fakeAzure) GetProperties(_ context.Context, _ *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error) {
	return azqueue.GetQueuePropertiesResponse{}, nil
}

func TestAzureSendBatchAllFailedIsNotAnError(t *testing.T) {
	fake := &fakeAzure{enqueueErr: func(string) error { return errors.New("throttled") }}
	q := newAzure(fake, time.Minute)

	failures, err := q.SendBatch(context.Background(), []SendEntry{{ID: "0", Body: "a"}, {ID: "1", Body: "b"}})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "0", failures[0].ID)
	assert.Equal(t, "1", failures[1].ID)
	assert.Equal(t, "throttled", failures[1].Message)
}

func TestAzureSendBatchPartialFailure(t *testing.T) {
	fake := &fakeAzure{enqueueErr: func(body string) error {
		if body == "b" {
			return errors.New("too large")
		}
		return nil
	}}
	q := newAzure(fake, time.Minute)

	failures, err := q.SendBatch(context.Background(), []SendEntry{{ID: "0", Body: "a"}, {ID: "1", Body: "b"}, {ID: "2", Body: "c"}})
	require.NoError(t, err)
	assert.Equal(t, []SendFailure{{ID: "1", Message: "too large"}}, failures)
	assert.Equal(t, []string{"a", "c"}, fake.enqueued)
}

func TestAzureSendBatchTooLarge(t *testing.T) {
	q := newAzure(&fakeAzure{}, time.Minute)
	_, err := q.SendBatch(context.Background(), make([]SendEntry, MaxBatchSize+1))
	require.Error(t, err)
}

func TestAzureDeleteBatchSplitsReceipts(t *testing.T) {
	fake := &fakeAzure{}
	q := newAzure(fake, time.Minute)

	err := q.DeleteBatch(context.Background(), []string{"m1:pop1", "bad"})
	require.Error(t, err)
	assert.Equal(t, [][2]string{{"m1", "pop1"}}, fake.deleted)
}

func TestAzureApproximateDepthUnset(t *testing.T) {
	q := newAzure(&fakeAzure{}, time.Minute)
	n, err := q.ApproximateDepth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
