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

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/objalert/internal/batcher"
	"github.com/cardinalhq/objalert/internal/budget"
	"github.com/cardinalhq/objalert/internal/enumerator"
	"github.com/cardinalhq/objalert/internal/invoke"
	"github.com/cardinalhq/objalert/internal/queue"
	"github.com/cardinalhq/objalert/internal/s3event"
)

type sliceEnumerator struct {
	keys     []string
	pageSize int
	failAt   int
	calls    int
}

func (s *sliceEnumerator) ListPage(_ context.Context, cursor *string) (enumerator.Page, error) {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return enumerator.Page{}, &enumerator.ListError{Bucket: "b", Err: errors.New("denied")}
	}
	start := 0
	if cursor != nil {
		start, _ = strconv.Atoi(*cursor)
	}
	end := min(start+s.pageSize, len(s.keys))
	page := enumerator.Page{Keys: s.keys[start:end]}
	if end < len(s.keys) {
		next := strconv.Itoa(end)
		page.Next = &next
	}
	return page, nil
}

type recordingInvoker struct {
	stages   []invoke.Stage
	payloads [][]byte
}

func (r *recordingInvoker) InvokeAsync(_ context.Context, stage invoke.Stage, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.stages = append(r.stages, stage)
	r.payloads = append(r.payloads, b)
	return nil
}

type collectingSender struct {
	keys []string
}

func (c *collectingSender) SendBatch(_ context.Context, entries []queue.SendEntry) ([]queue.SendFailure, error) {
	for _, e := range entries {
		k, err := s3event.Decode([]byte(e.Body))
		if err != nil {
			return nil, err
		}
		c.keys = append(c.keys, k...)
	}
	return nil, nil
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("k%d", i+1)
	}
	return out
}

func TestContinuationAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	enum := &sliceEnumerator{keys: keys(25), pageSize: 10}
	sender := &collectingSender{}
	packer, err := batcher.NewPacker(sender, 3, 10)
	require.NoError(t, err)
	inv := &recordingInvoker{}
	c := NewController(enum, packer, inv, 10*time.Second)

	// Enough time for two pages, then below the margin.
	first, err := c.Run(ctx, budget.NewSequence(30*time.Second, 20*time.Second, 5*time.Second), Continuation{})
	require.NoError(t, err)
	assert.Equal(t, StateRescheduled, first.State)
	assert.Equal(t, 2, first.Pages)
	assert.Equal(t, 20, first.KeysListed)
	assert.Equal(t, keys(20), sender.keys, "final partial flush sends everything listed")

	require.Len(t, inv.stages, 1)
	assert.Equal(t, invoke.StageBatcher, inv.stages[0])
	var cont Continuation
	require.NoError(t, json.Unmarshal(inv.payloads[0], &cont))
	require.NotNil(t, cont.ContinuationToken)
	assert.Equal(t, "20", *cont.ContinuationToken, "cursor points at k21")
	assert.JSONEq(t, `{"S3ContinuationToken":"20"}`, string(inv.payloads[0]))

	second, err := c.Run(ctx, budget.NewSequence(30*time.Second), cont)
	require.NoError(t, err)
	assert.Equal(t, StateDone, second.State)
	assert.Equal(t, 1, second.Pages)
	assert.Equal(t, 5, second.KeysListed)
	assert.Nil(t, second.Next)
	assert.Len(t, inv.stages, 1, "no reschedule once exhausted")

	assert.Equal(t, keys(25), sender.keys)
}

func TestRunWithoutBudgetReschedulesFromSameCursor(t *testing.T) {
	enum := &sliceEnumerator{keys: keys(5), pageSize: 10}
	packer, err := batcher.NewPacker(&collectingSender{}, 1, 10)
	require.NoError(t, err)
	inv := &recordingInvoker{}
	c := NewController(enum, packer, inv, 10*time.Second)

	res, err := c.Run(context.Background(), budget.NewSequence(time.Second), Continuation{})
	require.NoError(t, err)
	assert.Equal(t, StateRescheduled, res.State)
	assert.Zero(t, enum.calls)
	assert.JSONEq(t, `{}`, string(inv.payloads[0]))
}

func TestListErrorAbortsWithoutFlushing(t *testing.T) {
	enum := &sliceEnumerator{keys: keys(30), pageSize: 10, failAt: 2}
	sender := &collectingSender{}
	packer, err := batcher.NewPacker(sender, 2, 5)
	require.NoError(t, err)
	inv := &recordingInvoker{}
	c := NewController(enum, packer, inv, 10*time.Second)

	res, err := c.Run(context.Background(), budget.NewSequence(time.Minute), Continuation{})
	require.Error(t, err)
	assert.True(t, IsListError(err))
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, keys(10), sender.keys, "the full batch sent before the failure stays sent")
	assert.Empty(t, inv.stages)
}
