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

package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseStage(" Dispatcher ")
	require.NoError(t, err)
	assert.Equal(t, StageDispatcher, got)

	_, err = ParseStage("enumerate-everything")
	assert.Error(t, err)
	assert.Equal(t, "Stage(0)", StageUnknown.String())
}

type fakeLambda struct {
	inputs []*lambda.InvokeInput
	status int32
	err    error
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &lambda.InvokeOutput{StatusCode: f.status}, nil
}

func TestLambdaInvokeAsync(t *testing.T) {
	api := &fakeLambda{status: 202}
	l := newLambda(api, noop.NewTracerProvider().Tracer(""), map[Stage]string{
		StageAnalyzer: "objalert-analyzer",
	}, "live")

	require.NoError(t, l.InvokeAsync(context.Background(), StageAnalyzer, map[string][]string{"S3Objects": {"a"}}))
	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, types.InvocationTypeEvent, in.InvocationType)
	assert.Equal(t, "objalert-analyzer", aws.ToString(in.FunctionName))
	assert.Equal(t, "live", aws.ToString(in.Qualifier))
	assert.JSONEq(t, `{"S3Objects":["a"]}`, string(in.Payload))
}

func TestLambdaInvokeErrors(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("")
	var invokeErr *Error

	l := newLambda(&fakeLambda{status: 202}, tracer, map[Stage]string{}, "")
	err := l.InvokeAsync(context.Background(), StageBatcher, nil)
	require.ErrorAs(t, err, &invokeErr)
	assert.Equal(t, StageBatcher, invokeErr.Stage)

	cause := errors.New("throttled")
	l = newLambda(&fakeLambda{err: cause}, tracer, map[Stage]string{StageBatcher: "b"}, "")
	assert.ErrorIs(t, l.InvokeAsync(context.Background(), StageBatcher, nil), cause)

	l = newLambda(&fakeLambda{status: 200}, tracer, map[Stage]string{StageBatcher: "b"}, "")
	assert.Error(t, l.InvokeAsync(context.Background(), StageBatcher, nil))
}

func TestLocalRunsChainedInvocations(t *testing.T) {
	l := NewLocal(context.Background(), 1, time.Minute)

	var analyzed atomic.Int32
	l.Register(StageAnalyzer, func(ctx context.Context, payload []byte) error {
		var keys []string
		if err := json.Unmarshal(payload, &keys); err != nil {
			return err
		}
		analyzed.Add(int32(len(keys)))
		return nil
	})
	l.Register(StageDispatcher, func(ctx context.Context, payload []byte) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		for range 3 {
			if err := l.InvokeAsync(ctx, StageAnalyzer, []string{"a", "b"}); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, l.InvokeAsync(context.Background(), StageDispatcher, nil))
	require.NoError(t, l.Wait())
	assert.Equal(t, int32(6), analyzed.Load())
	assert.Equal(t, 3, l.Count(StageAnalyzer))
	assert.Equal(t, 1, l.Count(StageDispatcher))
}

func TestLocalUnregisteredAndFailing(t *testing.T) {
	l := NewLocal(context.Background(), 2, time.Minute)
	assert.Error(t, l.InvokeAsync(context.Background(), StageBatcher, nil))

	cause := errors.New("bad object")
	l.Register(StageBatcher, func(context.Context, []byte) error { return cause })
	require.NoError(t, l.InvokeAsync(context.Background(), StageBatcher, nil))
	assert.ErrorIs(t, l.Wait(), cause)
}
