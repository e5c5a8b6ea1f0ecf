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
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/objalert/internal/awsclient"
	"github.com/cardinalhq/objalert/internal/logctx"
)

type lambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda invokes stage functions with the Event invocation type, so the
// call returns as soon as Lambda has queued the event.
type Lambda struct {
	api       lambdaAPI
	tracer    trace.Tracer
	functions map[Stage]string
	qualifier string
}

var _ Invoker = (*Lambda)(nil)

// NewLambda maps each stage to the function name or ARN that runs it.
// qualifier, if set, selects a version or alias for every call.
func NewLambda(client *awsclient.LambdaClient, functions map[Stage]string, qualifier string) *Lambda {
	return newLambda(client.Client, client.Tracer, functions, qualifier)
}

func newLambda(api lambdaAPI, tracer trace.Tracer, functions map[Stage]string, qualifier string) *Lambda {
	return &Lambda{api: api, tracer: tracer, functions: functions, qualifier: qualifier}
}

func (l *Lambda) InvokeAsync(ctx context.Context, stage Stage, payload any) error {
	fn, ok := l.functions[stage]
	if !ok || fn == "" {
		return &Error{Stage: stage, Err: errors.New("no function configured")}
	}

	ctx, span := l.tracer.Start(ctx, "invoke.Lambda",
		trace.WithAttributes(
			attribute.String("stage", stage.String()),
			attribute.String("function", fn),
		),
	)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Stage: stage, Err: fmt.Errorf("encode payload: %w", err)}
	}

	input := &lambda.InvokeInput{
		FunctionName:   aws.String(fn),
		InvocationType: types.InvocationTypeEvent,
		Payload:        body,
	}
	if l.qualifier != "" {
		input.Qualifier = aws.String(l.qualifier)
	}

	out, err := l.api.Invoke(ctx, input)
	if err != nil {
		span.RecordError(err)
		return &Error{Stage: stage, Err: err}
	}
	if out.StatusCode != http.StatusAccepted {
		return &Error{Stage: stage, Err: fmt.Errorf("unexpected status %d", out.StatusCode)}
	}

	logctx.FromContext(ctx).Debug("Invoked stage",
		slog.String("stage", stage.String()),
		slog.String("function", fn),
		slog.Int("payloadBytes", len(body)))
	return nil
}
