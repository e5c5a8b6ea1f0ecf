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

package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/objalert/internal/analyzer"
	"github.com/cardinalhq/objalert/internal/awsclient"
)

type publishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes the JSON summary to a topic.
type SNS struct {
	api      publishAPI
	tracer   trace.Tracer
	topicARN string
}

var _ analyzer.Publisher = (*SNS)(nil)

func NewSNS(client *awsclient.SNSClient, topicARN string) *SNS {
	return &SNS{api: client.Client, tracer: client.Tracer, topicARN: topicARN}
}

func (s *SNS) Publish(ctx context.Context, rec *analyzer.Record) error {
	ctx, span := s.tracer.Start(ctx, "alerts.SNS.Publish",
		trace.WithAttributes(attribute.String("topic", s.topicARN)),
	)
	defer span.End()

	body, err := json.MarshalIndent(rec.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(Subject(rec)),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish to %s: %w", s.topicARN, err)
	}
	return nil
}
