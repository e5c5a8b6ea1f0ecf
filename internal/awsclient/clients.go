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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

func (m *Manager) GetS3(_ context.Context, opts ...Option) (*S3Client, error) {
	cfg, cc := m.resolve(opts)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cc.PathStyle
	})
	return &S3Client{Client: client, Tracer: m.tracer}, nil
}

type SQSClient struct {
	Client *sqs.Client
	Tracer trace.Tracer
}

func (m *Manager) GetSQS(_ context.Context, opts ...Option) (*SQSClient, error) {
	cfg, _ := m.resolve(opts)
	return &SQSClient{Client: sqs.NewFromConfig(cfg), Tracer: m.tracer}, nil
}

type LambdaClient struct {
	Client *lambda.Client
	Tracer trace.Tracer
}

func (m *Manager) GetLambda(_ context.Context, opts ...Option) (*LambdaClient, error) {
	cfg, _ := m.resolve(opts)
	return &LambdaClient{Client: lambda.NewFromConfig(cfg), Tracer: m.tracer}, nil
}

type DynamoDBClient struct {
	Client *dynamodb.Client
	Tracer trace.Tracer
}

func (m *Manager) GetDynamoDB(_ context.Context, opts ...Option) (*DynamoDBClient, error) {
	cfg, _ := m.resolve(opts)
	return &DynamoDBClient{Client: dynamodb.NewFromConfig(cfg), Tracer: m.tracer}, nil
}

type SNSClient struct {
	Client *sns.Client
	Tracer trace.Tracer
}

func (m *Manager) GetSNS(_ context.Context, opts ...Option) (*SNSClient, error) {
	cfg, _ := m.resolve(opts)
	return &SNSClient{Client: sns.NewFromConfig(cfg), Tracer: m.tracer}, nil
}
