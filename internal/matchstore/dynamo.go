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

package matchstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/objalert/internal/analyzer"
	"github.com/cardinalhq/objalert/internal/awsclient"
)

type itemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Dynamo stores matches in a table keyed by SHA256 (hash) and RuleKey
// (range).  Each pair is written with a conditional put, so concurrent
// analyzers agree on which of them saw it first.
type Dynamo struct {
	api    itemAPI
	tracer trace.Tracer
	table  string
	now    func() time.Time
}

var _ analyzer.MatchStore = (*Dynamo)(nil)

func NewDynamo(client *awsclient.DynamoDBClient, table string) *Dynamo {
	return &Dynamo{api: client.Client, tracer: client.Tracer, table: table, now: time.Now}
}

func (d *Dynamo) Save(ctx context.Context, rec *analyzer.Record, ruleVersion int) (bool, error) {
	ctx, span := d.tracer.Start(ctx, "matchstore.Dynamo.Save",
		trace.WithAttributes(
			attribute.String("table", d.table),
			attribute.Int("matches", len(rec.Matches)),
		),
	)
	defer span.End()

	es, err := entries(rec, ruleVersion)
	if err != nil {
		return false, err
	}

	first := false
	seen := d.now().UTC().Format(time.RFC3339)
	for _, e := range es {
		_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.table),
			Item:                item(e, seen),
			ConditionExpression: aws.String("attribute_not_exists(SHA256)"),
		})
		var ccf *types.ConditionalCheckFailedException
		switch {
		case err == nil:
			first = true
		case errors.As(err, &ccf):
		default:
			span.RecordError(err)
			return first, fmt.Errorf("put match %s/%s: %w", e.SHA256, e.RuleKey, err)
		}
	}
	return first, nil
}

func (d *Dynamo) Forget(ctx context.Context, rec *analyzer.Record, ruleVersion int) error {
	ctx, span := d.tracer.Start(ctx, "matchstore.Dynamo.Forget",
		trace.WithAttributes(attribute.String("table", d.table)),
	)
	defer span.End()

	es, err := entries(rec, ruleVersion)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range es {
		_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.table),
			Key: map[string]types.AttributeValue{
				"SHA256":  &types.AttributeValueMemberS{Value: e.SHA256},
				"RuleKey": &types.AttributeValueMemberS{Value: e.RuleKey},
			},
		})
		if err != nil {
			span.RecordError(err)
			errs = append(errs, fmt.Errorf("delete match %s/%s: %w", e.SHA256, e.RuleKey, err))
		}
	}
	return errors.Join(errs...)
}

func item(e entry, seen string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"SHA256":      &types.AttributeValueMemberS{Value: e.SHA256},
		"RuleKey":     &types.AttributeValueMemberS{Value: e.RuleKey},
		"RuleVersion": &types.AttributeValueMemberN{Value: strconv.Itoa(e.RuleVersion)},
		"RuleFile":    &types.AttributeValueMemberS{Value: e.RuleFile},
		"RuleName":    &types.AttributeValueMemberS{Value: e.RuleName},
		"MD5":         &types.AttributeValueMemberS{Value: e.MD5},
		"S3Location":  &types.AttributeValueMemberS{Value: e.Location},
		"LogicalPath": &types.AttributeValueMemberS{Value: e.LogicalPath},
		"Summary":     &types.AttributeValueMemberS{Value: string(e.Summary)},
		"FirstSeen":   &types.AttributeValueMemberS{Value: seen},
	}
}
