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
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cardinalhq/objalert/internal/analyzer"
	"github.com/cardinalhq/objalert/internal/rules"
)

func record(sha string, ruleNames ...string) *analyzer.Record {
	rec := &analyzer.Record{
		Bucket:      "uploads",
		Key:         "k",
		LogicalPath: "bin/k.exe",
		SHA256:      sha,
		MD5:         "md5",
	}
	for _, n := range ruleNames {
		rec.Matches = append(rec.Matches, rules.Match{RuleFile: "base.yaml", RuleName: n, MatchedStrings: []string{"$a"}})
	}
	return rec
}

func TestMemoryFirstObservation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.Save(ctx, record("aa", "r1"), 1)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = m.Save(ctx, record("aa", "r1"), 1)
	require.NoError(t, err)
	assert.False(t, first, "same pair, same version")

	first, err = m.Save(ctx, record("aa", "r1", "r2"), 1)
	require.NoError(t, err)
	assert.True(t, first, "a new rule on a known object is new")

	first, err = m.Save(ctx, record("aa", "r1"), 2)
	require.NoError(t, err)
	assert.True(t, first, "a new rule version re-alerts")

	assert.Equal(t, 3, m.Len())
}

func TestMemoryForget(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Save(ctx, record("aa", "r1"), 1)
	require.NoError(t, err)
	require.NoError(t, m.Forget(ctx, record("aa", "r1"), 1))
	assert.Zero(t, m.Len())

	first, err := m.Save(ctx, record("aa", "r1"), 1)
	require.NoError(t, err)
	assert.True(t, first, "a forgotten pair alerts again")
}

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.ConditionExpression) != "attribute_not_exists(SHA256)" {
		return nil, errors.New("unconditional put")
	}
	k := in.Item["SHA256"].(*types.AttributeValueMemberS).Value + "|" +
		in.Item["RuleKey"].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[k]; ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	k := in.Key["SHA256"].(*types.AttributeValueMemberS).Value + "|" +
		in.Key["RuleKey"].(*types.AttributeValueMemberS).Value
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestDynamo(api itemAPI) *Dynamo {
	return &Dynamo{
		api:    api,
		tracer: noop.NewTracerProvider().Tracer(""),
		table:  "matches",
		now:    func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestDynamoConditionalPut(t *testing.T) {
	ctx := context.Background()
	api := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	d := newTestDynamo(api)

	first, err := d.Save(ctx, record("aa", "r1"), 3)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.Save(ctx, record("aa", "r1"), 3)
	require.NoError(t, err)
	assert.False(t, first)

	item := api.items["aa|3:base.yaml:r1"]
	require.NotNil(t, item)
	assert.Equal(t, "3", item["RuleVersion"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "S3:uploads:k", item["S3Location"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "2025-03-01T12:00:00Z", item["FirstSeen"].(*types.AttributeValueMemberS).Value)

	var summary analyzer.Summary
	require.NoError(t, json.Unmarshal([]byte(item["Summary"].(*types.AttributeValueMemberS).Value), &summary))
	assert.Equal(t, 1, summary.NumMatchedRules)
}

func TestDynamoForget(t *testing.T) {
	ctx := context.Background()
	api := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	d := newTestDynamo(api)

	_, err := d.Save(ctx, record("aa", "r1", "r2"), 3)
	require.NoError(t, err)
	require.NoError(t, d.Forget(ctx, record("aa", "r1", "r2"), 3))
	assert.Empty(t, api.items)

	first, err := d.Save(ctx, record("aa", "r1"), 3)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestDynamoError(t *testing.T) {
	cause := errors.New("throttled")
	d := newTestDynamo(&fakeDynamo{err: cause})
	_, err := d.Save(context.Background(), record("aa", "r1"), 1)
	assert.ErrorIs(t, err, cause)
}

type fakeExec struct {
	keys map[string]bool
	sql  []string
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	k := args[0].(string) + "|" + args[1].(string)
	if strings.HasPrefix(sql, "DELETE") {
		if !f.keys[k] {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(f.keys, k)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	if f.keys[k] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	f.keys[k] = true
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresOnConflict(t *testing.T) {
	ctx := context.Background()
	db := &fakeExec{keys: map[string]bool{}}
	p := &Postgres{db: db}

	first, err := p.Save(ctx, record("bb", "r1", "r2"), 5)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Len(t, db.sql, 2)
	assert.Contains(t, db.sql[0], "ON CONFLICT (sha256, rule_key) DO NOTHING")

	first, err = p.Save(ctx, record("bb", "r2"), 5)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestPostgresForget(t *testing.T) {
	ctx := context.Background()
	db := &fakeExec{keys: map[string]bool{}}
	p := &Postgres{db: db}

	_, err := p.Save(ctx, record("bb", "r1"), 5)
	require.NoError(t, err)
	require.NoError(t, p.Forget(ctx, record("bb", "r1"), 5))
	assert.Empty(t, db.keys)
	assert.Equal(t, deleteMatch, db.sql[len(db.sql)-1])

	first, err := p.Save(ctx, record("bb", "r1"), 5)
	require.NoError(t, err)
	assert.True(t, first)
}
