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

// Package enumerator lists the keys of an object store one page at a time.
package enumerator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/objalert/internal/awsclient"
)

// Page is one page of keys.  Next is nil once the listing is exhausted.
type Page struct {
	Keys []string
	Next *string
}

// Enumerator lists keys page by page.  A nil cursor starts at the beginning.
// Cursors are opaque and only ever handed back to ListPage.
type Enumerator interface {
	ListPage(ctx context.Context, cursor *string) (Page, error)
}

// ListError reports a failed listing call.  It is not retried here; the
// invocation fails and the platform retries it.
type ListError struct {
	Bucket string
	Err    error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list objects in %s: %v", e.Bucket, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

type listAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 enumerates a bucket with ListObjectsV2.
type S3 struct {
	api      listAPI
	tracer   trace.Tracer
	bucket   string
	prefix   string
	pageSize int32
}

var _ Enumerator = (*S3)(nil)

type Option func(*S3)

// WithPrefix restricts the listing to keys under prefix.
func WithPrefix(prefix string) Option {
	return func(e *S3) { e.prefix = prefix }
}

// WithPageSize caps the keys returned per page.  Zero leaves the service
// default of 1000.
func WithPageSize(n int32) Option {
	return func(e *S3) { e.pageSize = n }
}

func NewS3(client *awsclient.S3Client, bucket string, opts ...Option) *S3 {
	return newS3(client.Client, client.Tracer, bucket, opts...)
}

func newS3(api listAPI, tracer trace.Tracer, bucket string, opts ...Option) *S3 {
	e := &S3{api: api, tracer: tracer, bucket: bucket}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *S3) ListPage(ctx context.Context, cursor *string) (Page, error) {
	ctx, span := e.tracer.Start(ctx, "enumerator.ListPage",
		trace.WithAttributes(
			attribute.String("bucketID", e.bucket),
			attribute.Bool("continued", cursor != nil),
		),
	)
	defer span.End()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
	}
	if cursor != nil {
		input.ContinuationToken = cursor
	}
	if e.prefix != "" {
		input.Prefix = aws.String(e.prefix)
	}
	if e.pageSize > 0 {
		input.MaxKeys = aws.Int32(e.pageSize)
	}

	out, err := e.api.ListObjectsV2(ctx, input)
	if err != nil {
		span.RecordError(err)
		return Page{}, &ListError{Bucket: e.bucket, Err: err}
	}

	page := Page{Keys: make([]string, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == "" || isFolderPlaceholder(key, aws.ToInt64(obj.Size)) {
			continue
		}
		page.Keys = append(page.Keys, key)
	}
	if aws.ToBool(out.IsTruncated) {
		page.Next = out.NextContinuationToken
	}
	span.SetAttributes(attribute.Int("keys", len(page.Keys)))
	return page, nil
}

// isFolderPlaceholder reports whether the object is an empty marker the S3
// console creates for a "folder".  A key ending in "/" that has content is a
// real object and gets scanned.
func isFolderPlaceholder(key string, size int64) bool {
	return size == 0 && strings.HasSuffix(key, "/")
}
