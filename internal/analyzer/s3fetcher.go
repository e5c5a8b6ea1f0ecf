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

package analyzer

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/objalert/internal/awsclient"
	"github.com/cardinalhq/objalert/internal/awsclient/s3helper"
)

// S3Fetcher reads objects from one bucket.
type S3Fetcher struct {
	api      s3helper.ObjectAPI
	tracer   trace.Tracer
	bucket   string
	partSize int64
}

var _ ObjectFetcher = (*S3Fetcher)(nil)

// NewS3Fetcher downloads with ranged GETs of partSize bytes.
func NewS3Fetcher(client *awsclient.S3Client, bucket string, partSize int64) *S3Fetcher {
	return &S3Fetcher{api: client.Client, tracer: client.Tracer, bucket: bucket, partSize: partSize}
}

func (f *S3Fetcher) Bucket() string { return f.bucket }

func (f *S3Fetcher) Head(ctx context.Context, key string) (ObjectInfo, error) {
	head, err := s3helper.HeadS3Object(ctx, f.api, f.tracer, f.bucket, key)
	if err != nil {
		return ObjectInfo{}, notFound(err)
	}
	return ObjectInfo{Size: head.Size, Metadata: head.Metadata}, nil
}

func (f *S3Fetcher) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	n, err := s3helper.DownloadS3Object(ctx, f.api, f.tracer, f.bucket, key, w, f.partSize)
	if err != nil {
		return n, notFound(err)
	}
	return n, nil
}

func notFound(err error) error {
	if s3helper.S3ErrorIs404(err) {
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return err
}
