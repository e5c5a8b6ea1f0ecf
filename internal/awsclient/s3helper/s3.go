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

package s3helper

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ObjectAPI is the subset of the S3 client used to inspect and fetch objects.
type ObjectAPI interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3ErrorIs404 reports whether err means the object does not exist.  GetObject
// reports NoSuchKey while HeadObject, having no body, reports NotFound.
func S3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	if errors.As(err, &noKeyErr) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// S3-compatible stores do not always map to the modeled types.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// ObjectHead is the metadata returned by HeadS3Object.  Metadata holds the
// user-defined x-amz-meta-* headers, keyed without that prefix.
type ObjectHead struct {
	Size     int64
	ETag     string
	Metadata map[string]string
}

func HeadS3Object(ctx context.Context, api ObjectAPI, tracer trace.Tracer, bucketID, objectID string) (ObjectHead, error) {
	ctx, span := tracer.Start(ctx, "s3helper.HeadS3Object",
		trace.WithAttributes(
			attribute.String("bucketID", bucketID),
			attribute.String("objectID", objectID),
		),
	)
	defer span.End()

	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucketID),
		Key:    aws.String(objectID),
	})
	if err != nil {
		return ObjectHead{}, fmt.Errorf("head %s/%s: %w", bucketID, objectID, err)
	}
	return ObjectHead{
		Size:     aws.ToInt64(out.ContentLength),
		ETag:     aws.ToString(out.ETag),
		Metadata: out.Metadata,
	}, nil
}

// DownloadS3Object streams an object into w using sequential ranged GETs of
// partSize bytes, so peak memory stays bounded regardless of object size.
func DownloadS3Object(
	ctx context.Context,
	api ObjectAPI,
	tracer trace.Tracer,
	bucketID, objectID string,
	w io.WriterAt,
	partSize int64,
) (int64, error) {
	ctx, span := tracer.Start(ctx, "s3helper.DownloadS3Object",
		trace.WithAttributes(
			attribute.String("bucketID", bucketID),
			attribute.String("objectID", objectID),
		),
	)
	defer span.End()

	downloader := manager.NewDownloader(api, func(d *manager.Downloader) {
		if partSize > 0 {
			d.PartSize = partSize
		}
		d.Concurrency = 1
	})

	size, err := downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucketID),
		Key:    aws.String(objectID),
	})
	if err != nil {
		return 0, fmt.Errorf("download %s/%s: %w", bucketID, objectID, err)
	}
	return size, nil
}
