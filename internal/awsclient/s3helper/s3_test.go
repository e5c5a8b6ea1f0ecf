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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeObjects struct {
	objects map[string][]byte
	meta    map[string]map[string]string
	gets    int
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	var start, end int64
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	total := int64(len(data))
	end = min(end, total-1)
	part := data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(part)),
		ContentLength: aws.Int64(int64(len(part))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
	}, nil
}

func (f *fakeObjects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"etag"`),
		Metadata:      f.meta[aws.ToString(in.Key)],
	}, nil
}

func TestDownloadS3ObjectInParts(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 1000)
	fake := &fakeObjects{objects: map[string][]byte{"k": data}}

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	n, err := DownloadS3Object(context.Background(), fake, noop.NewTracerProvider().Tracer(""), "bucket", "k", f, 4096)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, 3, fake.gets)

	got, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadS3ObjectMissing(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	_, err = DownloadS3Object(context.Background(), fake, noop.NewTracerProvider().Tracer(""), "bucket", "missing", f, 4096)
	require.Error(t, err)
	assert.True(t, S3ErrorIs404(err))
}

func TestHeadS3Object(t *testing.T) {
	fake := &fakeObjects{
		objects: map[string][]byte{"k": []byte("hello")},
		meta:    map[string]map[string]string{"k": {"filepath": "/bin/ls"}},
	}
	head, err := HeadS3Object(context.Background(), fake, noop.NewTracerProvider().Tracer(""), "bucket", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), head.Size)
	assert.Equal(t, "/bin/ls", head.Metadata["filepath"])

	_, err = HeadS3Object(context.Background(), fake, noop.NewTracerProvider().Tracer(""), "bucket", "nope")
	require.Error(t, err)
	assert.True(t, S3ErrorIs404(err))
}

func TestS3ErrorIs404GenericCodes(t *testing.T) {
	assert.True(t, S3ErrorIs404(fmt.Errorf("head: %w", &smithy.GenericAPIError{Code: "NotFound"})))
	assert.True(t, S3ErrorIs404(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, S3ErrorIs404(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, S3ErrorIs404(errors.New("boom")))
}
