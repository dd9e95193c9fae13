package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestArchiver_Archive(t *testing.T) {
	putter := &fakePutter{}
	archiver := NewArchiver(putter, "audit-bucket", "acesso")
	archiver.now = func() time.Time { return time.Date(2024, 7, 9, 23, 0, 0, 0, time.UTC) }

	key, err := archiver.Archive(context.Background(), exportFixture(), ExportFormatNDJSON, "")
	require.NoError(t, err)

	assert.Equal(t, "acesso/2024/07/09/audit-20240709T230000Z.ndjson", key)
	assert.Equal(t, "audit-bucket", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(putter.input.ContentType))
	assert.Equal(t, "2", putter.input.Metadata["entries"])
	assert.Len(t, putter.input.Metadata["checksum-sha256"], 64)
	assert.Contains(t, string(putter.body), `"targetId":"Ana"`)
}

func TestArchiver_NamedUpload(t *testing.T) {
	putter := &fakePutter{}
	archiver := NewArchiver(putter, "b", "")
	archiver.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }

	key, err := archiver.Archive(context.Background(), nil, ExportFormatCSV, "monthly")
	require.NoError(t, err)
	assert.Equal(t, "2024/01/02/monthly.csv", key)
}

func TestArchiver_UploadError(t *testing.T) {
	archiver := NewArchiver(&fakePutter{err: errors.New("access denied")}, "b", "p")

	_, err := archiver.Archive(context.Background(), exportFixture(), ExportFormatJSON, "x")
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), ArchiveConfig{Region: "us-east-1"})
	assert.Error(t, err)
}
