package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of the S3 client used by the archiver
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveConfig configures the S3 archiver
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Archiver uploads audit exports to object storage
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver creates an archiver on an existing client
func NewArchiver(client ObjectPutter, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// NewS3Archiver builds an S3 client from cfg. Static credentials are used
// when given, otherwise the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

// Archive serializes entries and uploads them under
// <prefix>/<yyyy>/<mm>/<dd>/<name>.<ext>. It returns the object key.
func (a *Archiver) Archive(ctx context.Context, entries []*Entry, format ExportFormat, name string) (string, error) {
	var buf bytes.Buffer
	if err := Export(&buf, entries, format); err != nil {
		return "", err
	}

	now := a.now().UTC()
	if name == "" {
		name = "audit-" + now.Format("20060102T150405Z")
	}
	key := path.Join(a.prefix, now.Format("2006"), now.Format("01"), now.Format("02"), name+"."+format.Extension())

	sum := sha256.Sum256(buf.Bytes())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(format.ContentType()),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
			"entries":         strconv.Itoa(len(entries)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit archive %s: %w", key, err)
	}
	return key, nil
}
