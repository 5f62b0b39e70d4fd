package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"vidtube/cmd/identity/ids"
)

// Asset kinds. The kind prefixes the storage key so buckets stay browsable.
const (
	KindAvatar = "avatars"
	KindCover  = "covers"
)

var (
	// ErrUnsupportedType is returned for content types outside the image allowlist.
	ErrUnsupportedType = errors.New("unsupported media type")

	// ErrTooLarge is returned when the upload exceeds the configured size cap.
	ErrTooLarge = errors.New("media too large")
)

// allowed maps accepted image content types to storage key extensions.
var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadInput describes one asset upload.
type UploadInput struct {
	Kind        string // KindAvatar or KindCover
	OwnerID     string // identity id the asset belongs to
	ContentType string
	Size        int64
	Body        io.Reader
}

// Asset is a stored object reference.
type Asset struct {
	Key string
	URL string
}

// Uploader stores image assets and returns their public URLs.
type Uploader interface {
	Upload(ctx context.Context, in UploadInput) (Asset, error)
}

// S3Uploader implements Uploader over S3-compatible object storage.
type S3Uploader struct {
	cfg    Config
	client *s3.Client
}

// NewS3Uploader builds the S3 client from cfg. Static credentials are used
// when configured; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg Config) (*S3Uploader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO-style endpoints do not resolve virtual-hosted buckets.
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{cfg: cfg, client: client}, nil
}

// Upload validates the asset and writes it to the bucket under a fresh key.
func (u *S3Uploader) Upload(ctx context.Context, in UploadInput) (Asset, error) {
	key, err := buildKey(in, u.cfg.MaxUploadBytes)
	if err != nil {
		return Asset{}, err
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          in.Body,
		ContentType:   aws.String(in.ContentType),
		ContentLength: aws.Int64(in.Size),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("media: put object: %w", err)
	}

	return Asset{Key: key, URL: u.cfg.publicURL(key)}, nil
}

// buildKey validates in and derives the storage key
// <kind>/<owner>/<ulid><ext>.
func buildKey(in UploadInput, maxBytes int64) (string, error) {
	if in.Kind != KindAvatar && in.Kind != KindCover {
		return "", fmt.Errorf("media: unknown asset kind %q", in.Kind)
	}
	if in.OwnerID == "" {
		return "", errors.New("media: owner id is required")
	}
	ext, ok := allowed[in.ContentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, in.ContentType)
	}
	if in.Size <= 0 || in.Size > maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, in.Size)
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return "", err
	}
	return path.Join(in.Kind, in.OwnerID, id+ext), nil
}
