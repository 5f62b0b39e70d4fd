package media

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrConfig is returned for invalid storage configuration.
var ErrConfig = errors.New("invalid media config")

// Config defines object storage settings.
//
// Endpoint is optional: empty means real AWS S3; set it to point at a
// MinIO-style deployment. PublicBaseURL is the prefix assets are served from;
// when empty it is derived from the endpoint (or the AWS virtual-hosted URL).
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	PublicBaseURL  string
	MaxUploadBytes int64
}

// DefaultConfig returns defaults suitable for a local MinIO deployment.
// Bucket must be supplied before use.
func DefaultConfig() Config {
	return Config{
		Region:         "us-east-1",
		MaxUploadBytes: 8 << 20, // 8 MiB
	}
}

// LoadConfigFromEnv loads storage configuration from environment variables.
//
// Required:
//   - VIDTUBE_S3_BUCKET
//
// Optional:
//   - VIDTUBE_S3_REGION
//   - VIDTUBE_S3_ENDPOINT
//   - VIDTUBE_S3_ACCESS_KEY / VIDTUBE_S3_SECRET_KEY (default AWS chain if unset)
//   - VIDTUBE_S3_PUBLIC_BASE_URL
//   - VIDTUBE_S3_MAX_UPLOAD_BYTES
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Bucket = os.Getenv("VIDTUBE_S3_BUCKET")
	if v := os.Getenv("VIDTUBE_S3_REGION"); v != "" {
		cfg.Region = v
	}
	cfg.Endpoint = os.Getenv("VIDTUBE_S3_ENDPOINT")
	cfg.AccessKey = os.Getenv("VIDTUBE_S3_ACCESS_KEY")
	cfg.SecretKey = os.Getenv("VIDTUBE_S3_SECRET_KEY")
	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("VIDTUBE_S3_PUBLIC_BASE_URL"), "/")

	if v := os.Getenv("VIDTUBE_S3_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: VIDTUBE_S3_MAX_UPLOAD_BYTES", ErrConfig)
		}
		cfg.MaxUploadBytes = n
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket is required", ErrConfig)
	}
	if c.Region == "" {
		return fmt.Errorf("%w: region is required", ErrConfig)
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("%w: access key and secret key must be set together", ErrConfig)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: max upload bytes must be positive", ErrConfig)
	}
	return nil
}

// publicURL builds the URL an uploaded key is served from.
func (c Config) publicURL(key string) string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL + "/" + key
	}
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/") + "/" + c.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.Bucket, c.Region, key)
}
