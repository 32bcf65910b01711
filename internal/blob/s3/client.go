// Package s3blob archives the trade journal to AWS S3 or an S3-compatible
// store (MinIO, R2) through AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the configuration for connecting to an S3-compatible
// object store.
type ClientConfig struct {
	// Endpoint is the S3-compatible endpoint URL. Leave empty for AWS S3.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is prepended to every object key, e.g. "bybitbot/".
	Prefix    string
	AccessKey string
	SecretKey string
	// UseSSL selects https when Endpoint has no scheme.
	UseSSL bool
	// ForcePathStyle puts the bucket in the path rather than the host name.
	// Most S3-compatible providers require it.
	ForcePathStyle bool
}

// Client wraps the AWS S3 SDK client with the default bucket and key prefix.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// sdkMaxAttempts bounds SDK retries so a stalled store cannot hold the
// archiver for long; a failed month is retried on the next run.
const sdkMaxAttempts = 4

// New creates an S3 client from cfg. It does not contact the store; call
// Health for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var errs []error
	if cfg.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if cfg.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if cfg.AccessKey != "" && cfg.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required with an access key"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("s3blob: %w", errors.Join(errs...))
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(sdkMaxAttempts),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: normalisePrefix(cfg.Prefix),
	}, nil
}

// Health checks with HeadBucket that the bucket exists and is reachable with
// the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) Bucket() string { return c.bucket }

// Key returns the full object key for path.
func (c *Client) Key(path string) string {
	return c.prefix + strings.TrimLeft(path, "/")
}

// normaliseEndpoint ensures the endpoint has a scheme. A bare host:port
// parses as scheme "host", so only an explicit "://" counts.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

func normalisePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
