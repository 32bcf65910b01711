package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

const (
	// minPartSize is the S3 lower bound for every part but the last.
	minPartSize int64 = 5 * 1024 * 1024
	// uploadConcurrency stays low so an archive upload does not compete with
	// exchange traffic for bandwidth.
	uploadConcurrency = 2
	// jsonlContentType labels archived journal months.
	jsonlContentType = "application/x-ndjson"
)

// Writer implements domain.BlobWriter using an S3-compatible backend.
type Writer struct {
	client *Client
}

// NewWriter creates a Writer that uploads into the client's bucket under its
// key prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c}
}

// Put uploads data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := w.client.Key(path)
	_, err := w.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams data through the multipart upload manager as JSONL.
// partSize is raised to the S3 minimum of 5 MiB.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(w.client.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = uploadConcurrency
	})

	key := w.client.Key(path)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(jsonlContentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
