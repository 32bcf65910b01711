package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores objects under a key relative to the configured prefix.
// PutMultipart is for bodies too large to buffer in one request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves journal entries created before a cutoff into object storage
// and reports how many were archived.
type Archiver interface {
	ArchiveJournal(ctx context.Context, before time.Time) (int64, error)
}
