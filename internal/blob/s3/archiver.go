package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// multipartThreshold switches archive uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// JournalArchiver implements domain.Archiver. It moves journal entries older
// than a cutoff into one JSONL object per calendar month:
//
//	archive/journal/2026-08.jsonl
//
// Entries are removed from the journal only after every upload succeeded,
// and only when prune is set.
type JournalArchiver struct {
	writer  domain.BlobWriter
	journal domain.JournalStore
	prune   bool
	logger  *slog.Logger
}

// NewJournalArchiver creates a JournalArchiver.
func NewJournalArchiver(writer domain.BlobWriter, journal domain.JournalStore, prune bool, logger *slog.Logger) *JournalArchiver {
	return &JournalArchiver{
		writer:  writer,
		journal: journal,
		prune:   prune,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveJournal uploads every entry created before the cutoff and returns
// how many were archived.
func (a *JournalArchiver) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	months := groupByMonth(entries)
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, month := range keys {
		buf, err := marshalJSONL(months[month])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive journal marshal %s: %w", month, err)
		}
		path := archivePath("journal", month)
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive journal upload %s: %w", month, err)
		}
		a.logger.InfoContext(ctx, "journal month archived",
			slog.String("path", path),
			slog.Int("entries", len(months[month])),
		)
	}

	count := int64(len(entries))
	var pruned int64
	if a.prune {
		if pruned, err = a.journal.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: archive journal prune: %w", err)
		}
	}

	if err := a.journal.Append(ctx, domain.EventArchive, "", map[string]any{
		"count":  count,
		"months": keys,
		"pruned": pruned,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive journal record: %w", err)
	}
	return count, nil
}

// Run archives entries older than retain once per interval until ctx is
// cancelled. The cutoff is aligned to the start of a month so every archived
// month is complete.
func (a *JournalArchiver) Run(ctx context.Context, interval, retain time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			cutoff := MonthStart(now.Add(-retain))
			n, err := a.ArchiveJournal(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "journal archive failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "journal archived", slog.Int64("entries", n), slog.Time("before", cutoff))
			}
		}
	}
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func groupByMonth(entries []domain.JournalEntry) map[string][]domain.JournalEntry {
	out := make(map[string][]domain.JournalEntry)
	for _, e := range entries {
		k := e.CreatedAt.UTC().Format("2006-01")
		out[k] = append(out[k], e)
	}
	return out
}

// archivePath builds the object key for one month of an archive kind.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*JournalArchiver)(nil)
