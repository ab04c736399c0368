package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// archiveBatchSize bounds how many executions one archive object holds.
const archiveBatchSize = 5000

// Archiver moves aged execution history from Postgres into object storage.
// Rows are deleted only after their archive object is written, so a failed
// upload leaves the data where it was.
type Archiver struct {
	store  domain.ExecutionStore
	writer domain.BlobWriter
	logger *slog.Logger
}

// NewArchiver creates an archiver over the given store and blob writer.
func NewArchiver(store domain.ExecutionStore, writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions uploads executions older than olderThan as JSON-lines
// objects and deletes them from the store. Returns the number archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, olderThan time.Time) (int, error) {
	total := 0
	for {
		batch, err := a.store.ListBefore(ctx, olderThan, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list executions for archive: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, res := range batch {
			if err := enc.Encode(res); err != nil {
				return total, fmt.Errorf("s3blob: encode execution %s: %w", res.SignalID, err)
			}
		}

		first := batch[0].Timestamp.UTC()
		key := fmt.Sprintf("executions/%s/%s.jsonl",
			first.Format("2006/01/02"),
			first.Format("150405.000000000"),
		)
		if err := a.writer.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
			return total, err
		}

		cutoff := batch[len(batch)-1].Timestamp.Add(time.Nanosecond)
		deleted, err := a.store.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived executions: %w", err)
		}

		total += len(batch)
		a.logger.Info("archived executions",
			slog.String("key", key),
			slog.Int("count", len(batch)),
			slog.Int64("deleted", deleted),
		)

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
