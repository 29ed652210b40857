package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"margincall/internal/domain"
)

// Archiver periodically exports liquidation and arbitrage history older than
// the retention window to JSONL objects in blob storage, then prunes the
// exported rows from the primary store. Rows are only deleted after the
// upload succeeded.
type Archiver struct {
	writer       domain.BlobWriter
	liquidations domain.LiquidationStore
	trades       domain.ArbitrageStore

	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver with the given retention window and run
// interval.
func NewArchiver(writer domain.BlobWriter, liquidations domain.LiquidationStore, trades domain.ArbitrageStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:       writer,
		liquidations: liquidations,
		trades:       trades,
		retention:    retention,
		interval:     interval,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run archives once immediately and then on the configured interval until
// ctx is cancelled. Archive failures are logged and retried next tick.
func (a *Archiver) Run(ctx context.Context) error {
	a.archiveOnce(ctx)

	interval := a.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx)
		}
	}
}

func (a *Archiver) archiveOnce(ctx context.Context) {
	before := time.Now().UTC().Add(-a.retention)

	if n, err := a.archiveLiquidations(ctx, before); err != nil {
		a.logger.Error("liquidation archive failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("liquidations archived", slog.Int64("count", n))
	}

	if n, err := a.archiveTrades(ctx, before); err != nil {
		a.logger.Error("arbitrage archive failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("arbitrage trades archived", slog.Int64("count", n))
	}
}

// archiveLiquidations exports all liquidations older than the cutoff to
// archive/liquidations/YYYY-MM.jsonl and prunes them.
func (a *Archiver) archiveLiquidations(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.liquidations.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations marshal: %w", err)
	}

	path := archivePath("liquidations", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations upload: %w", err)
	}

	deleted, err := a.liquidations.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: prune liquidations: %w", err)
	}
	return deleted, nil
}

// archiveTrades exports all arbitrage trades older than the cutoff to
// archive/arbitrage/YYYY-MM.jsonl and prunes them.
func (a *Archiver) archiveTrades(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("arbitrage", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: prune trades: %w", err)
	}
	return deleted, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/liquidations/2025-01.jsonl
//	archive/arbitrage/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
