package scanner

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"margincall/internal/domain"
)

// PositionSource pages through the protocol's unsafe active loans.
type PositionSource interface {
	ActivePositions(ctx context.Context, start, count *big.Int) ([]domain.Position, error)
}

// Config holds the scan loop parameters.
type Config struct {
	PageSize      int64
	PageDelay     time.Duration
	RoundInterval time.Duration
}

// Scanner drives the paginated scan loop and feeds the Book.
type Scanner struct {
	book   *Book
	src    PositionSource
	cfg    Config
	logger *slog.Logger
}

// New creates a Scanner writing into book.
func New(book *Book, src PositionSource, cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		book:   book,
		src:    src,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// Run scans until ctx is cancelled. Each cycle walks the loan list in
// (cursor, pageSize) windows; a full page advances the cursor by exactly
// the page size. An empty page ends the cycle: the cursor resets, the
// position map is cleared and the loop sleeps the round interval. A page
// query error is treated as an empty page, so an RPC outage mid-cycle ends
// the cycle early rather than stalling it.
func (s *Scanner) Run(ctx context.Context) error {
	cursor := int64(0)
	scanned := 0

	for {
		page, err := s.src.ActivePositions(ctx, big.NewInt(cursor), big.NewInt(s.cfg.PageSize))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("page query failed, ending cycle",
				slog.Int64("cursor", cursor), slog.Any("error", err))
			page = nil
		}

		if len(page) > 0 {
			inserted := s.book.ApplyPage(page)
			scanned += len(page)
			s.logger.Debug("page merged",
				slog.Int64("cursor", cursor),
				slog.Int("page", len(page)),
				slog.Int("inserted", inserted))
			cursor += s.cfg.PageSize
			if err := sleep(ctx, s.cfg.PageDelay); err != nil {
				return err
			}
			continue
		}

		positions, candidates := s.book.Stats()
		s.logger.Info("scan cycle complete",
			slog.Int("scanned", scanned),
			slog.Int("positions", positions),
			slog.Int("candidates", candidates))

		s.book.ResetPositions()
		cursor = 0
		scanned = 0
		if err := sleep(ctx, s.cfg.RoundInterval); err != nil {
			return err
		}
	}
}

// sleep waits d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
