package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"margincall/internal/domain"
)

// ArbitrageStore implements domain.ArbitrageStore using PostgreSQL.
type ArbitrageStore struct {
	pool *pgxpool.Pool
}

// NewArbitrageStore creates an ArbitrageStore backed by the given pool.
func NewArbitrageStore(pool *pgxpool.Pool) *ArbitrageStore {
	return &ArbitrageStore{pool: pool}
}

const arbitrageCols = `id, from_token, to_token, from_amount, to_amount,
	profit, tx_hash, created_at`

// Insert stores one executed arbitrage trade.
func (s *ArbitrageStore) Insert(ctx context.Context, rec domain.ArbitrageRecord) error {
	const query = `
		INSERT INTO arbitrage_trades (
			id, from_token, to_token, from_amount, to_amount,
			profit, tx_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.FromToken.Hex(), rec.ToToken.Hex(),
		bigText(rec.FromAmount), bigText(rec.ToAmount), nullableBigText(rec.Profit),
		rec.TxHash.Hex(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arbitrage trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent trades, newest first.
func (s *ArbitrageStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM arbitrage_trades ORDER BY created_at DESC LIMIT $1`, arbitrageCols)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent arbitrage trades: %w", err)
	}
	defer rows.Close()
	return scanArbitrageTrades(rows)
}

// ListBefore returns all trades created before the given time, oldest first.
func (s *ArbitrageStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM arbitrage_trades WHERE created_at < $1 ORDER BY created_at ASC`, arbitrageCols)

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbitrage trades before %s: %w", before, err)
	}
	defer rows.Close()
	return scanArbitrageTrades(rows)
}

// DeleteBefore removes all trades created before the given time and returns
// how many rows were deleted.
func (s *ArbitrageStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM arbitrage_trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete arbitrage trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanArbitrageTrades(rows pgx.Rows) ([]domain.ArbitrageRecord, error) {
	var out []domain.ArbitrageRecord
	for rows.Next() {
		var (
			rec                    domain.ArbitrageRecord
			fromToken, toToken     string
			fromAmount, toAmount   string
			profit                 *string
			txHash                 string
		)
		if err := rows.Scan(
			&rec.ID, &fromToken, &toToken, &fromAmount, &toAmount,
			&profit, &txHash, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitrage trade: %w", err)
		}
		rec.FromToken = common.HexToAddress(fromToken)
		rec.ToToken = common.HexToAddress(toToken)
		rec.TxHash = common.HexToHash(txHash)

		var err error
		if rec.FromAmount, err = parseBigText(fromAmount); err != nil {
			return nil, fmt.Errorf("postgres: arbitrage trade %s from_amount: %w", rec.ID, err)
		}
		if rec.ToAmount, err = parseBigText(toAmount); err != nil {
			return nil, fmt.Errorf("postgres: arbitrage trade %s to_amount: %w", rec.ID, err)
		}
		if profit != nil {
			if rec.Profit, err = parseBigText(*profit); err != nil {
				return nil, fmt.Errorf("postgres: arbitrage trade %s profit: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate arbitrage trades: %w", err)
	}
	return out, nil
}
