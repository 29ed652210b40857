package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"margincall/internal/domain"
)

// LiquidationStore implements domain.LiquidationStore using PostgreSQL.
type LiquidationStore struct {
	pool *pgxpool.Pool
}

// NewLiquidationStore creates a LiquidationStore backed by the given pool.
func NewLiquidationStore(pool *pgxpool.Pool) *LiquidationStore {
	return &LiquidationStore{pool: pool}
}

const liquidationCols = `id, loan_id, liquidator, loan_token, collateral_token,
	amount, collateral_seized, profit, tx_hash, created_at`

// Insert stores one settled liquidation.
func (s *LiquidationStore) Insert(ctx context.Context, rec domain.LiquidationRecord) error {
	const query = `
		INSERT INTO liquidations (
			id, loan_id, liquidator, loan_token, collateral_token,
			amount, collateral_seized, profit, tx_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.LoanID.Hex(), rec.Liquidator.Hex(),
		rec.LoanToken.Hex(), rec.CollateralToken.Hex(),
		bigText(rec.Amount), bigText(rec.CollateralSeized), nullableBigText(rec.Profit),
		rec.TxHash.Hex(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert liquidation %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent liquidations, newest first.
func (s *LiquidationStore) ListRecent(ctx context.Context, limit int) ([]domain.LiquidationRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM liquidations ORDER BY created_at DESC LIMIT $1`, liquidationCols)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent liquidations: %w", err)
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

// ListBefore returns all liquidations created before the given time, oldest
// first.
func (s *LiquidationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LiquidationRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM liquidations WHERE created_at < $1 ORDER BY created_at ASC`, liquidationCols)

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations before %s: %w", before, err)
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

// DeleteBefore removes all liquidations created before the given time and
// returns how many rows were deleted.
func (s *LiquidationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM liquidations WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete liquidations before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanLiquidations(rows pgx.Rows) ([]domain.LiquidationRecord, error) {
	var out []domain.LiquidationRecord
	for rows.Next() {
		var (
			rec                                              domain.LiquidationRecord
			loanID, liquidator, loanToken, collToken, txHash string
			amount, seized                                   string
			profit                                           *string
		)
		if err := rows.Scan(
			&rec.ID, &loanID, &liquidator, &loanToken, &collToken,
			&amount, &seized, &profit, &txHash, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		rec.LoanID = common.HexToHash(loanID)
		rec.Liquidator = common.HexToAddress(liquidator)
		rec.LoanToken = common.HexToAddress(loanToken)
		rec.CollateralToken = common.HexToAddress(collToken)
		rec.TxHash = common.HexToHash(txHash)

		var err error
		if rec.Amount, err = parseBigText(amount); err != nil {
			return nil, fmt.Errorf("postgres: liquidation %s amount: %w", rec.ID, err)
		}
		if rec.CollateralSeized, err = parseBigText(seized); err != nil {
			return nil, fmt.Errorf("postgres: liquidation %s collateral_seized: %w", rec.ID, err)
		}
		if profit != nil {
			if rec.Profit, err = parseBigText(*profit); err != nil {
				return nil, fmt.Errorf("postgres: liquidation %s profit: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate liquidations: %w", err)
	}
	return out, nil
}

// bigText renders an amount for a TEXT column. Uint256 values do not fit any
// native numeric type losslessly.
func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// nullableBigText renders an optional amount, preserving nil as SQL NULL.
func nullableBigText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseBigText(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
