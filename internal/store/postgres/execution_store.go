package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `signal_id, symbol, wallet_id, transaction_id, status, mode,
	executed_quantity, executed_price, fees, attempts, ai_assisted, error_message, executed_at`

func scanExecutionRows(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	var results []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	var txID, errMsg *string
	if err := row.Scan(
		&res.SignalID, &res.Symbol, &res.WalletID, &txID, &res.Status, &res.Mode,
		&res.ExecutedQuantity, &res.ExecutedPrice, &res.Fees,
		&res.Attempts, &res.AIAssisted, &errMsg, &res.Timestamp,
	); err != nil {
		return domain.ExecutionResult{}, err
	}
	if txID != nil {
		res.TransactionID = *txID
	}
	if errMsg != nil {
		res.ErrorMessage = *errMsg
	}
	return res, nil
}

// Create inserts one terminal execution result. Re-inserting the same signal
// id is a no-op: exactly one result exists per signal.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	const query = `
		INSERT INTO executions (
			signal_id, symbol, wallet_id, transaction_id, status, mode,
			executed_quantity, executed_price, fees, attempts, ai_assisted,
			error_message, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (signal_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		res.SignalID, res.Symbol, res.WalletID, nullable(res.TransactionID),
		string(res.Status), string(res.Mode),
		res.ExecutedQuantity, res.ExecutedPrice, res.Fees,
		res.Attempts, res.AIAssisted, nullable(res.ErrorMessage), res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}
	return nil
}

// GetBySignalID returns the execution result for a signal.
func (s *ExecutionStore) GetBySignalID(ctx context.Context, signalID string) (domain.ExecutionResult, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE signal_id = $1`
	res, err := scanExecution(s.pool.QueryRow(ctx, query, signalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: execution %s: %w", signalID, domain.ErrNotFound)
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution: %w", err)
	}
	return res, nil
}

// ListRecent returns executions newest first with pagination and optional
// time filtering.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	results, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions: %w", err)
	}
	return results, nil
}

// ListBefore returns executions older than cutoff, oldest first, for
// archiving.
func (s *ExecutionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE executed_at < $1 ORDER BY executed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// DeleteBefore deletes executions older than cutoff and returns the number
// deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
