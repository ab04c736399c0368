package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkellerman/chainpilot/internal/domain"
)

// ApprovalStore implements domain.ApprovalStore using PostgreSQL.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

// NewApprovalStore creates an ApprovalStore backed by the given pool.
func NewApprovalStore(pool *pgxpool.Pool) *ApprovalStore {
	return &ApprovalStore{pool: pool}
}

// Create inserts one admission decision.
func (s *ApprovalStore) Create(ctx context.Context, appr domain.ApprovedSignal) error {
	const query = `
		INSERT INTO approvals (
			signal_id, symbol, strategy, action, target_price,
			requested_quantity, approved_quantity, base_confidence,
			risk_score, reason, approved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		appr.Signal.ID, appr.Signal.Symbol, string(appr.Signal.Strategy),
		string(appr.Signal.Action), appr.Signal.TargetPrice,
		appr.Signal.Quantity, appr.ApprovedQuantity, appr.Signal.BaseConfidence,
		appr.RiskScore, appr.ApprovalReason, appr.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert approval: %w", err)
	}
	return nil
}

// ListBySymbol returns admission decisions for a symbol, newest first.
func (s *ApprovalStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.ApprovedSignal, error) {
	query := `
		SELECT signal_id, symbol, strategy, action, target_price,
			requested_quantity, approved_quantity, base_confidence,
			risk_score, reason, approved_at
		FROM approvals WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND approved_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND approved_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY approved_at DESC"

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
		return nil, fmt.Errorf("postgres: list approvals: %w", err)
	}
	defer rows.Close()

	approvals, err := scanApprovalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan approvals: %w", err)
	}
	return approvals, nil
}

func scanApprovalRows(rows pgx.Rows) ([]domain.ApprovedSignal, error) {
	var approvals []domain.ApprovedSignal
	for rows.Next() {
		var a domain.ApprovedSignal
		if err := rows.Scan(
			&a.Signal.ID, &a.Signal.Symbol, &a.Signal.Strategy, &a.Signal.Action,
			&a.Signal.TargetPrice, &a.Signal.Quantity, &a.ApprovedQuantity,
			&a.Signal.BaseConfidence, &a.RiskScore, &a.ApprovalReason, &a.ApprovedAt,
		); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// Compile-time interface check.
var _ domain.ApprovalStore = (*ApprovalStore)(nil)
