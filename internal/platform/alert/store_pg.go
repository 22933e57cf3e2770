package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore persists alerts in reconciliation_alerts.
type PGStore struct {
	db queryable
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

const alertColumns = `id, consultation_id, kind, detail, created_at, resolved_at`

func (s *PGStore) Raise(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO reconciliation_alerts (id, consultation_id, kind, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		a.ID, a.ConsultationID, a.Kind, a.Detail,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListOpen returns unresolved alerts, oldest first.
func (s *PGStore) ListOpen(ctx context.Context, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reconciliation_alerts WHERE resolved_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `SELECT `+alertColumns+` FROM reconciliation_alerts
		WHERE resolved_at IS NULL ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.ConsultationID, &a.Kind, &a.Detail, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &a)
	}
	return out, total, rows.Err()
}

// Resolve marks an open alert as handled.
func (s *PGStore) Resolve(ctx context.Context, id uuid.UUID) (*Alert, error) {
	var a Alert
	err := s.db.QueryRow(ctx, `
		UPDATE reconciliation_alerts SET resolved_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING `+alertColumns, id,
	).Scan(&a.ID, &a.ConsultationID, &a.Kind, &a.Detail, &a.CreatedAt, &a.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
