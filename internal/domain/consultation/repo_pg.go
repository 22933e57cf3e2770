package consultation

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

type repoPG struct {
	db queryable
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{db: pool}
}

func (r *repoPG) conn() queryable {
	return r.db
}

const columns = `id, patient_id, service_type, status, patient_data, decision, decision_reason,
	pharmacist_notes, checkout_session_id, payment_intent_id, refund_status, refund_id,
	reviewed_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	if c.Status == "" {
		c.Status = StatusPendingReview
	}
	if c.ServiceType == "" {
		c.ServiceType = ServiceWeightLoss
	}
	return r.conn().QueryRow(ctx, `
		INSERT INTO consultations (
			id, patient_id, service_type, status, patient_data,
			checkout_session_id, payment_intent_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.ServiceType, c.Status, c.PatientData,
		c.CheckoutSessionID, c.PaymentIntentID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := scan(r.conn().QueryRow(ctx, `SELECT `+columns+` FROM consultations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Consultation, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}

	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM consultations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM consultations` + where +
		fmt.Sprintf(` ORDER BY created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ApplyDecision(ctx context.Context, id uuid.UUID, u *DecisionUpdate) error {
	tag, err := r.conn().Exec(ctx, `
		UPDATE consultations SET
			status = $2,
			decision = $3,
			decision_reason = NULLIF($4, ''),
			pharmacist_notes = NULLIF($4, ''),
			reviewed_at = $5,
			payment_intent_id = COALESCE(NULLIF($6, ''), payment_intent_id),
			refund_status = COALESCE(NULLIF($7, ''), refund_status),
			refund_id = COALESCE(NULLIF($8, ''), refund_id),
			updated_at = NOW()
		WHERE id = $1`,
		id, u.Status, u.Decision, u.Reason, u.ReviewedAt,
		u.PaymentIntentID, string(u.RefundStatus), u.RefundID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scan(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(
		&c.ID, &c.PatientID, &c.ServiceType, &c.Status, &c.PatientData, &c.Decision, &c.DecisionReason,
		&c.PharmacistNotes, &c.CheckoutSessionID, &c.PaymentIntentID, &c.RefundStatus, &c.RefundID,
		&c.ReviewedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
