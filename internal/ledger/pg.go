package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger is the Postgres-backed AccessLedger. Vote transitions run inside
// a transaction holding a row lock on the request, so concurrent approvals
// serialize and the quorum transition fires exactly once.
type PGLedger struct {
	pool   *pgxpool.Pool
	policy Policy
}

// NewPG returns a PGLedger over the given pool.
func NewPG(pool *pgxpool.Pool, policy Policy) *PGLedger {
	if policy.Quorum <= 0 {
		policy.Quorum = DefaultPolicy().Quorum
	}
	return &PGLedger{pool: pool, policy: policy}
}

func (l *PGLedger) RegisterPatient(ctx context.Context, p *Patient) (string, error) {
	if err := validateRegistration(p, l.policy.Quorum); err != nil {
		return "", err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin registration: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO patient (address, record_cid, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET record_cid = $2, registered_at = $3`,
		p.Address, p.RecordCID, now)
	if err != nil {
		return "", fmt.Errorf("register patient: %w", err)
	}

	// Re-registration replaces the guardian set wholesale.
	if _, err := tx.Exec(ctx, `DELETE FROM patient_guardian WHERE patient_address = $1`, p.Address); err != nil {
		return "", fmt.Errorf("clear guardians: %w", err)
	}
	for _, g := range p.Guardians {
		if _, err := tx.Exec(ctx, `
			INSERT INTO patient_guardian (patient_address, guardian_address)
			VALUES ($1, $2)`, p.Address, g); err != nil {
			return "", fmt.Errorf("register guardian %s: %w", g, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit registration: %w", err)
	}

	stored := p.clone()
	stored.RegisteredAt = now
	return registrationHash(stored, now), nil
}

func (l *PGLedger) GetPatient(ctx context.Context, address string) (*Patient, error) {
	var p Patient
	err := l.pool.QueryRow(ctx, `
		SELECT address, record_cid, registered_at FROM patient WHERE address = $1`,
		address).Scan(&p.Address, &p.RecordCID, &p.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}

	p.Guardians, err = l.guardians(ctx, l.pool, address)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *PGLedger) CreateRequest(ctx context.Context, patientAddress, hospitalID string) (*AccessRequest, error) {
	p, err := l.GetPatient(ctx, patientAddress)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r := &AccessRequest{
		ID:        uuid.New(),
		Patient:   patientAddress,
		Hospital:  hospitalID,
		RecordCID: p.RecordCID,
		CreatedAt: now,
		ExpiresAt: l.policy.deadline(now),
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO access_request (id, patient_address, hospital_id, record_cid, created_at, expires_at, executed, denied)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE)`,
		r.ID, r.Patient, r.Hospital, r.RecordCID, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("create access request: %w", err)
	}
	return r, nil
}

func (l *PGLedger) GetRequest(ctx context.Context, id uuid.UUID) (*AccessRequest, error) {
	return l.fetchRequest(ctx, l.pool, id, "")
}

func (l *PGLedger) ListRequestsByPatient(ctx context.Context, patientAddress string, limit, offset int) ([]*AccessRequest, int, error) {
	var total int
	if err := l.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM access_request WHERE patient_address = $1`,
		patientAddress).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access requests: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id FROM access_request
		WHERE patient_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, patientAddress, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list access requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("scan access request id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list access requests: %w", err)
	}

	out := make([]*AccessRequest, 0, len(ids))
	for _, id := range ids {
		r, err := l.fetchRequest(ctx, l.pool, id, "")
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, nil
}

func (l *PGLedger) Approve(ctx context.Context, id uuid.UUID, guardian string) (*AccessRequest, error) {
	return l.vote(ctx, id, guardian, true)
}

func (l *PGLedger) Deny(ctx context.Context, id uuid.UUID, guardian string) (*AccessRequest, error) {
	return l.vote(ctx, id, guardian, false)
}

func (l *PGLedger) vote(ctx context.Context, id uuid.UUID, guardian string, approve bool) (*AccessRequest, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin vote: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := l.fetchRequest(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	guardians, err := l.guardians(ctx, tx, r.Patient)
	if err != nil {
		return nil, err
	}

	apply := applyApproval
	if !approve {
		apply = applyDenial
	}
	if err := apply(r, guardian, guardians, l.policy.Quorum, time.Now()); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO access_vote (request_id, guardian_address, approve, voted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (request_id, guardian_address)
		DO UPDATE SET approve = EXCLUDED.approve, voted_at = NOW()`,
		id, guardian, approve)
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE access_request SET executed = $2, denied = $3 WHERE id = $1`,
		id, r.Executed, r.Denied)
	if err != nil {
		return nil, fmt.Errorf("update access request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}
	return r, nil
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (l *PGLedger) fetchRequest(ctx context.Context, q queryable, id uuid.UUID, lock string) (*AccessRequest, error) {
	var r AccessRequest
	err := q.QueryRow(ctx, `
		SELECT id, patient_address, hospital_id, record_cid, created_at, expires_at, executed, denied
		FROM access_request WHERE id = $1 `+lock,
		id).Scan(&r.ID, &r.Patient, &r.Hospital, &r.RecordCID, &r.CreatedAt, &r.ExpiresAt, &r.Executed, &r.Denied)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT guardian_address, approve FROM access_vote
		WHERE request_id = $1 ORDER BY voted_at`, id)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g string
		var approve bool
		if err := rows.Scan(&g, &approve); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		if approve {
			r.ApprovedBy = append(r.ApprovedBy, g)
		} else {
			r.DeniedBy = append(r.DeniedBy, g)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	return &r, nil
}

func (l *PGLedger) guardians(ctx context.Context, q queryable, patientAddress string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT guardian_address FROM patient_guardian
		WHERE patient_address = $1 ORDER BY guardian_address`, patientAddress)
	if err != nil {
		return nil, fmt.Errorf("load guardians: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load guardians: %w", err)
	}
	return out, nil
}
