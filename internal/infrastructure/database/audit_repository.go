package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
)

// AuditRepository stores hash-chained audit entries. The sequence column
// carries a unique constraint, so two recorders racing on the same chain
// head cannot both land: the loser fails and retries with a fresh head.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a PostgreSQL audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one entry; entries are never updated or deleted
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_entries (
			id, sequence, occurred_at, customer_id, communication_id,
			check_type, result, violations, warnings, processing_ms,
			previous_hash, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.Sequence, entry.Timestamp, entry.CustomerID,
		entry.CommunicationID, entry.CheckType, string(entry.Result),
		entry.Violations, entry.Warnings, entry.ProcessingMs,
		entry.PreviousHash, entry.Hash)
	if err != nil {
		return errors.NewInternalError("failed to append audit entry").WithCause(err)
	}
	return nil
}

// Last returns the chain head, or nil for an empty chain
func (r *AuditRepository) Last(ctx context.Context) (*audit.Entry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `
		SELECT id, sequence, occurred_at, customer_id, communication_id,
		       check_type, result, violations, warnings, processing_ms,
		       previous_hash, hash
		FROM audit_entries
		ORDER BY sequence DESC
		LIMIT 1`))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load audit chain head").WithCause(err)
	}
	return entry, nil
}

// ListByCustomer returns the customer's entries inside [from, to] in
// sequence order.
func (r *AuditRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sequence, occurred_at, customer_id, communication_id,
		       check_type, result, violations, warnings, processing_ms,
		       previous_hash, hash
		FROM audit_entries
		WHERE customer_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY sequence`, customerID, from, to)
	if err != nil {
		return nil, errors.NewInternalError("failed to list audit entries").WithCause(err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan audit entry").WithCause(err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListRange returns entries by sequence range, for chain verification
func (r *AuditRepository) ListRange(ctx context.Context, fromSeq, toSeq int64) ([]*audit.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sequence, occurred_at, customer_id, communication_id,
		       check_type, result, violations, warnings, processing_ms,
		       previous_hash, hash
		FROM audit_entries
		WHERE sequence >= $1 AND sequence <= $2
		ORDER BY sequence`, fromSeq, toSeq)
	if err != nil {
		return nil, errors.NewInternalError("failed to list audit range").WithCause(err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan audit entry").WithCause(err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*audit.Entry, error) {
	var e audit.Entry
	var result string
	err := row.Scan(&e.ID, &e.Sequence, &e.Timestamp, &e.CustomerID,
		&e.CommunicationID, &e.CheckType, &result, &e.Violations, &e.Warnings,
		&e.ProcessingMs, &e.PreviousHash, &e.Hash)
	if err != nil {
		return nil, err
	}
	e.Result = audit.Result(result)
	return &e, nil
}
