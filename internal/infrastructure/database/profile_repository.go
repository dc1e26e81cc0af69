package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// ProfileRepository implements the compliance profile store on PostgreSQL.
// Profiles materialize lazily: Get creates the row on first use, and the
// consent and history tables are append-only.
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a PostgreSQL profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get loads the customer's profile, creating an empty one on first sight.
// Derived fields are recomputed from the loaded history, never read from
// storage.
func (r *ProfileRepository) Get(ctx context.Context, customerID uuid.UUID) (*compliance.Profile, error) {
	if err := r.ensure(ctx, customerID); err != nil {
		return nil, err
	}

	profile := &compliance.Profile{CustomerID: customerID}

	var prefsJSON []byte
	err := r.db.QueryRow(ctx, `
		SELECT preferences, created_at, updated_at
		FROM compliance_profiles
		WHERE customer_id = $1`, customerID).
		Scan(&prefsJSON, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return nil, errors.NewInternalError("failed to load profile").WithCause(err)
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &profile.Preferences); err != nil {
			return nil, errors.NewInternalError("corrupt profile preferences").WithCause(err)
		}
	}
	if profile.Preferences.Disabled == nil {
		profile.Preferences.Disabled = map[values.Channel]bool{}
	}

	if profile.Consents, err = r.loadConsents(ctx, customerID); err != nil {
		return nil, err
	}
	if profile.History, err = r.loadHistory(ctx, customerID); err != nil {
		return nil, err
	}
	profile.Refresh()

	return profile, nil
}

// AppendRecord appends one communication record to the customer's history
func (r *ProfileRepository) AppendRecord(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error {
	if err := r.ensure(ctx, customerID); err != nil {
		return err
	}

	violations := typeStrings(rec.ViolationTypes)
	warnings := warningStrings(rec.WarningTypes)

	_, err := r.db.Exec(ctx, `
		INSERT INTO communication_records (
			id, customer_id, channel, strategy, occurred_at,
			compliant, violation_types, warning_types, processing_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, customerID, rec.Channel.String(), rec.Strategy, rec.Timestamp,
		rec.Compliant, violations, warnings, rec.ProcessingTimeMs)
	if err != nil {
		return errors.NewInternalError("failed to append communication record").WithCause(err)
	}

	return r.touch(ctx, customerID, rec.Timestamp)
}

// AppendConsent appends one consent record
func (r *ProfileRepository) AppendConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error {
	if err := r.ensure(ctx, customerID); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO consent_records (
			id, customer_id, channel, granted, method,
			granted_at, expires_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		consent.ID, customerID, consent.Channel.String(), consent.Granted,
		string(consent.Method), consent.GrantedAt, consent.ExpiresAt, consent.RevokedAt)
	if err != nil {
		return errors.NewInternalError("failed to append consent record").WithCause(err)
	}

	return r.touch(ctx, customerID, consent.GrantedAt)
}

// SetPreferences replaces the customer's contact preferences
func (r *ProfileRepository) SetPreferences(ctx context.Context, customerID uuid.UUID, prefs compliance.ContactPreferences) error {
	if err := r.ensure(ctx, customerID); err != nil {
		return err
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return errors.NewInternalError("failed to marshal preferences").WithCause(err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE compliance_profiles
		SET preferences = $2, updated_at = now()
		WHERE customer_id = $1`, customerID, prefsJSON)
	if err != nil {
		return errors.NewInternalError("failed to update preferences").WithCause(err)
	}
	return nil
}

func (r *ProfileRepository) ensure(ctx context.Context, customerID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO compliance_profiles (customer_id, preferences, created_at, updated_at)
		VALUES ($1, '{}', now(), now())
		ON CONFLICT (customer_id) DO NOTHING`, customerID)
	if err != nil {
		return errors.NewInternalError("failed to ensure profile").WithCause(err)
	}
	return nil
}

func (r *ProfileRepository) touch(ctx context.Context, customerID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE compliance_profiles
		SET updated_at = GREATEST(updated_at, $2)
		WHERE customer_id = $1`, customerID, at)
	if err != nil {
		return errors.NewInternalError("failed to touch profile").WithCause(err)
	}
	return nil
}

func (r *ProfileRepository) loadConsents(ctx context.Context, customerID uuid.UUID) ([]compliance.ConsentRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, channel, granted, method, granted_at, expires_at, revoked_at
		FROM consent_records
		WHERE customer_id = $1
		ORDER BY granted_at, id`, customerID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load consents").WithCause(err)
	}
	defer rows.Close()

	var consents []compliance.ConsentRecord
	for rows.Next() {
		var c compliance.ConsentRecord
		var channel, method string
		if err := rows.Scan(&c.ID, &channel, &c.Granted, &method,
			&c.GrantedAt, &c.ExpiresAt, &c.RevokedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan consent").WithCause(err)
		}
		c.Channel = values.Channel(channel)
		c.Method = compliance.ConsentMethod(method)
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

func (r *ProfileRepository) loadHistory(ctx context.Context, customerID uuid.UUID) ([]compliance.CommunicationRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, channel, strategy, occurred_at, compliant,
		       violation_types, warning_types, processing_time_ms
		FROM communication_records
		WHERE customer_id = $1
		ORDER BY occurred_at, id`, customerID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load history").WithCause(err)
	}
	defer rows.Close()

	var history []compliance.CommunicationRecord
	for rows.Next() {
		var rec compliance.CommunicationRecord
		var channel string
		var violations, warnings []string
		if err := rows.Scan(&rec.ID, &channel, &rec.Strategy, &rec.Timestamp,
			&rec.Compliant, &violations, &warnings, &rec.ProcessingTimeMs); err != nil {
			return nil, errors.NewInternalError("failed to scan communication record").WithCause(err)
		}
		rec.Channel = values.Channel(channel)
		for _, v := range violations {
			rec.ViolationTypes = append(rec.ViolationTypes, compliance.ViolationType(v))
		}
		for _, w := range warnings {
			rec.WarningTypes = append(rec.WarningTypes, compliance.WarningType(w))
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

func typeStrings(types []compliance.ViolationType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func warningStrings(types []compliance.WarningType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
