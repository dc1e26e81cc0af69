package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// MessageRepository persists delivery messages on PostgreSQL
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a PostgreSQL message repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save inserts a new message
func (r *MessageRepository) Save(ctx context.Context, msg *messaging.Message) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (
			id, customer_id, invoice_id, amount_due, channel, strategy,
			recipient, subject, body, status, failure_reason, retry_count,
			max_retries, next_retry_at, next_allowed_at, attempted_channels,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		          $13, $14, $15, $16, $17, $18)`,
		msg.ID, msg.CustomerID, msg.InvoiceID, msg.AmountDue.String(),
		msg.Channel.String(), msg.Strategy, msg.Recipient, msg.Subject,
		msg.Body, string(msg.Status), msg.FailureReason, msg.RetryCount,
		msg.MaxRetries, msg.NextRetryAt, msg.NextAllowedAt,
		channelStrings(msg.AttemptedChannels), msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return errors.NewInternalError("failed to save message").WithCause(err)
	}
	return nil
}

// GetByID loads a message
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*messaging.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, selectMessage+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.ErrMessageNotFound
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load message").WithCause(err)
	}
	return msg, nil
}

// Update persists the full message state
func (r *MessageRepository) Update(ctx context.Context, msg *messaging.Message) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET
			channel = $2, subject = $3, body = $4, status = $5,
			failure_reason = $6, retry_count = $7, next_retry_at = $8,
			next_allowed_at = $9, attempted_channels = $10, updated_at = $11
		WHERE id = $1`,
		msg.ID, msg.Channel.String(), msg.Subject, msg.Body,
		string(msg.Status), msg.FailureReason, msg.RetryCount,
		msg.NextRetryAt, msg.NextAllowedAt,
		channelStrings(msg.AttemptedChannels), msg.UpdatedAt)
	if err != nil {
		return errors.NewInternalError("failed to update message").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrMessageNotFound
	}
	return nil
}

// ListDue returns messages whose next action is due before the cutoff:
// pending messages, blocked messages whose park expired, and scheduled
// retries whose timers passed. Used to rebuild the work queue on restart.
func (r *MessageRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*messaging.Message, error) {
	rows, err := r.db.Query(ctx, selectMessage+`
		WHERE status = 'pending'
		   OR (status = 'blocked' AND next_allowed_at <= $1)
		   OR (status = 'retry_scheduled' AND next_retry_at <= $1)
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list due messages").WithCause(err)
	}
	defer rows.Close()

	var msgs []*messaging.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan message").WithCause(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

const selectMessage = `
	SELECT id, customer_id, invoice_id, amount_due, channel, strategy,
	       recipient, subject, body, status, failure_reason, retry_count,
	       max_retries, next_retry_at, next_allowed_at, attempted_channels,
	       created_at, updated_at
	FROM messages`

func scanMessage(row pgx.Row) (*messaging.Message, error) {
	var msg messaging.Message
	var amount, channel, status string
	var attempted []string
	err := row.Scan(&msg.ID, &msg.CustomerID, &msg.InvoiceID, &amount,
		&channel, &msg.Strategy, &msg.Recipient, &msg.Subject, &msg.Body,
		&status, &msg.FailureReason, &msg.RetryCount, &msg.MaxRetries,
		&msg.NextRetryAt, &msg.NextAllowedAt, &attempted,
		&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	msg.AmountDue, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	msg.Channel = values.Channel(channel)
	msg.Status = messaging.Status(status)
	for _, ch := range attempted {
		msg.AttemptedChannels = append(msg.AttemptedChannels, values.Channel(ch))
	}
	return &msg, nil
}

func channelStrings(channels []values.Channel) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.String())
	}
	return out
}

// AttemptRepository stores the delivery attempt log on PostgreSQL
type AttemptRepository struct {
	db *pgxpool.Pool
}

// NewAttemptRepository creates a PostgreSQL attempt repository
func NewAttemptRepository(db *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Append inserts one attempt record
func (r *AttemptRepository) Append(ctx context.Context, attempt messaging.DeliveryAttempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO delivery_attempts (
			id, message_id, attempt_number, provider, channel,
			started_at, completed_at, status, error_class, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID, attempt.MessageID, attempt.AttemptNumber, attempt.Provider,
		attempt.Channel.String(), attempt.StartedAt, attempt.CompletedAt,
		string(attempt.Status), string(attempt.ErrorClass), attempt.ErrorMessage)
	if err != nil {
		return errors.NewInternalError("failed to append delivery attempt").WithCause(err)
	}
	return nil
}

// Update closes an attempt with its outcome
func (r *AttemptRepository) Update(ctx context.Context, attempt messaging.DeliveryAttempt) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE delivery_attempts SET
			completed_at = $2, status = $3, error_class = $4, error_message = $5
		WHERE id = $1`,
		attempt.ID, attempt.CompletedAt, string(attempt.Status),
		string(attempt.ErrorClass), attempt.ErrorMessage)
	if err != nil {
		return errors.NewInternalError("failed to update delivery attempt").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("delivery attempt")
	}
	return nil
}

// ListByMessage returns a message's attempts in order
func (r *AttemptRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]messaging.DeliveryAttempt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, attempt_number, provider, channel,
		       started_at, completed_at, status, error_class, error_message
		FROM delivery_attempts
		WHERE message_id = $1
		ORDER BY attempt_number`, messageID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list delivery attempts").WithCause(err)
	}
	defer rows.Close()

	var attempts []messaging.DeliveryAttempt
	for rows.Next() {
		var a messaging.DeliveryAttempt
		var channel, status, class string
		if err := rows.Scan(&a.ID, &a.MessageID, &a.AttemptNumber, &a.Provider,
			&channel, &a.StartedAt, &a.CompletedAt, &status, &class,
			&a.ErrorMessage); err != nil {
			return nil, errors.NewInternalError("failed to scan delivery attempt").WithCause(err)
		}
		a.Channel = values.Channel(channel)
		a.Status = messaging.AttemptStatus(status)
		a.ErrorClass = messaging.ErrorClass(class)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
