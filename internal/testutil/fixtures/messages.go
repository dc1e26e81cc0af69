package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// MessageBuilder builds test Message entities
type MessageBuilder struct {
	t          *testing.T
	customerID uuid.UUID
	invoiceID  uuid.UUID
	amountDue  decimal.Decimal
	channel    values.Channel
	strategy   string
	recipient  string
	maxRetries int
	createdAt  time.Time
}

// NewMessageBuilder creates a MessageBuilder with defaults
func NewMessageBuilder(t *testing.T) *MessageBuilder {
	t.Helper()
	return &MessageBuilder{
		t:          t,
		customerID: uuid.New(),
		invoiceID:  uuid.New(),
		amountDue:  decimal.RequireFromString("420.50"),
		channel:    values.ChannelEmail,
		strategy:   "payment_notice",
		recipient:  "debtor@example.com",
		maxRetries: 3,
		createdAt:  time.Now().UTC(),
	}
}

func (b *MessageBuilder) WithCustomerID(id uuid.UUID) *MessageBuilder {
	b.customerID = id
	return b
}

func (b *MessageBuilder) WithChannel(ch values.Channel) *MessageBuilder {
	b.channel = ch
	return b
}

func (b *MessageBuilder) WithStrategy(strategy string) *MessageBuilder {
	b.strategy = strategy
	return b
}

func (b *MessageBuilder) WithRecipient(recipient string) *MessageBuilder {
	b.recipient = recipient
	return b
}

func (b *MessageBuilder) WithAmountDue(amount string) *MessageBuilder {
	b.amountDue = decimal.RequireFromString(amount)
	return b
}

func (b *MessageBuilder) WithMaxRetries(n int) *MessageBuilder {
	b.maxRetries = n
	return b
}

func (b *MessageBuilder) WithCreatedAt(at time.Time) *MessageBuilder {
	b.createdAt = at
	return b
}

// Build creates the message, failing the test on invalid input
func (b *MessageBuilder) Build() *messaging.Message {
	b.t.Helper()
	msg, err := messaging.NewMessage(b.customerID, b.invoiceID, b.amountDue,
		b.channel, b.strategy, b.recipient, b.maxRetries, b.createdAt)
	require.NoError(b.t, err)
	return msg
}
