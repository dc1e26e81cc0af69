package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
)

// MessageRepository persists delivery messages. Update must persist the full
// message including status, retry bookkeeping and attempted channels.
type MessageRepository interface {
	Save(ctx context.Context, msg *messaging.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*messaging.Message, error)
	Update(ctx context.Context, msg *messaging.Message) error
	ListDue(ctx context.Context, before time.Time, limit int) ([]*messaging.Message, error)
}

// AttemptRepository stores the delivery attempt log. Attempts are appended
// once on hand-off and updated exactly once when their outcome is known;
// AttemptNumber strictly orders them within a message.
type AttemptRepository interface {
	Append(ctx context.Context, attempt messaging.DeliveryAttempt) error
	Update(ctx context.Context, attempt messaging.DeliveryAttempt) error
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]messaging.DeliveryAttempt, error)
}

// ComplianceChecker is the gate every message passes through immediately
// before each physical send, plus the history sink for confirmed deliveries.
type ComplianceChecker interface {
	CheckCommunication(ctx context.Context, communicationID uuid.UUID, req compliance.Request) (*compliance.Verdict, error)
	RecordOutcome(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error
}

// ProfileSource exposes customer contact preferences for channel fallback
type ProfileSource interface {
	Get(ctx context.Context, customerID uuid.UUID) (*compliance.Profile, error)
}

// ContentProvider renders the subject and body for a message from its
// strategy and invoice context.
type ContentProvider interface {
	Render(ctx context.Context, msg *messaging.Message) (subject, body string, err error)
}
