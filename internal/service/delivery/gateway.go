package delivery

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/collectwise/outreach-backend/internal/domain/messaging"
)

// SendResult is the synchronous acknowledgement from a provider gateway.
// Delivery confirmation arrives later through the feedback path.
type SendResult struct {
	ProviderMessageID string
}

// Gateway hands a message to one provider. Implementations wrap a single
// channel's provider API and classify its errors into GatewayError; anything
// else that escapes is treated as unknown.
type Gateway interface {
	Provider() string
	Send(ctx context.Context, msg *messaging.Message) (SendResult, error)
}

// GatewayError carries the provider's error already classified
type GatewayError struct {
	Class   messaging.ErrorClass
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return "gateway error [" + e.Code + "]: " + e.Message
}

// NewGatewayError creates a classified gateway error
func NewGatewayError(class messaging.ErrorClass, code, message string) *GatewayError {
	return &GatewayError{Class: class, Code: code, Message: message}
}

// classifySendError normalizes a synchronous send failure. Timeouts and
// cancelled contexts are temporary: the provider may well have never seen
// the request. Unrecognized errors classify as unknown, which retries.
func classifySendError(err error) (messaging.ErrorClass, string) {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr.Class, gwErr.Message
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return messaging.ErrorClassTemporary, "gateway call timed out"
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return messaging.ErrorClassTemporary, "network timeout reaching provider"
	}
	return messaging.ErrorClassUnknown, err.Error()
}
