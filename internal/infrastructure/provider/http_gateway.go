package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/service/delivery"
)

// HTTPGateway talks to a provider's REST send API. One instance serves one
// channel. A client-side rate limiter keeps us under the provider's quota
// instead of burning retry budget on 429s.
type HTTPGateway struct {
	provider string
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Config holds one provider's connection settings
type Config struct {
	Provider          string
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewHTTPGateway creates a gateway for one provider endpoint
func NewHTTPGateway(cfg Config, logger *zap.Logger) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	return &HTTPGateway{
		provider: cfg.Provider,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger,
	}
}

// Provider returns the provider name used in attempt records and feedback
func (g *HTTPGateway) Provider() string { return g.provider }

type sendPayload struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

type sendResponse struct {
	ProviderMessageID string `json:"provider_message_id"`
	Code              string `json:"code,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Send posts the message to the provider. HTTP and provider-level failures
// come back as classified GatewayErrors so the engine never inspects raw
// provider responses.
func (g *HTTPGateway) Send(ctx context.Context, msg *messaging.Message) (delivery.SendResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return delivery.SendResult{}, err
	}

	payload, err := json.Marshal(sendPayload{
		MessageID: msg.ID.String(),
		Channel:   msg.Channel.String(),
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
	})
	if err != nil {
		return delivery.SendResult{}, delivery.NewGatewayError(
			messaging.ErrorClassPermanent, "ENCODE", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return delivery.SendResult{}, delivery.NewGatewayError(
			messaging.ErrorClassPermanent, "REQUEST", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		// Transport errors are temporary: the provider may never have seen it.
		return delivery.SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return delivery.SendResult{ProviderMessageID: parsed.ProviderMessageID}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return delivery.SendResult{}, delivery.NewGatewayError(
			messaging.ErrorClassRateLimit, codeOr(parsed.Code, "429"), messageOr(parsed.Error, "provider throttled"))
	case resp.StatusCode >= 500:
		return delivery.SendResult{}, delivery.NewGatewayError(
			messaging.ErrorClassTemporary, codeOr(parsed.Code, fmt.Sprint(resp.StatusCode)), messageOr(parsed.Error, "provider unavailable"))
	default:
		return delivery.SendResult{}, delivery.NewGatewayError(
			messaging.ErrorClassPermanent, codeOr(parsed.Code, fmt.Sprint(resp.StatusCode)), messageOr(parsed.Error, "provider rejected message"))
	}
}

func codeOr(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
