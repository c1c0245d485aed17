package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/time/rate"
)

var ErrEndpointEmpty = errors.New("notification endpoint is empty")

type pushErrorPayload struct {
	AuthReqID        string `json:"auth_req_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type pingPayload struct {
	AuthReqID string `json:"auth_req_id"`
}

// CallbackError reports a non 2xx answer from a client notification endpoint.
type CallbackError struct {
	StatusCode int
	Endpoint   string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback to %s failed with status %d", e.Endpoint, e.StatusCode)
}

// HTTPSender posts CIBA notifications to client notification endpoints.
type HTTPSender struct {
	timeout time.Duration
	limiter *rate.Limiter
}

func (s *HTTPSender) SendPushError(ctx context.Context, authReqID, endpoint, notificationToken, errorCode, description string) error {
	return s.post(ctx, endpoint, notificationToken, pushErrorPayload{
		AuthReqID:        authReqID,
		Error:            errorCode,
		ErrorDescription: description,
	})
}

func (s *HTTPSender) SendPingCallback(ctx context.Context, authReqID, endpoint, notificationToken string) error {
	return s.post(ctx, endpoint, notificationToken, pingPayload{AuthReqID: authReqID})
}

func (s *HTTPSender) post(ctx context.Context, endpoint, notificationToken string, payload any) error {
	if endpoint == "" {
		return ErrEndpointEmpty
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return err
	}

	agent := fiber.Post(endpoint)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+notificationToken)
	agent.ContentType(fiber.MIMEApplicationJSON)
	agent.Body(buf.Bytes())
	agent.Timeout(s.timeout)

	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post %s: %w", endpoint, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return &CallbackError{StatusCode: code, Endpoint: endpoint}
	}
	return nil
}

// NewHTTPSender returns a sender with the given request timeout. A positive
// ratePerSecond throttles outbound callbacks for the whole process.
func NewHTTPSender(timeout time.Duration, ratePerSecond float64) *HTTPSender {
	s := &HTTPSender{timeout: timeout}
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return s
}
