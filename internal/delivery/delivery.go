// Package delivery hands verified leads to matched buyers and records the
// outcome of every attempt. Webhook delivery POSTs a canonical payload
// with a strict timeout; email delivery goes through a pluggable sender.
// Each attempt, success or failure, appends an immutable Delivery row.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/resilience"
	"github.com/sells-group/leadgate/internal/route"
	"github.com/sells-group/leadgate/internal/store"
)

// DefaultTimeout bounds one webhook POST so a buyer endpoint can never
// hold a request thread indefinitely.
const DefaultTimeout = 10 * time.Second

// maxResponseBody caps how much of a buyer's response is persisted.
const maxResponseBody = 1000

// emailNotConfigured is recorded on the Delivery row when an email buyer
// is matched but no sender is wired in. An explicit failure beats a
// fabricated success.
const emailNotConfigured = "email delivery not configured"

// EmailSender delivers a lead to a buyer by email.
type EmailSender interface {
	Send(ctx context.Context, lead *model.Lead, buyer *model.Buyer) error
}

// Result classifies a delivery outcome.
type Result string

const (
	ResultSent    Result = "sent"
	ResultFailed  Result = "failed"
	ResultNoBuyer Result = "no_buyer"
)

// Outcome is the result of delivering one lead.
type Outcome struct {
	Result   Result
	Buyer    *model.Buyer
	Delivery *model.Delivery
}

// Executor performs delivery attempts.
type Executor struct {
	store   store.Store
	router  *route.Router
	client  *http.Client
	sender  EmailSender
	timeout time.Duration
}

// Option configures the Executor.
type Option func(*Executor)

// WithTimeout overrides the webhook timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithEmailSender wires in an email sender. Without one, email deliveries
// fail explicitly.
func WithEmailSender(s EmailSender) Option {
	return func(e *Executor) { e.sender = s }
}

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// NewExecutor creates an Executor over the given store and router.
func NewExecutor(st store.Store, router *route.Router, opts ...Option) *Executor {
	e := &Executor{
		store:   st,
		router:  router,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: e.timeout}
	}
	return e
}

// Deliver routes the lead and performs exactly one delivery attempt. When
// no buyer matches, no Delivery row is written and the lead's status is
// left untouched; otherwise the lead finishes DELIVERED or FAILED.
func (e *Executor) Deliver(ctx context.Context, lead *model.Lead) (*Outcome, error) {
	buyer, err := e.Match(ctx, lead)
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		zap.L().Info("delivery: no eligible buyer",
			zap.String("lead_id", lead.ID),
			zap.String("zip", lead.Zip),
		)
		return &Outcome{Result: ResultNoBuyer}, nil
	}

	d, err := e.Execute(ctx, lead, buyer)
	if err != nil {
		return nil, err
	}
	if err := e.Finalize(ctx, lead, d); err != nil {
		return nil, err
	}

	result := ResultFailed
	if d.Status == model.DeliveryStatusSent {
		result = ResultSent
	}
	return &Outcome{Result: result, Buyer: buyer, Delivery: d}, nil
}

// Match returns the buyer for the lead, or nil when none covers it.
func (e *Executor) Match(ctx context.Context, lead *model.Lead) (*model.Buyer, error) {
	return e.router.Match(ctx, lead)
}

// Execute performs one delivery attempt against a matched buyer and
// appends the Delivery row. A transport failure is recorded on the row,
// not returned; the error return is reserved for persistence failures,
// which are fatal for the request.
func (e *Executor) Execute(ctx context.Context, lead *model.Lead, buyer *model.Buyer) (*model.Delivery, error) {
	attempt := &model.Delivery{
		LeadID:  lead.ID,
		BuyerID: buyer.ID,
	}

	switch buyer.DeliveryType {
	case model.DeliveryWebhook:
		attempt.Status, attempt.ResponseCode, attempt.ResponseBody = e.postWebhook(ctx, lead, buyer)
	case model.DeliveryEmail:
		attempt.Status, attempt.ResponseBody = e.sendEmail(ctx, lead, buyer)
	default:
		attempt.Status = model.DeliveryStatusFailed
		attempt.ResponseBody = "unknown delivery type: " + string(buyer.DeliveryType)
	}

	d, err := e.store.CreateDelivery(ctx, attempt)
	if err != nil {
		return nil, eris.Wrapf(err, "delivery: record attempt for lead %s", lead.ID)
	}

	zap.L().Info("delivery attempt",
		zap.String("lead_id", lead.ID),
		zap.String("buyer_id", buyer.ID),
		zap.String("status", string(d.Status)),
		zap.Int("attempt", d.Attempt),
		zap.Int("response_code", d.ResponseCode),
	)
	return d, nil
}

// Finalize moves the lead to its terminal delivery state: DELIVERED on a
// sent attempt, FAILED otherwise.
func (e *Executor) Finalize(ctx context.Context, lead *model.Lead, d *model.Delivery) error {
	status := model.LeadStatusFailed
	if d.Status == model.DeliveryStatusSent {
		status = model.LeadStatusDelivered
	}
	if err := e.store.UpdateLeadStatus(ctx, lead.ID, status); err != nil {
		return eris.Wrapf(err, "delivery: finalize lead %s", lead.ID)
	}
	lead.Status = status
	return nil
}

// postWebhook POSTs the canonical payload to the buyer's endpoint. The
// buyer's raw response is captured (truncated) for the Delivery row but
// never surfaced to the end user.
func (e *Executor) postWebhook(ctx context.Context, lead *model.Lead, buyer *model.Buyer) (model.DeliveryStatus, int, string) {
	payload, err := json.Marshal(model.NewWebhookPayload(lead))
	if err != nil {
		return model.DeliveryStatusFailed, 0, "marshal payload: " + err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buyer.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return model.DeliveryStatusFailed, 0, "create request: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Timeout or network failure: no status code to record.
		return model.DeliveryStatusFailed, 0, truncate(err.Error())
	}
	defer resp.Body.Close() //nolint:errcheck

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		body = []byte("unable to read response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return model.DeliveryStatusSent, resp.StatusCode, truncate(string(body))
	}
	return model.DeliveryStatusFailed, resp.StatusCode, truncate(string(body))
}

func (e *Executor) sendEmail(ctx context.Context, lead *model.Lead, buyer *model.Buyer) (model.DeliveryStatus, string) {
	if e.sender == nil {
		return model.DeliveryStatusFailed, emailNotConfigured
	}
	if err := e.sender.Send(ctx, lead, buyer); err != nil {
		return model.DeliveryStatusFailed, truncate(err.Error())
	}
	return model.DeliveryStatusSent, ""
}

func truncate(s string) string {
	if len(s) > maxResponseBody {
		return s[:maxResponseBody]
	}
	return s
}

// transportError converts a failed Delivery row into a retryable error
// for the worker's backoff loop.
func transportError(d *model.Delivery) error {
	if d.Status == model.DeliveryStatusSent {
		return nil
	}
	return resilience.NewTransportError(
		errors.New("delivery failed: "+d.ResponseBody),
		d.ResponseCode,
	)
}
