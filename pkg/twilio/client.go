// Package twilio is a minimal client for the Twilio Messages API, used to
// send one-time verification codes.
package twilio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// ErrDisabled is returned by the disabled sender. Callers that treat SMS
// as optional can check for it.
var ErrDisabled = eris.New("twilio: sms sending disabled")

// Sender delivers an SMS message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	http       *http.Client
}

// NewClient creates a Twilio Messages client. When any credential is
// missing it returns a disabled sender that fails every send with
// ErrDisabled, so a dev environment degrades loudly instead of silently.
func NewClient(accountSID, authToken, from string, opts ...Option) Sender {
	if accountSID == "" || authToken == "" || from == "" {
		zap.L().Warn("twilio credentials incomplete, sms sending disabled")
		return disabledSender{}
	}
	c := &httpClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// messageResponse is the subset of the Messages API response we care about.
type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Send posts one outbound SMS.
func (c *httpClient) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := c.baseURL + "/Accounts/" + c.accountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "twilio: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "twilio: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "twilio: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("twilio: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var msg messageResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return eris.Wrap(err, "twilio: unmarshal response")
	}
	if msg.ErrorCode != nil {
		return eris.Errorf("twilio: message rejected (%d): %s", *msg.ErrorCode, msg.ErrorMessage)
	}

	zap.L().Debug("sms sent", zap.String("sid", msg.SID), zap.String("status", msg.Status))
	return nil
}

type disabledSender struct{}

func (disabledSender) Send(context.Context, string, string) error {
	return ErrDisabled
}
