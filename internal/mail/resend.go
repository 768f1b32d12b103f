// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Resend delivery tuning.
const (
	resendMaxAttempts = 3
	resendBaseBackoff = 200 * time.Millisecond
	resendTimeout     = 10 * time.Second
)

// ResendSender delivers mail through the Resend API.
type ResendSender struct {
	client  *resend.Client
	backoff time.Duration
}

type resendSettings struct {
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// ResendOption customizes a ResendSender.
type ResendOption func(*resendSettings)

// WithResendBaseURL points the client at another API root.
func WithResendBaseURL(baseURL string) ResendOption {
	return func(s *resendSettings) { s.baseURL = baseURL }
}

// WithResendHTTPClient overrides the HTTP client.
func WithResendHTTPClient(client *http.Client) ResendOption {
	return func(s *resendSettings) { s.httpClient = client }
}

// WithResendBackoff overrides the base retry delay.
func WithResendBackoff(d time.Duration) ResendOption {
	return func(s *resendSettings) { s.backoff = d }
}

// NewResendSender creates a ResendSender authenticated with apiKey.
func NewResendSender(apiKey string, opts ...ResendOption) (*ResendSender, error) {
	if apiKey == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("resend API key is required")
	}
	settings := resendSettings{
		httpClient: &http.Client{Timeout: resendTimeout},
		backoff:    resendBaseBackoff,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.httpClient == nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("http client is required")
	}

	// The SDK hides response status codes, so the transport records them
	// for the retry decision.
	httpClient := *settings.httpClient
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient.Transport = statusTransport{base: base}

	client := resend.NewCustomClient(&httpClient, apiKey)
	if settings.baseURL != "" {
		u, err := url.Parse(settings.baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, oops.Code("MAIL_CONFIG_INVALID").
				With("base_url", settings.baseURL).
				Errorf("resend base URL must be absolute")
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		client.BaseURL = u
	}
	return &ResendSender{client: client, backoff: settings.backoff}, nil
}

// Send delivers msg, retrying network errors, 429 and 5xx responses.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}

	backoff := retry.WithMaxRetries(resendMaxAttempts-1, retry.NewExponential(s.backoff))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		return s.send(ctx, req)
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("provider", "resend").
			With("attempts", attempts).
			Wrap(err)
	}
	return nil
}

func (s *ResendSender) send(ctx context.Context, req *resend.SendEmailRequest) error {
	var status int
	_, err := s.client.Emails.SendWithContext(context.WithValue(ctx, statusKey{}, &status), req)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err() //nolint:wrapcheck // wrapped by Send
	}
	if status == 0 {
		return retry.RetryableError(err)
	}
	if status >= 200 && status < 300 {
		// Accepted; only the response body was unreadable.
		return nil
	}

	rejected := oops.Code("MAIL_PROVIDER_REJECTED").
		With("status", status).
		Wrap(err)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return retry.RetryableError(rejected)
	}
	return rejected
}

type statusKey struct{}

// statusTransport stores the response status in the *int carried by the
// request context under statusKey.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err //nolint:wrapcheck // RoundTripper passthrough
}
