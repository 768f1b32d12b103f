// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// ResetSubject is the subject line of the reset email.
const ResetSubject = "Reset your password"

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
  <body>
    <p>You requested a password reset.</p>
    <p><a href="{{.URL}}">Click here to reset your password</a></p>
    <p>This link will expire in 1 hour.</p>
    <p>If you did not request this, you can ignore this email.</p>
  </body>
</html>
`))

// ResetMailer implements auth.ResetNotifier by emailing a reset link.
type ResetMailer struct {
	sender Sender
	appURL string
	from   string
}

// NewResetMailer creates a ResetMailer linking into appURL.
func NewResetMailer(sender Sender, appURL, from string) (*ResetMailer, error) {
	if sender == nil {
		return nil, oops.Errorf("mail sender is required")
	}
	u, err := url.Parse(appURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("app_url", appURL).
			Errorf("app URL must be an absolute http(s) URL")
	}
	if from == "" {
		from = DefaultFrom
	}
	return &ResetMailer{sender: sender, appURL: strings.TrimRight(appURL, "/"), from: from}, nil
}

// BuildResetURL returns the login page URL whose callback lands on the
// reset form with token filled in.
func BuildResetURL(appURL, token string) string {
	appURL = strings.TrimRight(appURL, "/")
	callback := appURL + "/reset-password?token=" + token
	return appURL + "/login?callbackUrl=" + url.QueryEscape(callback)
}

// SendResetLink renders and sends the reset email.
func (m *ResetMailer) SendResetLink(ctx context.Context, email, token string) error {
	var body bytes.Buffer
	if err := resetTemplate.Execute(&body, struct{ URL string }{BuildResetURL(m.appURL, token)}); err != nil {
		return oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}
	return m.sender.Send(ctx, Message{
		From:    m.from,
		To:      email,
		Subject: ResetSubject,
		HTML:    body.String(),
	})
}

// Compile-time interface check.
var _ auth.ResetNotifier = (*ResetMailer)(nil)
