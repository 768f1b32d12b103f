// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers transactional email for authd.
package mail

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// DefaultFrom is the sender used when none is configured.
const DefaultFrom = "onboarding@resend.dev"

// Message is a single outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes message metadata to a logger instead of sending it.
// The body is never logged because it carries the reset link.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) (*LogSender, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &LogSender{logger: logger}, nil
}

// Send logs the recipient and subject.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail not sent (log driver)",
		"event", "mail_logged",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
