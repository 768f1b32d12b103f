// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memstore"
	"github.com/holomush/authd/internal/logging"
)

var (
	testTraceID = trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	testSpanID  = trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}
)

func tracedContext() context.Context {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    testTraceID,
		SpanID:     testSpanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

// logLines returns the non-empty lines written to buf.
func logLines(buf *bytes.Buffer) []string {
	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestServiceLogsCarryTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("authd", "test", "json", "debug", &buf)
	store := memstore.New()
	ctx := tracedContext()

	registration, err := auth.NewRegistrationServiceWithLogger(store, plainHasher{}, logger)
	require.NoError(t, err)
	issuer, err := auth.NewJWTIssuer(auth.JWTConfig{
		Secret: []byte(strings.Repeat("k", auth.MinSigningSecretLen)),
		Issuer: "authd",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	authn, err := auth.NewAuthenticationServiceWithLogger(store, plainHasher{}, issuer, logger)
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	resets, err := auth.NewResetTokenManager(store, auth.NewRandomTokenGenerator(), plainHasher{}, notifier,
		auth.WithResetLogger(logger))
	require.NoError(t, err)

	_, err = registration.Register(ctx, auth.RegisterInput{Username: "carol", Email: "carol@example.com", Password: "pw1"})
	require.NoError(t, err)
	_, err = authn.Authenticate(ctx, "carol", "pw1")
	require.NoError(t, err)
	_, err = authn.Authenticate(ctx, "carol", "wrong")
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	require.NoError(t, resets.RequestReset(ctx, "carol@example.com"))
	require.NoError(t, resets.Redeem(ctx, notifier.token("carol@example.com"), "pw2"))

	lines := logLines(&buf)
	for _, event := range []string{"user_registered", "login_succeeded", "login_failed", "reset_requested", "password_reset"} {
		found := false
		for _, line := range lines {
			if strings.Contains(line, `"event":"`+event+`"`) {
				found = true
				assert.Contains(t, line, `"trace_id":"`+testTraceID.String()+`"`, event)
				assert.Contains(t, line, `"span_id":"`+testSpanID.String()+`"`, event)
			}
		}
		assert.True(t, found, "no log line for %s", event)
	}
}

func TestServiceLogsWithoutTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("authd", "test", "json", "debug", &buf)

	registration, err := auth.NewRegistrationServiceWithLogger(memstore.New(), plainHasher{}, logger)
	require.NoError(t, err)
	_, err = registration.Register(context.Background(), auth.RegisterInput{Username: "dave", Email: "dave@example.com", Password: "pw"})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"event":"user_registered"`)
	assert.NotContains(t, buf.String(), "trace_id")
}
