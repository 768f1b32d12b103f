// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the authentication services as a JSON API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session_token"

// Client-facing messages.
const (
	msgInvalidBody         = "Invalid request body"
	msgRegisterRequired    = "Username, email and password are required"
	msgRegistered          = "Registration successful"
	msgRegistrationFailed  = "Registration failed"
	msgEmailTaken          = "Email already exists"
	msgUsernameTaken       = "Username already taken"
	msgIdentifierRequired  = "Please enter your email or username"
	msgPasswordRequired    = "Please enter your password"
	msgInvalidCredentials  = "Invalid credentials"
	msgLoginFailed         = "Login failed"
	msgInvalidSession      = "Invalid session"
	msgSessionCheckFailed  = "Session check failed"
	msgEmailRequired       = "Please enter your email"
	msgResetLinkSent       = "If an account exists for that email, a reset link has been sent"
	msgResetEmailFailed    = "Failed to send reset email"
	msgInvalidResetToken   = "Invalid or expired reset token"
	msgNewPasswordRequired = "Please enter a new password"
	msgPasswordUpdated     = "Password updated successfully"
	msgPasswordFailed      = "Failed to update password"
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.PublicUser, error)
}

// Authenticator verifies credentials and sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (*auth.Session, error)
	ValidateSession(ctx context.Context, token string) (*auth.SessionClaims, error)
}

// PasswordResetter issues and redeems reset tokens.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	Redeem(ctx context.Context, token, newPassword string) error
}

// Recorder counts authentication outcomes.
type Recorder interface {
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
	RecordPasswordReset(stage, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRegistration(string)          {}
func (nopRecorder) RecordLogin(string)                 {}
func (nopRecorder) RecordPasswordReset(string, string) {}

// Config wires a Handler.
type Config struct {
	Registrar     Registrar
	Authenticator Authenticator
	Resetter      PasswordResetter
	// Metrics is optional.
	Metrics Recorder
	// Logger is optional; nil discards.
	Logger *slog.Logger
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// Handler serves the /auth routes.
type Handler struct {
	registrar     Registrar
	authenticator Authenticator
	resetter      PasswordResetter
	metrics       Recorder
	logger        *slog.Logger
	secureCookies bool
}

// NewHandler validates cfg and creates a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Registrar == nil {
		return nil, oops.Errorf("registrar is required")
	}
	if cfg.Authenticator == nil {
		return nil, oops.Errorf("authenticator is required")
	}
	if cfg.Resetter == nil {
		return nil, oops.Errorf("password resetter is required")
	}
	h := &Handler{
		registrar:     cfg.Registrar,
		authenticator: cfg.Authenticator,
		resetter:      cfg.Resetter,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		secureCookies: cfg.SecureCookies,
	}
	if h.metrics == nil {
		h.metrics = nopRecorder{}
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h, nil
}

// Register mounts the routes under /auth.
func (h *Handler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/register", h.SignUp)
	a.POST("/session", h.Login)
	a.GET("/session", h.Session)
	a.POST("/password/forgot", h.ForgotPassword)
	a.POST("/password/reset", h.ResetPassword)
}

type userResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username,omitempty"`
	Email    string  `json:"email"`
	Name     *string `json:"name,omitempty"`
}

type registerRequest struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Name     *string `json:"name"`
	Password string  `json:"password"`
}

type registerResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

// SignUp handles POST /auth/register.
func (h *Handler) SignUp(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordRegistration("invalid")
		abortWithError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	user, err := h.registrar.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		var (
			verr     *auth.ValidationError
			conflict *auth.ConflictError
		)
		switch {
		case errors.As(err, &verr):
			h.metrics.RecordRegistration("invalid")
			msg := verr.Reason
			if verr.Missing() {
				msg = msgRegisterRequired
			}
			abortWithError(c, http.StatusBadRequest, msg)
		case errors.As(err, &conflict):
			h.metrics.RecordRegistration("conflict")
			msg := msgEmailTaken
			if conflict.Field == auth.FieldUsername {
				msg = msgUsernameTaken
			}
			abortWithError(c, http.StatusBadRequest, msg)
		default:
			h.metrics.RecordRegistration("error")
			errutil.LogErrorContext(c.Request.Context(), h.logger, "registration failed", err)
			abortWithError(c, http.StatusInternalServerError, msgRegistrationFailed)
		}
		return
	}

	h.metrics.RecordRegistration("success")
	c.JSON(http.StatusOK, registerResponse{
		Success: true,
		Message: msgRegistered,
		User: userResponse{
			ID:       user.ID.String(),
			Username: user.Username,
			Email:    user.Email,
			Name:     user.Name,
		},
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// identifier picks the first non-blank of identifier, email and username.
func (r loginRequest) identifier() string {
	for _, v := range []string{r.Identifier, r.Email, r.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type sessionResponse struct {
	Token     string       `json:"token,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

func claimsUser(claims *auth.SessionClaims) userResponse {
	if claims == nil {
		return userResponse{}
	}
	u := userResponse{ID: claims.UserID, Email: claims.Email}
	if claims.Name != "" {
		name := claims.Name
		u.Name = &name
	}
	return u
}

// Login handles POST /auth/session.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordLogin("invalid_input")
		abortWithError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	identifier := req.identifier()
	if identifier == "" {
		h.metrics.RecordLogin("invalid_input")
		abortWithError(c, http.StatusBadRequest, msgIdentifierRequired)
		return
	}
	if req.Password == "" {
		h.metrics.RecordLogin("invalid_input")
		abortWithError(c, http.StatusBadRequest, msgPasswordRequired)
		return
	}

	session, err := h.authenticator.Authenticate(c.Request.Context(), identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAuthenticationFailed):
			h.metrics.RecordLogin("invalid_credentials")
			abortWithError(c, http.StatusUnauthorized, msgInvalidCredentials)
		default:
			h.metrics.RecordLogin("error")
			errutil.LogErrorContext(c.Request.Context(), h.logger, "login failed", err)
			abortWithError(c, http.StatusInternalServerError, msgLoginFailed)
		}
		return
	}

	h.metrics.RecordLogin("success")
	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC(),
		User:      claimsUser(session.Claims),
	})
}

// Session handles GET /auth/session.
func (h *Handler) Session(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token, _ = c.Cookie(SessionCookieName) //nolint:errcheck // missing cookie means empty token
	}

	claims, err := h.authenticator.ValidateSession(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			abortWithError(c, http.StatusUnauthorized, msgInvalidSession)
			return
		}
		errutil.LogErrorContext(c.Request.Context(), h.logger, "session check failed", err)
		abortWithError(c, http.StatusInternalServerError, msgSessionCheckFailed)
		return
	}

	resp := sessionResponse{User: claimsUser(claims)}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC()
	}
	c.JSON(http.StatusOK, resp)
}

type forgotRequest struct {
	Email string `json:"email"`
}

// ForgotPassword handles POST /auth/password/forgot. The response is the same
// whether or not the account exists.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordPasswordReset("request", "invalid")
		abortWithError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	err := h.resetter.RequestReset(c.Request.Context(), req.Email)
	var verr *auth.ValidationError
	switch {
	case err == nil:
		h.metrics.RecordPasswordReset("request", "success")
	case errors.As(err, &verr):
		h.metrics.RecordPasswordReset("request", "invalid")
		abortWithError(c, http.StatusBadRequest, msgEmailRequired)
		return
	case errors.Is(err, auth.ErrDeliveryFailure):
		h.metrics.RecordPasswordReset("request", "delivery_failed")
		errutil.LogErrorContext(c.Request.Context(), h.logger, "reset link delivery failed", err)
	default:
		h.metrics.RecordPasswordReset("request", "error")
		errutil.LogErrorContext(c.Request.Context(), h.logger, "reset request failed", err)
		abortWithError(c, http.StatusInternalServerError, msgResetEmailFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgResetLinkSent})
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword handles POST /auth/password/reset.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordPasswordReset("redeem", "invalid")
		abortWithError(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	err := h.resetter.Redeem(c.Request.Context(), req.Token, req.Password)
	var verr *auth.ValidationError
	switch {
	case err == nil:
		h.metrics.RecordPasswordReset("redeem", "success")
		c.JSON(http.StatusOK, gin.H{"message": msgPasswordUpdated})
	case errors.As(err, &verr):
		h.metrics.RecordPasswordReset("redeem", "invalid")
		abortWithError(c, http.StatusBadRequest, msgNewPasswordRequired)
	case errors.Is(err, auth.ErrExpiredOrInvalidToken):
		h.metrics.RecordPasswordReset("redeem", "invalid_token")
		abortWithError(c, http.StatusBadRequest, msgInvalidResetToken)
	default:
		h.metrics.RecordPasswordReset("redeem", "error")
		errutil.LogErrorContext(c.Request.Context(), h.logger, "password reset failed", err)
		abortWithError(c, http.StatusInternalServerError, msgPasswordFailed)
	}
}

func (h *Handler) setSessionCookie(c *gin.Context, session *auth.Session) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, session.Token, maxAge, "/", "", h.secureCookies, true)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
