// Package credential is the boundary to the remote account service: token
// refresh, status probing and pushing credentials into the local session of
// the external application.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/account-nexus/internal/account"
)

// Service refreshes tokens and probes account status.
type Service interface {
	RefreshToken(ctx context.Context, creds account.Credentials) (*TokenResult, error)
	ProbeStatus(ctx context.Context, creds account.Credentials) (*ProbeResult, error)
}

// TokenResult is a successful refresh. RefreshToken is empty unless rotated.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	ProfileARN   string
}

// UserInfo is what the service reports about the account owner.
type UserInfo struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// ProbeResult is the outcome of a status probe. NewCredentials is set when
// the probe had to refresh an expired token before asking.
type ProbeResult struct {
	Status         account.Status
	Usage          account.Usage
	Subscription   account.Subscription
	UserInfo       UserInfo
	NewCredentials account.Credentials
}

// Error is a classified failure from the service boundary.
type Error struct {
	Category   account.ErrorCategory
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Category, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Category, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf returns the category carried by err. Unclassified errors are
// treated as transient.
func CategoryOf(err error) account.ErrorCategory {
	if err == nil {
		return account.CategoryNone
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, account.ErrInvalidCredentials) {
		return account.CategoryMalformed
	}
	if errors.Is(err, account.ErrNotFound) {
		return account.CategoryNotFound
	}
	return account.CategoryTransient
}

func malformed(format string, args ...any) *Error {
	return &Error{Category: account.CategoryMalformed, Message: fmt.Sprintf(format, args...)}
}

// classify maps an HTTP failure onto a category. Marker matching happens here
// and nowhere else in the request path.
func classify(status int, body string, err error) *Error {
	e := &Error{StatusCode: status, Message: body, Err: err}
	switch cat := account.CategoryFromMessage(body); {
	case cat == account.CategoryBanned:
		e.Category = account.CategoryBanned
	case cat == account.CategoryUnauthorized:
		e.Category = account.CategoryUnauthorized
	case status == 401 || status == 403:
		e.Category = account.CategoryUnauthorized
	default:
		e.Category = account.CategoryTransient
	}
	return e
}

func checkForRefresh(creds account.Credentials) error {
	if creds == nil {
		return malformed("no credentials")
	}
	t := creds.Tokens()
	if t.RefreshToken == "" {
		return malformed("refresh token is missing")
	}
	if c, ok := creds.(account.IdCCredentials); ok && (c.ClientID == "" || c.ClientSecret == "") {
		return malformed("IdC credentials require client id and secret")
	}
	return nil
}

func checkForProbe(creds account.Credentials) error {
	if creds == nil || creds.Tokens().AccessToken == "" {
		return malformed("access token is missing")
	}
	return nil
}
