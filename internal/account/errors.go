package account

import (
	"errors"
	"strings"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrTagNotFound        = errors.New("tag not found")
	ErrDuplicate          = errors.New("duplicate account")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ErrorCategory classifies the last failure recorded on an account.
type ErrorCategory string

const (
	CategoryNone         ErrorCategory = ""
	CategoryTransient    ErrorCategory = "transient"
	CategoryUnauthorized ErrorCategory = "unauthorized"
	CategoryBanned       ErrorCategory = "banned"
	CategoryMalformed    ErrorCategory = "malformed"
	CategoryNotFound     ErrorCategory = "not_found"
)

// StatusFor maps a failure category onto the account status it implies.
func StatusFor(c ErrorCategory) Status {
	switch c {
	case CategoryNone:
		return StatusActive
	case CategoryUnauthorized:
		return StatusExpired
	default:
		return StatusError
	}
}

// banMarkers are upstream error texts that mean the account is suspended.
var banMarkers = []string{
	"unauthorizedexception",
	"accountsuspendedexception",
	"account has been suspended",
	"account is suspended",
	"temporarily_suspended",
	"banned",
}

// unauthorizedMarkers mean the refresh token is no longer accepted.
var unauthorizedMarkers = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"token has been expired or revoked",
	"revoked",
}

// CategoryFromMessage classifies free-form upstream error text. It exists for
// translating service responses and for migrating snapshots that only stored
// the message.
func CategoryFromMessage(msg string) ErrorCategory {
	if strings.TrimSpace(msg) == "" {
		return CategoryNone
	}
	lower := strings.ToLower(msg)
	for _, m := range banMarkers {
		if strings.Contains(lower, m) {
			return CategoryBanned
		}
	}
	for _, m := range unauthorizedMarkers {
		if strings.Contains(lower, m) {
			return CategoryUnauthorized
		}
	}
	return CategoryTransient
}
