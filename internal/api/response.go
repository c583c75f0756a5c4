package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/credential"
	"github.com/pysugar/account-nexus/internal/identity"
	"github.com/pysugar/account-nexus/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var credErr *credential.Error
	switch {
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, account.ErrGroupNotFound),
		errors.Is(err, account.ErrTagNotFound):
		status = http.StatusNotFound
	case errors.Is(err, account.ErrDuplicate), errors.Is(err, identity.ErrNoOriginal):
		status = http.StatusConflict
	case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, identity.ErrRequiresAdmin):
		status = http.StatusForbidden
	case errors.As(err, &credErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":    util.ErrorText(err),
			"category": string(credErr.Category),
		})
		return
	}
	writeError(w, status, util.ErrorText(err))
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if err := decode(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// accountView is the API shape of an account. Secrets are never exposed.
type accountView struct {
	ID            string                `json:"id"`
	Email         string                `json:"email"`
	Nickname      string                `json:"nickname,omitempty"`
	Provider      string                `json:"provider,omitempty"`
	UserID        string                `json:"user_id,omitempty"`
	AuthMethod    string                `json:"auth_method,omitempty"`
	Region        string                `json:"region,omitempty"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
	Subscription  account.Subscription  `json:"subscription"`
	Usage         account.Usage         `json:"usage"`
	Remaining     float64               `json:"remaining"`
	Status        account.Status        `json:"status"`
	LastError     string                `json:"last_error,omitempty"`
	ErrorCategory account.ErrorCategory `json:"error_category,omitempty"`
	LastCheckedAt *time.Time            `json:"last_checked_at,omitempty"`
	GroupID       string                `json:"group_id,omitempty"`
	TagIDs        []string              `json:"tag_ids"`
	IsActive      bool                  `json:"is_active"`
	CreatedAt     time.Time             `json:"created_at"`
	LastUsedAt    *time.Time            `json:"last_used_at,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func viewOf(a account.Account) accountView {
	rec := account.RecordOf(a.Credentials)
	tags := a.TagIDs
	if tags == nil {
		tags = []string{}
	}
	return accountView{
		ID:            a.ID,
		Email:         a.Email,
		Nickname:      a.Nickname,
		Provider:      string(a.Provider),
		UserID:        a.UserID,
		AuthMethod:    string(rec.AuthMethod),
		Region:        rec.Region,
		ExpiresAt:     timePtr(rec.ExpiresAt),
		Subscription:  a.Subscription,
		Usage:         a.Usage,
		Remaining:     a.Remaining(),
		Status:        a.Status,
		LastError:     a.LastError,
		ErrorCategory: a.ErrorCategory,
		LastCheckedAt: timePtr(a.LastCheckedAt),
		GroupID:       a.GroupID,
		TagIDs:        tags,
		IsActive:      a.IsActive,
		CreatedAt:     a.CreatedAt,
		LastUsedAt:    timePtr(a.LastUsedAt),
	}
}

func viewsOf(accounts []account.Account) []accountView {
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, viewOf(a))
	}
	return out
}
