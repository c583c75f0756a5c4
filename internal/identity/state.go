// Package identity owns the device identity value: its one-time backup,
// explicit changes and restores, per-account bindings and the history log.
package identity

import (
	"encoding/hex"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRequiresAdmin means the effector lacks the privilege to write the
	// identity. Nothing was changed; the caller must elevate and retry.
	ErrRequiresAdmin = errors.New("identity change requires administrator privileges")
	ErrNoOriginal    = errors.New("no original identity has been backed up")
	ErrInvalidID     = errors.New("identity must be a UUID or 32 hex characters")
)

// Action tags a history entry.
type Action string

const (
	ActionInitial    Action = "initial"
	ActionManual     Action = "manual"
	ActionAutoSwitch Action = "auto_switch"
	ActionRestore    Action = "restore"
	ActionBind       Action = "bind"
)

// HistoryEntry is one append-only log record.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	AccountID string    `json:"account_id,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// State is the persisted identity state.
type State struct {
	CurrentID          string            `json:"current_id"`
	OriginalID         string            `json:"original_id,omitempty"`
	OriginalBackupTime time.Time         `json:"original_backup_time,omitempty"`
	Bindings           map[string]string `json:"bindings"`
	History            []HistoryEntry    `json:"history"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Bindings = maps.Clone(s.Bindings)
	if s.Bindings == nil {
		s.Bindings = map[string]string{}
	}
	s.History = slices.Clone(s.History)
	return s
}

// ValidID reports whether id is a UUID in canonical form or 32 hex digits.
func ValidID(id string) bool {
	switch len(id) {
	case 36:
		_, err := uuid.Parse(id)
		return err == nil
	case 32:
		_, err := hex.DecodeString(id)
		return err == nil
	default:
		return false
	}
}

// Format is the textual shape an effector stores identities in.
type Format int

const (
	FormatHex32 Format = iota
	FormatUUIDUpper
)

// Normalize renders a valid id in format f.
func (f Format) Normalize(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrInvalidID
	}
	raw := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	switch f {
	case FormatHex32:
		return raw, nil
	default:
		u, err := uuid.Parse(raw)
		if err != nil {
			return "", ErrInvalidID
		}
		return strings.ToUpper(u.String()), nil
	}
}

// Generate returns a fresh random id in format f.
func (f Format) Generate() string {
	u := uuid.New()
	if f == FormatHex32 {
		return strings.ReplaceAll(u.String(), "-", "")
	}
	return strings.ToUpper(u.String())
}
