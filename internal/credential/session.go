package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pysugar/account-nexus/internal/account"
)

// DefaultSessionPath is where the external application reads its token.
func DefaultSessionPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".aws", "sso", "cache", "kiro-auth-token.json")
}

// SessionToken is the on-disk layout of the session token file.
type SessionToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	AuthMethod   string    `json:"authMethod"`
	Provider     string    `json:"provider,omitempty"`
	Region       string    `json:"region,omitempty"`
	ClientID     string    `json:"clientId,omitempty"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	ProfileArn   string    `json:"profileArn,omitempty"`
}

// Record converts the token into an importable credential record.
func (t SessionToken) Record() account.CredentialRecord {
	method := account.AuthSocial
	if t.AuthMethod == string(account.AuthIdC) || t.ClientID != "" {
		method = account.AuthIdC
	}
	return account.CredentialRecord{
		AuthMethod:   method,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		Region:       t.Region,
		ExpiresAt:    t.ExpiresAt,
		ProfileARN:   t.ProfileArn,
	}
}

// Matches reports whether the session holds creds, by refresh or access token.
func (t SessionToken) Matches(creds account.Credentials) bool {
	if creds == nil {
		return false
	}
	tok := creds.Tokens()
	if t.RefreshToken != "" && t.RefreshToken == tok.RefreshToken {
		return true
	}
	return t.AccessToken != "" && t.AccessToken == tok.AccessToken
}

// SessionFile writes the active account's credentials where the external
// application picks them up.
type SessionFile struct {
	Path string
}

// NewSessionFile returns a writer for path, or the default location when empty.
func NewSessionFile(path string) *SessionFile {
	if path == "" {
		path = DefaultSessionPath()
	}
	return &SessionFile{Path: path}
}

// Apply replaces the session token with creds. The file is written atomically
// with owner-only permissions.
func (f *SessionFile) Apply(_ context.Context, creds account.Credentials) error {
	if creds == nil {
		return malformed("no credentials to apply")
	}
	rec := account.RecordOf(creds)
	tok := SessionToken{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt.UTC(),
		AuthMethod:   string(rec.AuthMethod),
		Region:       rec.Region,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		ProfileArn:   rec.ProfileARN,
	}
	if rec.AuthMethod == account.AuthIdC {
		tok.Provider = string(account.ProviderBuilderID)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	log.Debug().Str("path", f.Path).Msg("session token written")
	return nil
}

// Read loads the current session token.
func (f *SessionFile) Read() (*SessionToken, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var tok SessionToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &tok, nil
}
