package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/credential"
)

// Credential is an importable account found on disk.
type Credential struct {
	Source     string              `json:"source"`      // "session" or "export"
	ConfigPath string              `json:"config_path"` // file it was read from
	Input      account.ImportInput `json:"input"`
}

// Source defines a location to scan.
type Source struct {
	Name        string
	Description string
	ConfigPaths []string // glob patterns, ~ expanded
	Parser      func(path string) ([]Credential, error)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultSources returns the session token cache at sessionPath and the
// export files under exportDir.
func DefaultSources(sessionPath, exportDir string) []Source {
	if sessionPath == "" {
		sessionPath = credential.DefaultSessionPath()
	}
	if exportDir == "" {
		exportDir = "~/.config/account-nexus/exports"
	}
	return []Source{
		{
			Name:        "session",
			Description: "Signed-in session of the external client",
			ConfigPaths: []string{sessionPath},
			Parser:      parseSessionToken,
		},
		{
			Name:        "export",
			Description: "Account export files",
			ConfigPaths: []string{filepath.Join(exportDir, "*.json")},
			Parser:      parseExportFile,
		},
	}
}

func parseSessionToken(path string) ([]Credential, error) {
	tok, err := credential.NewSessionFile(path).Read()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, nil
	}

	rec := tok.Record()
	in := account.ImportInput{
		Provider:     account.IdentityProvider(tok.Provider),
		AuthMethod:   rec.AuthMethod,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		Region:       rec.Region,
		ExpiresAt:    rec.ExpiresAt,
		ProfileARN:   rec.ProfileARN,
	}
	if !in.Provider.Valid() {
		in.Provider = ""
	}
	if claims, ok := tokenClaims(tok.AccessToken); ok {
		in.Email = claims.email
		in.UserID = claims.subject
		if in.ExpiresAt.IsZero() {
			in.ExpiresAt = claims.expiresAt
		}
	}
	return []Credential{{Source: "session", ConfigPath: path, Input: in}}, nil
}

// parseExportFile reads a JSON array of accounts as written by the export
// endpoint. A single object is accepted too.
func parseExportFile(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inputs []account.ImportInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		var one account.ImportInput
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return nil, fmt.Errorf("parse export: %w", err)
		}
		inputs = []account.ImportInput{one}
	}
	out := make([]Credential, 0, len(inputs))
	for _, in := range inputs {
		if in.AccessToken == "" && in.RefreshToken == "" {
			continue
		}
		out = append(out, Credential{Source: "export", ConfigPath: path, Input: in})
	}
	return out, nil
}

type claims struct {
	email     string
	subject   string
	expiresAt time.Time
}

// tokenClaims reads identifying claims from a JWT access token without
// verifying it. Opaque tokens yield false.
func tokenClaims(token string) (claims, bool) {
	if strings.Count(token, ".") != 2 {
		return claims{}, false
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return claims{}, false
	}
	var c claims
	for _, key := range []string{"email", "preferred_username", "username"} {
		if v, ok := mc[key].(string); ok && strings.Contains(v, "@") {
			c.email = v
			break
		}
	}
	c.subject, _ = mc.GetSubject()
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}
	return c, true
}
