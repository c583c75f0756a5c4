package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/account-nexus/internal/account"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestScan_SessionWithJWT(t *testing.T) {
	dir := t.TempDir()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "dev@example.com",
		"sub":   "user-1",
		"exp":   exp.Unix(),
	}).SignedString([]byte("test"))
	require.NoError(t, err)

	session := filepath.Join(dir, "session.json")
	writeJSON(t, session, map[string]any{
		"accessToken":  access,
		"refreshToken": "rt-1",
		"authMethod":   "social",
		"provider":     "Github",
		"profileArn":   "arn:aws:profile",
	})

	res := NewScanner(DefaultSources(session, filepath.Join(dir, "exports"))...).Scan()
	require.Len(t, res.Credentials, 1)
	assert.Empty(t, res.Errors)

	c := res.Credentials[0]
	assert.Equal(t, "session", c.Source)
	assert.Equal(t, session, c.ConfigPath)
	assert.Equal(t, "dev@example.com", c.Input.Email)
	assert.Equal(t, "user-1", c.Input.UserID)
	assert.Equal(t, account.ProviderGithub, c.Input.Provider)
	assert.Equal(t, account.AuthSocial, c.Input.AuthMethod)
	assert.Equal(t, "arn:aws:profile", c.Input.ProfileARN)
	assert.True(t, exp.Equal(c.Input.ExpiresAt))
}

func TestScan_OpaqueSessionAndExports(t *testing.T) {
	dir := t.TempDir()
	session := filepath.Join(dir, "session.json")
	writeJSON(t, session, map[string]any{
		"accessToken":  "opaque-token",
		"refreshToken": "rt",
		"authMethod":   "IdC",
		"clientId":     "cid",
		"clientSecret": "cs",
		"provider":     "Nope",
	})
	exports := filepath.Join(dir, "exports")
	writeJSON(t, filepath.Join(exports, "a.json"), []account.ImportInput{
		{Email: "a@example.com", AuthMethod: account.AuthSocial, AccessToken: "at-a"},
		{Email: "empty@example.com", AuthMethod: account.AuthSocial},
	})
	writeJSON(t, filepath.Join(exports, "b.json"), account.ImportInput{Email: "b@example.com", AuthMethod: account.AuthSocial, AccessToken: "at-b"})
	require.NoError(t, os.WriteFile(filepath.Join(exports, "broken.json"), []byte("{"), 0o600))

	res := NewScanner(DefaultSources(session, exports)...).Scan()
	require.Len(t, res.Credentials, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "export", res.Errors[0].Source)

	s := res.Credentials[0]
	assert.Equal(t, account.AuthIdC, s.Input.AuthMethod)
	assert.Empty(t, s.Input.Email, "opaque tokens carry no email")
	assert.Empty(t, s.Input.Provider)

	emails := []string{res.Credentials[1].Input.Email, res.Credentials[2].Input.Email}
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, emails)
}

func TestScan_MissingFilesAreSilent(t *testing.T) {
	dir := t.TempDir()
	res := NewScanner(DefaultSources(filepath.Join(dir, "none.json"), filepath.Join(dir, "none"))...).Scan()
	assert.Empty(t, res.Credentials)
	assert.Empty(t, res.Errors)
}

func TestMaskCredential(t *testing.T) {
	c := Credential{Input: account.ImportInput{AccessToken: "abcdefghijklmnopqrst", RefreshToken: "short", ClientSecret: "1234567890abcdef"}}
	m := MaskCredential(c)
	assert.Equal(t, "abcd****qrst", m.Input.AccessToken)
	assert.Equal(t, "****", m.Input.RefreshToken)
	assert.Equal(t, "1234****cdef", m.Input.ClientSecret)
	assert.Equal(t, "abcdefghijklmnopqrst", c.Input.AccessToken, "original untouched")
}
