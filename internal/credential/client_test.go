package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/account-nexus/internal/account"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Endpoints{
		OIDCTokenURL:     srv.URL + "/{region}/token",
		SocialRefreshURL: srv.URL + "/{region}/refreshToken",
		UsageURL:         srv.URL + "/{region}/usage",
	}, 5*time.Second)
	c.SetClock(func() time.Time { return fixedNow })
	return c, srv
}

func social(access, refresh string, exp time.Time) account.SocialCredentials {
	return account.SocialCredentials{TokenSet: account.TokenSet{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp, Region: "us-east-1"}}
}

func TestRefreshToken_Social(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/us-east-1/refreshToken", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rt-old", body["refreshToken"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "at-new",
			"refreshToken": "rt-new",
			"expiresIn":    3600,
		})
	})

	res, err := c.RefreshToken(context.Background(), social("at-old", "rt-old", time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, "at-new", res.AccessToken)
	assert.Equal(t, "rt-new", res.RefreshToken)
	assert.Equal(t, time.Hour, res.ExpiresIn)
}

func TestRefreshToken_IdC(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eu-west-1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-new",
			"refresh_token": "rt",
			"token_type":    "Bearer",
			"expires_in":    1800,
		})
	})

	creds := account.IdCCredentials{
		TokenSet: account.TokenSet{AccessToken: "at", RefreshToken: "rt", Region: "eu-west-1"},
		ClientID: "cid", ClientSecret: "secret",
	}
	res, err := c.RefreshToken(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "at-new", res.AccessToken)
	assert.Empty(t, res.RefreshToken, "unchanged refresh token is not reported as rotated")
	assert.Equal(t, 30*time.Minute, res.ExpiresIn)
}

func TestRefreshToken_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   account.ErrorCategory
	}{
		{"banned", http.StatusForbidden, `{"__type":"UnauthorizedException","message":"Account suspended"}`, account.CategoryBanned},
		{"revoked", http.StatusBadRequest, `{"error":"invalid_grant"}`, account.CategoryUnauthorized},
		{"unauthorized status", http.StatusUnauthorized, `{"message":"nope"}`, account.CategoryUnauthorized},
		{"server error", http.StatusBadGateway, `upstream down`, account.CategoryTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.RefreshToken(context.Background(), social("at", "rt", time.Time{}))
			require.Error(t, err)
			assert.Equal(t, tt.want, CategoryOf(err))
		})
	}
}

func TestRefreshToken_MalformedNeverHitsNetwork(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })

	_, err := c.RefreshToken(context.Background(), social("at", "", time.Time{}))
	assert.Equal(t, account.CategoryMalformed, CategoryOf(err))

	_, err = c.RefreshToken(context.Background(), account.IdCCredentials{TokenSet: account.TokenSet{AccessToken: "at", RefreshToken: "rt"}})
	assert.Equal(t, account.CategoryMalformed, CategoryOf(err))

	_, err = c.ProbeStatus(context.Background(), nil)
	assert.Equal(t, account.CategoryMalformed, CategoryOf(err))

	assert.Zero(t, hits.Load())
}

func usageHandler(t *testing.T, wantToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+wantToken, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"nextDateReset": float64(fixedNow.Add(72 * time.Hour).Unix()),
			"subscriptionInfo": map[string]interface{}{
				"subscriptionTitle": "KIRO PRO+",
				"type":              "Q_DEVELOPER_STANDALONE_PRO_PLUS",
			},
			"userInfo": map[string]interface{}{"email": "a@example.com", "userId": "u-1"},
			"usageBreakdownList": []map[string]interface{}{{
				"resourceType":              "CREDIT",
				"currentUsageWithPrecision": 40.0,
				"usageLimitWithPrecision":   100.0,
				"freeTrialInfo": map[string]interface{}{
					"currentUsageWithPrecision": 10.0,
					"usageLimitWithPrecision":   50.0,
					"freeTrialStatus":           "ACTIVE",
				},
				"bonuses": []map[string]interface{}{{
					"bonusCode": "WELCOME", "currentUsage": 0.0, "usageLimit": 50.0,
				}},
			}},
		})
	}
}

func TestProbeStatus(t *testing.T) {
	c, _ := newTestClient(t, usageHandler(t, "at"))

	res, err := c.ProbeStatus(context.Background(), social("at", "rt", fixedNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, res.Status)
	assert.Equal(t, account.PlanProPlus, res.Subscription.Plan)
	assert.Equal(t, "a@example.com", res.UserInfo.Email)
	assert.InDelta(t, 50.0, res.Usage.Current, 1e-9)
	assert.InDelta(t, 200.0, res.Usage.Limit, 1e-9)
	assert.InDelta(t, 25.0, res.Usage.PercentUsed, 1e-9)
	require.NotNil(t, res.Usage.Trial)
	require.Len(t, res.Usage.Bonuses, 1)
	assert.Equal(t, "WELCOME", res.Usage.Bonuses[0].Name)
	require.NotNil(t, res.Usage.NextResetAt)
	assert.Nil(t, res.NewCredentials)
}

func TestProbeStatus_RefreshesExpiredTokenFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/us-east-1/refreshToken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "at-fresh", "expiresIn": 3600})
	})
	mux.HandleFunc("/us-east-1/usage", usageHandler(t, "at-fresh"))
	c, _ := newTestClient(t, mux.ServeHTTP)

	res, err := c.ProbeStatus(context.Background(), social("at-stale", "rt", fixedNow.Add(-time.Second)))
	require.NoError(t, err)
	require.NotNil(t, res.NewCredentials)
	tok := res.NewCredentials.Tokens()
	assert.Equal(t, "at-fresh", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, fixedNow.Add(time.Hour), tok.ExpiresAt)
}

type countingService struct {
	probes atomic.Int32
}

func (s *countingService) RefreshToken(context.Context, account.Credentials) (*TokenResult, error) {
	return &TokenResult{AccessToken: "x", ExpiresIn: time.Hour}, nil
}

func (s *countingService) ProbeStatus(context.Context, account.Credentials) (*ProbeResult, error) {
	s.probes.Add(1)
	return &ProbeResult{Status: account.StatusActive}, nil
}

func TestCachingService(t *testing.T) {
	inner := &countingService{}
	c := NewCachingService(inner, time.Minute)
	creds := social("at", "rt", time.Time{})

	for i := 0; i < 3; i++ {
		_, err := c.ProbeStatus(context.Background(), creds)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.probes.Load())

	c.Invalidate(creds)
	_, _ = c.ProbeStatus(context.Background(), creds)
	assert.Equal(t, int32(2), inner.probes.Load())

	_, _ = c.Uncached().ProbeStatus(context.Background(), creds)
	assert.Equal(t, int32(3), inner.probes.Load())

	_, err := c.RefreshToken(context.Background(), creds)
	assert.NoError(t, err)
}

func TestSessionFile_ApplyAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sso", "cache", "token.json")
	f := NewSessionFile(path)
	creds := account.IdCCredentials{
		TokenSet: account.TokenSet{AccessToken: "at", RefreshToken: "rt", ExpiresAt: fixedNow, Region: "us-east-1"},
		ClientID: "cid", ClientSecret: "secret",
	}
	require.NoError(t, f.Apply(context.Background(), creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	tok, err := f.Read()
	require.NoError(t, err)
	assert.True(t, tok.Matches(creds))
	assert.False(t, tok.Matches(social("other", "other", time.Time{})))

	built, err := tok.Record().Build()
	require.NoError(t, err)
	assert.Equal(t, account.AuthIdC, built.Method())
	assert.True(t, built.Tokens().ExpiresAt.Equal(fixedNow))
}

func TestApply_KeepsRefreshTokenUnlessRotated(t *testing.T) {
	creds := social("at-old", "rt-old", time.Time{})

	kept := Apply(creds, &TokenResult{AccessToken: "at-new", ExpiresIn: time.Hour}, fixedNow)
	assert.Equal(t, "at-new", kept.Tokens().AccessToken)
	assert.Equal(t, "rt-old", kept.Tokens().RefreshToken)
	assert.Equal(t, fixedNow.Add(time.Hour), kept.Tokens().ExpiresAt)

	rotated := Apply(creds, &TokenResult{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresIn: time.Hour}, fixedNow)
	assert.Equal(t, "rt-new", rotated.Tokens().RefreshToken)
}
