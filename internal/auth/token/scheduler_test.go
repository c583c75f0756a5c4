package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/credential"
	"github.com/pysugar/account-nexus/internal/metrics"
)

func TestTick_RefreshesExpiredAccountOnce(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	a := addAccount(t, reg, "a", testNow.Add(-time.Second))
	addAccount(t, reg, "later", testNow.Add(time.Hour))

	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Concurrency: 2}, metrics.New())
	rep := s.Tick(context.Background())

	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, account.BatchResult{Succeeded: 1}, rep.Refreshed)
	assert.Equal(t, 1, svc.refreshCount("rt-a"))
	assert.Equal(t, 0, svc.refreshCount("rt-later"))

	got, _ := reg.Get(a.ID)
	assert.Equal(t, account.StatusActive, got.Status)
	assert.True(t, got.ExpiresAt().After(testNow))
}

func TestTick_SkipsBannedAndUnrefreshable(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	banned := addAccount(t, reg, "banned", testNow)
	_, _ = reg.Update(banned.ID, func(a *account.Account) { a.ErrorCategory = account.CategoryBanned })
	_, err := reg.Add(account.ImportInput{
		Email: "norefresh@example.com", AuthMethod: account.AuthSocial,
		AccessToken: "at-norefresh", ExpiresAt: testNow,
	})
	require.NoError(t, err)
	addAccount(t, reg, "unknown-expiry", time.Time{})

	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Concurrency: 3, ProbeAll: true}, nil)
	rep := s.Tick(context.Background())

	assert.Equal(t, 0, rep.Due)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.NoRefreshToken)
	assert.Equal(t, account.BatchResult{Succeeded: 2}, rep.Probed)
	assert.Equal(t, 0, svc.refreshCount("rt-banned"))
	assert.Equal(t, 0, svc.probeCount("at-banned"), "banned accounts are never probed")
	assert.Equal(t, 1, svc.probeCount("at-norefresh"))
	assert.Equal(t, 1, svc.probeCount("at-unknown-expiry"))
}

func TestTick_FailedRefreshRetriedNextTickOnly(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	addAccount(t, reg, "a", testNow)
	svc.refreshErr["rt-a"] = assertErr("timeout")

	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Concurrency: 1}, nil)
	rep := s.Tick(context.Background())
	assert.Equal(t, account.BatchResult{Failed: 1}, rep.Refreshed)
	assert.Equal(t, 1, svc.refreshCount("rt-a"))

	s.Tick(context.Background())
	assert.Equal(t, 2, svc.refreshCount("rt-a"))
}

func TestTick_ProbesFollowProbeAll(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	addAccount(t, reg, "a", testNow.Add(time.Hour))
	addAccount(t, reg, "b", time.Time{})
	banned := addAccount(t, reg, "banned", time.Time{})
	_, _ = reg.Update(banned.ID, func(a *account.Account) { a.ErrorCategory = account.CategoryBanned })

	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Concurrency: 2}, nil)
	rep := s.Tick(context.Background())
	assert.Equal(t, account.BatchResult{}, rep.Probed)
	assert.Zero(t, svc.probeCount("at-a")+svc.probeCount("at-b"))

	require.NoError(t, s.UpdateSettings(Settings{Concurrency: 2, ProbeAll: true}))
	rep = s.Tick(context.Background())
	assert.Equal(t, account.BatchResult{Succeeded: 2}, rep.Probed)
	assert.Equal(t, 1, svc.probeCount("at-a"))
	assert.Equal(t, 1, svc.probeCount("at-b"))
	assert.Zero(t, svc.probeCount("at-banned"))
}

func TestTick_FailedRefreshNotProbedSameTick(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	addAccount(t, reg, "a", testNow)
	addAccount(t, reg, "b", testNow)
	svc.refreshErr["rt-a"] = assertErr("timeout")

	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Concurrency: 2, ProbeAll: true}, nil)
	rep := s.Tick(context.Background())
	assert.Equal(t, account.BatchResult{Succeeded: 1, Failed: 1}, rep.Refreshed)
	assert.Equal(t, account.BatchResult{Succeeded: 1}, rep.Probed)
	assert.Zero(t, svc.probeCount("at-a"))
	assert.Equal(t, 1, svc.probeCount("new-rt-b"))
}

func TestTick_ExpiredAccountRefreshedOncePerTickOverHTTP(t *testing.T) {
	var refreshCalls, usageCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/us-east-1/refreshToken":
			refreshCalls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		case "/us-east-1/usage":
			usageCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"subscriptionInfo": map[string]string{"type": "PRO"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := credential.NewClient(credential.Endpoints{
		OIDCTokenURL:     srv.URL + "/{region}/token",
		SocialRefreshURL: srv.URL + "/{region}/refreshToken",
		UsageURL:         srv.URL + "/{region}/usage",
	}, 5*time.Second)
	client.SetClock(func() time.Time { return testNow })

	reg := newRegistry(t)
	addAccount(t, reg, "expired", testNow.Add(-time.Second))
	addAccount(t, reg, "fresh", testNow.Add(time.Hour))

	s := NewScheduler(reg, NewRefresher(reg, client), Settings{Concurrency: 2, ProbeAll: true}, nil)
	rep := s.Tick(context.Background())

	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, account.BatchResult{Failed: 1}, rep.Refreshed)
	assert.Equal(t, int32(1), refreshCalls.Load(), "one refresh call per tick")
	assert.Equal(t, account.BatchResult{Succeeded: 1}, rep.Probed)
	assert.Equal(t, int32(1), usageCalls.Load())

	s.Tick(context.Background())
	assert.Equal(t, int32(2), refreshCalls.Load(), "retried on the next tick")
}

func TestScheduler_Lifecycle(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	addAccount(t, reg, "a", testNow)

	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Enabled: false, Interval: 5 * time.Millisecond, Concurrency: 1}, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning(), "disabled scheduler does not run")

	require.NoError(t, s.UpdateSettings(Settings{Enabled: true, Interval: 5 * time.Millisecond, Concurrency: 1}))
	assert.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return svc.refreshCount("rt-a") >= 1 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	reg := newRegistry(t)
	svc := newFakeService()
	addAccount(t, reg, "a", testNow)
	s := NewScheduler(reg, NewRefresher(reg, svc), Settings{Concurrency: 1}, nil)

	rep := s.RunNow(context.Background())
	assert.Equal(t, 1, rep.Refreshed.Succeeded)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
