package token

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/batch"
	"github.com/pysugar/account-nexus/internal/logging"
	"github.com/pysugar/account-nexus/internal/loop"
	"github.com/pysugar/account-nexus/internal/metrics"
)

// Settings control the refresh loop.
type Settings struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
	BatchDelay  time.Duration
	// ProbeAll also probes every eligible account each tick so quota
	// figures stay fresh. It follows the auto-switch policy.
	ProbeAll bool
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Due       int
	Refreshed account.BatchResult
	Probed    account.BatchResult
	// Skipped counts banned accounts; NoRefreshToken counts accounts that
	// were probed at most, never refreshed.
	Skipped        int
	NoRefreshToken int
}

// Scheduler periodically refreshes tokens nearing expiry.
type Scheduler struct {
	registry  *account.Registry
	refresher *Refresher
	metrics   *metrics.Recorder
	loop      *loop.Loop

	mu       sync.Mutex
	settings Settings
	ctx      context.Context
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(registry *account.Registry, refresher *Refresher, settings Settings, m *metrics.Recorder) *Scheduler {
	return &Scheduler{
		registry:  registry,
		refresher: refresher,
		metrics:   m,
		loop:      loop.New("token refresh"),
		settings:  settings,
	}
}

// Start begins the loop when enabled, replacing any running one. ctx bounds
// the loop and every tick it runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	settings := s.settings
	s.mu.Unlock()

	if !settings.Enabled {
		s.loop.Stop()
		return nil
	}
	return s.loop.Start(ctx, settings.Interval, func(ctx context.Context) { s.Tick(ctx) })
}

// Stop halts the loop. In-flight refreshes complete on their own.
func (s *Scheduler) Stop() {
	s.loop.Stop()
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	return s.loop.IsRunning()
}

// Settings returns the current settings.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings stores settings and restarts the loop if it was started.
func (s *Scheduler) UpdateSettings(settings Settings) error {
	s.mu.Lock()
	s.settings = settings
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		return nil
	}
	return s.Start(ctx)
}

// RunNow executes one tick immediately, serialized with scheduled ticks.
func (s *Scheduler) RunNow(ctx context.Context) TickReport {
	var rep TickReport
	s.loop.RunOnce(ctx, func(ctx context.Context) { rep = s.Tick(ctx) })
	return rep
}

// Tick runs one pass: banned accounts and accounts without a refresh token
// are skipped, accounts expiring within account.RefreshThreshold are
// refreshed, then eligible accounts are probed when ProbeAll is set. An
// account whose refresh failed this tick is not probed, since probing an
// expired token would refresh it again.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	ctx = logging.NewOperation(ctx)
	started := time.Now()
	settings := s.Settings()
	now := s.registry.Now()

	var rep TickReport
	var due, probe []string
	for _, acc := range s.registry.List() {
		if acc.Banned() {
			rep.Skipped++
			continue
		}
		probe = append(probe, acc.ID)
		if !acc.CanRefresh() {
			rep.NoRefreshToken++
			continue
		}
		if acc.NeedsRefresh(now) {
			due = append(due, acc.ID)
		}
	}
	rep.Due = len(due)

	opts := []batch.Option{batch.WithBatchDelay(settings.BatchDelay)}
	if len(due) > 0 {
		logging.Ctx(ctx).Info().Int("accounts", len(due)).Msg("🔄 Refreshing expiring tokens")
		results := s.refresher.refreshMany(ctx, due, settings.Concurrency, triggerScheduled, opts...)
		rep.Refreshed.Succeeded, rep.Refreshed.Failed = batch.Count(results)
		failed := make(map[string]bool)
		for i, res := range results {
			if !res.OK() {
				failed[due[i]] = true
			}
		}
		probe = slices.DeleteFunc(probe, func(id string) bool { return failed[id] })
	}
	if settings.ProbeAll && len(probe) > 0 {
		rep.Probed = s.refresher.ProbeMany(ctx, probe, settings.Concurrency, opts...)
	}

	s.metrics.ObserveTick("refresh", time.Since(started))
	s.metrics.SetAccounts(countByStatus(s.registry.List()))
	logging.Ctx(ctx).Debug().
		Int("due", rep.Due).
		Int("refreshed", rep.Refreshed.Succeeded).
		Int("refresh_failed", rep.Refreshed.Failed).
		Int("probed", rep.Probed.Succeeded).
		Int("skipped", rep.Skipped).
		Int("no_refresh_token", rep.NoRefreshToken).
		Msg("token refresh tick done")
	return rep
}

func countByStatus(accounts []account.Account) map[string]int {
	out := make(map[string]int)
	for _, a := range accounts {
		status := string(a.Status)
		if a.Banned() {
			status = "banned"
		}
		out[status]++
	}
	return out
}
