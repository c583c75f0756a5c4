// Package autoswitch fails over to another account when the active one runs
// low on quota.
package autoswitch

import (
	"context"
	"sync"
	"time"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/credential"
	"github.com/pysugar/account-nexus/internal/logging"
	"github.com/pysugar/account-nexus/internal/loop"
	"github.com/pysugar/account-nexus/internal/metrics"
)

// Settings control the auto-switch loop.
type Settings struct {
	Enabled   bool
	Threshold float64
	Interval  time.Duration
}

// Outcome is what one tick did.
type Outcome string

const (
	OutcomeNoActive    Outcome = "no_active"
	OutcomeProbeFailed Outcome = "probe_failed"
	OutcomeHealthy     Outcome = "healthy"
	OutcomeSwitched    Outcome = "switched"
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomeSwitchError Outcome = "switch_failed"
)

// Prober forces a fresh status probe of one account.
type Prober interface {
	Check(ctx context.Context, id string) (account.Account, error)
}

// Activator performs the active-account switch.
type Activator interface {
	SetActive(ctx context.Context, id string) (*account.SwitchResult, error)
}

// Controller runs the auto-switch loop.
type Controller struct {
	registry  *account.Registry
	prober    Prober
	activator Activator
	metrics   *metrics.Recorder
	loop      *loop.Loop

	mu       sync.Mutex
	settings Settings
	ctx      context.Context
}

// New creates a stopped controller.
func New(registry *account.Registry, prober Prober, activator Activator, settings Settings, m *metrics.Recorder) *Controller {
	return &Controller{
		registry:  registry,
		prober:    prober,
		activator: activator,
		metrics:   m,
		loop:      loop.New("auto-switch"),
		settings:  settings,
	}
}

// Start begins the loop when enabled, replacing any running one.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	settings := c.settings
	c.mu.Unlock()

	if !settings.Enabled {
		c.loop.Stop()
		return nil
	}
	return c.loop.Start(ctx, settings.Interval, func(ctx context.Context) { c.Tick(ctx) })
}

// Stop halts the loop.
func (c *Controller) Stop() {
	c.loop.Stop()
}

// IsRunning reports whether the loop is active.
func (c *Controller) IsRunning() bool {
	return c.loop.IsRunning()
}

// Settings returns the current settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings stores settings and restarts the loop if it was started.
func (c *Controller) UpdateSettings(settings Settings) error {
	c.mu.Lock()
	c.settings = settings
	ctx := c.ctx
	c.mu.Unlock()

	if ctx == nil {
		return nil
	}
	return c.Start(ctx)
}

// Tick checks the active account and switches away from it when its
// remaining quota is at or below the threshold. The first account in
// registry order that is not active, not banned and above the threshold
// wins. Running out of candidates is logged, not an error.
func (c *Controller) Tick(ctx context.Context) Outcome {
	ctx = logging.NewOperation(ctx)
	started := time.Now()
	out := c.tick(ctx)
	c.metrics.AutoSwitch(string(out))
	c.metrics.ObserveTick("autoswitch", time.Since(started))
	return out
}

func (c *Controller) tick(ctx context.Context) Outcome {
	threshold := c.Settings().Threshold
	activeID := c.registry.ActiveID()
	if activeID == "" {
		return OutcomeNoActive
	}

	active, err := c.prober.Check(ctx, activeID)
	remaining := active.Remaining()
	if err != nil {
		if credential.CategoryOf(err) != account.CategoryBanned {
			logging.Ctx(ctx).Warn().Err(err).Msg("⚠️ Auto-switch probe failed, skipping tick")
			return OutcomeProbeFailed
		}
		remaining = 0
	}
	if remaining > threshold {
		return OutcomeHealthy
	}

	var target *account.Account
	for _, acc := range c.registry.List() {
		if acc.ID == activeID || acc.Banned() || acc.Remaining() <= threshold {
			continue
		}
		target = &acc
		break
	}
	if target == nil {
		logging.Ctx(ctx).Warn().
			Str("active", active.Email).
			Float64("remaining", remaining).
			Msg("⚠️ Active account is low on quota and no eligible account is available")
		return OutcomeNoCandidate
	}

	if _, err := c.activator.SetActive(ctx, target.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("target", target.Email).Msg("❌ Auto-switch failed")
		return OutcomeSwitchError
	}
	logging.Ctx(ctx).Info().
		Str("from", active.Email).
		Str("to", target.Email).
		Float64("remaining", remaining).
		Msg("🔀 Auto-switched account")
	return OutcomeSwitched
}
