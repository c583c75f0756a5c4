// Package nexus wires the registry, the credential loops, the identity
// manager and persistence into one application.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/auth/token"
	"github.com/pysugar/account-nexus/internal/autoswitch"
	"github.com/pysugar/account-nexus/internal/batch"
	"github.com/pysugar/account-nexus/internal/config"
	"github.com/pysugar/account-nexus/internal/credential"
	"github.com/pysugar/account-nexus/internal/db"
	"github.com/pysugar/account-nexus/internal/discovery"
	"github.com/pysugar/account-nexus/internal/identity"
	"github.com/pysugar/account-nexus/internal/launcher"
	"github.com/pysugar/account-nexus/internal/loop"
	"github.com/pysugar/account-nexus/internal/metrics"
)

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, snap db.Snapshot) error
	Load(ctx context.Context, defaults config.Settings) (db.Snapshot, error)
}

// Options override the collaborators New would otherwise build from config.
type Options struct {
	Store    Store
	Service  credential.Service
	Effector identity.Effector
	Session  *credential.SessionFile
	Launcher account.Launcher
	Metrics  *metrics.Recorder
}

// App is the running account manager.
type App struct {
	cfg     config.Config
	store   Store
	session *credential.SessionFile

	Registry   *account.Registry
	Refresher  *token.Refresher
	Scheduler  *token.Scheduler
	AutoSwitch *autoswitch.Controller
	Switcher   *account.Switcher
	Identity   *identity.Manager
	Discovery  *discovery.Scanner
	Metrics    *metrics.Recorder

	saver     *saver
	snapshots *loop.Loop
	saveMu    sync.Mutex

	mu       sync.RWMutex
	settings config.Settings
}

// New builds the application. Nothing runs until Start.
func New(cfg config.Config, opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("nexus: store is required")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	svc := opts.Service
	if svc == nil {
		svc = credential.NewClient(cfg.Endpoints, cfg.RequestTimeout)
	}
	probes := svc
	if cfg.ProbeCacheTTL > 0 {
		probes = credential.NewCachingService(svc, cfg.ProbeCacheTTL)
	}

	eff := opts.Effector
	if eff == nil {
		var err error
		if eff, err = identity.NewEffector(cfg.Identity.Effector, cfg.Identity.Path); err != nil {
			return nil, err
		}
	}

	session := opts.Session
	if session == nil {
		session = credential.NewSessionFile(cfg.Session.TokenFile)
	}

	a := &App{
		cfg:       cfg,
		store:     opts.Store,
		session:   session,
		Registry:  account.NewRegistry(),
		Metrics:   m,
		Discovery: discovery.NewScanner(discovery.DefaultSources(session.Path, "")...),
		snapshots: loop.New("snapshot"),
		settings:  cfg.Defaults,
	}
	a.saver = newSaver(a.SaveNow)

	a.Refresher = token.NewRefresher(a.Registry, svc,
		token.WithProbeService(probes),
		token.WithMetrics(m),
		token.WithTokensChanged(a.tokensChanged),
	)
	a.Scheduler = token.NewScheduler(a.Registry, a.Refresher, schedulerSettings(a.settings), m)

	a.Identity = identity.NewManager(eff, a.identityPolicy, m)
	a.Identity.Persister = a.saver

	a.Switcher = account.NewSwitcher(a.Registry, a.switchPolicy)
	a.Switcher.Applier = session
	a.Switcher.Identity = a.Identity
	a.Switcher.Persister = a.saver
	switch {
	case opts.Launcher != nil:
		a.Switcher.Launcher = opts.Launcher
	case cfg.Launcher.Command != "":
		a.Switcher.Launcher = launcher.New(cfg.Launcher)
	}

	a.AutoSwitch = autoswitch.New(a.Registry, a.Refresher, a.Switcher, switchSettings(a.settings), m)
	return a, nil
}

// Load restores the last snapshot and normalizes it: at most one account
// ends up active and accounts caught mid-refresh go back to unknown.
func (a *App) Load(ctx context.Context) error {
	snap, err := a.store.Load(ctx, a.cfg.Defaults)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	state := snap.Registry
	state.ActiveID = a.resolveActive(state)
	for i := range state.Accounts {
		if state.Accounts[i].Status == account.StatusRefreshing {
			state.Accounts[i].Status = account.StatusUnknown
		}
	}
	if dropped := a.Registry.Restore(state); dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("⚠️ Duplicate accounts dropped from snapshot")
	}
	a.Identity.Load(snap.Identity)

	settings := snap.Settings
	if err := settings.Validate(); err != nil {
		log.Warn().Err(err).Msg("⚠️ Stored settings invalid, using defaults")
		settings = a.cfg.Defaults
	}
	a.setSettings(settings)

	log.Info().
		Int("accounts", a.Registry.Len()).
		Str("active", a.Registry.ActiveID()).
		Msg("📂 Snapshot loaded")
	return nil
}

// resolveActive picks the active account: the stored pointer when it names
// a known account, then the first account flagged active, then the account
// whose tokens the external session currently holds.
func (a *App) resolveActive(s account.State) string {
	for _, acc := range s.Accounts {
		if s.ActiveID != "" && acc.ID == s.ActiveID {
			return acc.ID
		}
	}
	for _, acc := range s.Accounts {
		if acc.IsActive {
			return acc.ID
		}
	}
	tok, err := a.session.Read()
	if err != nil {
		log.Debug().Err(err).Msg("No session to cross-check the active account")
		return ""
	}
	for _, acc := range s.Accounts {
		if tok.Matches(acc.Credentials) {
			log.Info().Str("account", acc.Email).Msg("🔀 Active account recovered from session")
			return acc.ID
		}
	}
	return ""
}

// Start runs the background loops and the snapshot saver. ctx bounds all
// of them.
func (a *App) Start(ctx context.Context) error {
	a.saver.start(ctx)
	if _, err := a.Identity.RefreshCurrent(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Could not read machine identity")
	}
	if err := a.snapshots.Start(ctx, a.cfg.SnapshotInterval, func(ctx context.Context) {
		_ = a.SaveNow(ctx)
	}); err != nil {
		return err
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start refresh loop: %w", err)
	}
	if err := a.AutoSwitch.Start(ctx); err != nil {
		return fmt.Errorf("start auto-switch loop: %w", err)
	}
	log.Info().
		Bool("auto_refresh", a.Scheduler.IsRunning()).
		Bool("auto_switch", a.AutoSwitch.IsRunning()).
		Msg("✅ Nexus started")
	return nil
}

// Stop halts every loop and writes a final snapshot.
func (a *App) Stop(ctx context.Context) error {
	a.Scheduler.Stop()
	a.AutoSwitch.Stop()
	a.snapshots.Stop()
	a.saver.close()
	return a.SaveNow(ctx)
}

// RequestSave schedules an asynchronous snapshot.
func (a *App) RequestSave() {
	a.saver.RequestSave()
}

// SaveNow writes a snapshot synchronously.
func (a *App) SaveNow(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	snap := db.Snapshot{
		Registry: a.Registry.Export(),
		Settings: a.Settings(),
		Identity: a.Identity.State(),
	}
	if err := a.store.Save(ctx, snap); err != nil {
		a.Metrics.PersistError()
		log.Error().Err(err).Msg("❌ Failed to save snapshot")
		return err
	}
	log.Debug().Int("accounts", len(snap.Registry.Accounts)).Msg("💾 Snapshot saved")
	return nil
}

// Settings returns the runtime settings.
func (a *App) Settings() config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// UpdateSettings validates and applies s, restarting whichever loops were
// started so new intervals and switches take effect.
func (a *App) UpdateSettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := a.setSettings(s); err != nil {
		return err
	}
	a.RequestSave()
	log.Info().
		Bool("auto_refresh", s.AutoRefresh).
		Bool("auto_switch", s.AutoSwitch).
		Msg("⚙️ Settings updated")
	return nil
}

func (a *App) setSettings(s config.Settings) error {
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
	if err := a.Scheduler.UpdateSettings(schedulerSettings(s)); err != nil {
		return err
	}
	return a.AutoSwitch.UpdateSettings(switchSettings(s))
}

func (a *App) switchPolicy() account.SwitchPolicy {
	s := a.Settings()
	return account.SwitchPolicy{RotateIdentity: s.RotateIdentityOnSwitch, AutoLaunch: s.AutoLaunch}
}

func (a *App) identityPolicy() identity.Policy {
	s := a.Settings()
	return identity.Policy{BindToAccount: s.BindIdentityToAccount, UseBound: s.UseBoundIdentity}
}

// tokensChanged keeps the external session in step with the active account
// and schedules a save.
func (a *App) tokensChanged(ctx context.Context, acc account.Account) {
	if acc.IsActive && acc.Credentials != nil {
		if err := a.session.Apply(ctx, acc.Credentials); err != nil {
			log.Warn().Err(err).Str("account", acc.Email).Msg("⚠️ Failed to update session with refreshed tokens")
		}
	}
	a.RequestSave()
}

func schedulerSettings(s config.Settings) token.Settings {
	return token.Settings{
		Enabled:     s.AutoRefresh,
		Interval:    s.RefreshInterval(),
		Concurrency: s.RefreshConcurrency,
		BatchDelay:  batch.DefaultBatchDelay,
		ProbeAll:    s.AutoSwitch,
	}
}

func switchSettings(s config.Settings) autoswitch.Settings {
	return autoswitch.Settings{
		Enabled:   s.AutoSwitch,
		Threshold: s.SwitchThreshold,
		Interval:  s.SwitchInterval(),
	}
}
