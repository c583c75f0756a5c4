package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/metrics"
)

// Policy is the account-switch behaviour.
type Policy struct {
	// BindToAccount keeps one identity per account, generated on first use.
	BindToAccount bool
	// UseBound applies the bound identity on switch; when false a fresh
	// identity is applied even though the binding is kept.
	UseBound bool
}

// Manager owns State. Operations are serialized; the effector is the only
// I/O and a failed write never changes state.
type Manager struct {
	effector Effector
	policy   func() Policy
	metrics  *metrics.Recorder

	// Persister, when set, is asked to save after every state change.
	Persister account.Persister

	op    sync.Mutex
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// NewManager creates a manager with empty state.
func NewManager(effector Effector, policy func() Policy, m *metrics.Recorder) *Manager {
	if policy == nil {
		policy = func() Policy { return Policy{} }
	}
	return &Manager{
		effector: effector,
		policy:   policy,
		metrics:  m,
		state:    State{Bindings: map[string]string{}},
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Load replaces the state, typically from a snapshot.
func (m *Manager) Load(s State) {
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
}

// BoundID returns the identity bound to accountID.
func (m *Manager) BoundID(accountID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.state.Bindings[accountID]
	return id, ok
}

// RefreshCurrent reads the live identity. The first successful read with no
// original recorded backs it up once.
func (m *Manager) RefreshCurrent(ctx context.Context) (string, error) {
	m.op.Lock()
	defer m.op.Unlock()

	id, err := m.effector.CurrentID(ctx)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.state.CurrentID = id
	backedUp := m.backupLocked(id)
	m.mu.Unlock()
	if backedUp {
		m.changed()
	}
	return id, nil
}

// ensureBackup records the live identity as the original when none is
// recorded yet. It runs before any write, so the backup survives a write
// that fails. Callers hold m.op.
func (m *Manager) ensureBackup(ctx context.Context) error {
	m.mu.RLock()
	has := m.state.OriginalID != ""
	m.mu.RUnlock()
	if has {
		return nil
	}
	id, err := m.effector.CurrentID(ctx)
	if err != nil {
		return fmt.Errorf("back up current identity: %w", err)
	}
	m.mu.Lock()
	m.state.CurrentID = id
	backedUp := m.backupLocked(id)
	m.mu.Unlock()
	if backedUp {
		m.changed()
	}
	return nil
}

func (m *Manager) backupLocked(id string) bool {
	if m.state.OriginalID != "" {
		return false
	}
	m.state.OriginalID = id
	m.state.OriginalBackupTime = m.now()
	m.appendLocked(HistoryEntry{Identity: id, Action: ActionInitial})
	log.Info().Str("identity", id).Msg("🆔 Original machine identity backed up")
	return true
}

func (m *Manager) appendLocked(e HistoryEntry) {
	e.ID = uuid.NewString()
	e.Timestamp = m.now()
	if n := len(m.state.History); n > 0 && e.Timestamp.Before(m.state.History[n-1].Timestamp) {
		e.Timestamp = m.state.History[n-1].Timestamp
	}
	m.state.History = append(m.state.History, e)
}

// apply writes id through the effector and records it together with any
// extra state change. A write failure, including ErrRequiresAdmin, changes
// nothing beyond an already recorded backup.
func (m *Manager) apply(ctx context.Context, id string, entry HistoryEntry, commit func(*State)) (string, error) {
	if err := m.effector.SetID(ctx, id); err != nil {
		m.metrics.Identity(string(entry.Action), err)
		return "", err
	}
	if live, err := m.effector.CurrentID(ctx); err == nil {
		id = live
	}
	m.mu.Lock()
	if commit != nil {
		commit(&m.state)
	}
	m.state.CurrentID = id
	entry.Identity = id
	m.appendLocked(entry)
	m.mu.Unlock()
	m.metrics.Identity(string(entry.Action), nil)
	m.changed()
	return id, nil
}

// Change applies newID, or a freshly generated identity when empty. The
// original identity is backed up first if that never happened.
func (m *Manager) Change(ctx context.Context, newID string) (string, error) {
	if newID != "" && !ValidID(newID) {
		return "", ErrInvalidID
	}
	m.op.Lock()
	defer m.op.Unlock()

	if err := m.ensureBackup(ctx); err != nil {
		return "", err
	}
	if newID == "" {
		newID = m.effector.GenerateID()
	}
	id, err := m.apply(ctx, newID, HistoryEntry{Action: ActionManual}, nil)
	if err != nil {
		return "", err
	}
	log.Info().Str("identity", id).Msg("🆔 Machine identity changed")
	return id, nil
}

// Restore writes the backed-up original identity back.
func (m *Manager) Restore(ctx context.Context) (string, error) {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.RLock()
	original := m.state.OriginalID
	m.mu.RUnlock()
	if original == "" {
		return "", ErrNoOriginal
	}
	id, err := m.apply(ctx, original, HistoryEntry{Action: ActionRestore}, nil)
	if err != nil {
		return "", err
	}
	log.Info().Str("identity", id).Msg("🆔 Original machine identity restored")
	return id, nil
}

// Bind associates an identity with an account without applying it. An empty
// id binds a freshly generated one.
func (m *Manager) Bind(accountID, email, id string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: empty account id", account.ErrNotFound)
	}
	if id != "" && !ValidID(id) {
		return "", ErrInvalidID
	}
	if id == "" {
		id = m.effector.GenerateID()
	}
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	m.state.Bindings[accountID] = id
	m.appendLocked(HistoryEntry{Identity: id, Action: ActionBind, AccountID: accountID, Email: email})
	m.mu.Unlock()
	m.metrics.Identity(string(ActionBind), nil)
	m.changed()
	return id, nil
}

// Unbind removes the account's binding. It reports whether one existed.
func (m *Manager) Unbind(accountID string) bool {
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	_, ok := m.state.Bindings[accountID]
	delete(m.state.Bindings, accountID)
	m.mu.Unlock()
	if ok {
		m.changed()
	}
	return ok
}

// ClearHistory truncates the whole history log.
func (m *Manager) ClearHistory() {
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	m.state.History = nil
	m.mu.Unlock()
	m.changed()
}

// OnAccountSwitch applies the identity the policy selects for acc and logs
// an auto_switch entry tagged with it.
func (m *Manager) OnAccountSwitch(ctx context.Context, acc account.Account) error {
	policy := m.policy()
	m.op.Lock()
	defer m.op.Unlock()

	if err := m.ensureBackup(ctx); err != nil {
		return err
	}

	id := m.effector.GenerateID()
	var commit func(*State)
	if policy.BindToAccount {
		m.mu.RLock()
		bound, ok := m.state.Bindings[acc.ID]
		m.mu.RUnlock()
		if !ok {
			bound = m.effector.GenerateID()
			commit = func(s *State) { s.Bindings[acc.ID] = bound }
		}
		if policy.UseBound {
			id = bound
		}
	}

	applied, err := m.apply(ctx, id, HistoryEntry{Action: ActionAutoSwitch, AccountID: acc.ID, Email: acc.Email}, commit)
	if err != nil {
		return err
	}
	log.Info().Str("identity", applied).Str("account", acc.Email).Msg("🆔 Machine identity rotated for account switch")
	return nil
}

func (m *Manager) changed() {
	if m.Persister != nil {
		m.Persister.RequestSave()
	}
}
