package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/account-nexus/internal/account"
)

const originalID = "11111111-2222-3333-4444-555555555555"

func newTestManager(t *testing.T, policy Policy) (*Manager, *MemoryEffector) {
	t.Helper()
	eff := NewMemoryEffector(FormatUUIDUpper, strings.ToUpper(originalID))
	m := NewManager(eff, func() Policy { return policy }, nil)
	return m, eff
}

func actions(s State) []Action {
	out := make([]Action, 0, len(s.History))
	for _, e := range s.History {
		out = append(out, e.Action)
	}
	return out
}

func TestRefreshCurrent_BacksUpOnce(t *testing.T) {
	m, eff := newTestManager(t, Policy{})
	id, err := m.RefreshCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(originalID), id)

	s := m.State()
	assert.Equal(t, id, s.OriginalID)
	assert.False(t, s.OriginalBackupTime.IsZero())
	assert.Equal(t, []Action{ActionInitial}, actions(s))

	eff.id = "AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE"
	_, err = m.RefreshCurrent(context.Background())
	require.NoError(t, err)
	s = m.State()
	assert.Equal(t, strings.ToUpper(originalID), s.OriginalID, "original is never overwritten implicitly")
	assert.Len(t, s.History, 1)
}

func TestChange_BacksUpExactlyOnce(t *testing.T) {
	m, eff := newTestManager(t, Policy{})

	first, err := m.Change(context.Background(), "")
	require.NoError(t, err)
	second, err := m.Change(context.Background(), "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	s := m.State()
	assert.Equal(t, strings.ToUpper(originalID), s.OriginalID)
	assert.Equal(t, []Action{ActionInitial, ActionManual, ActionManual}, actions(s))
	assert.NotEqual(t, first, second)
	assert.Equal(t, "01234567-89AB-CDEF-0123-456789ABCDEF", second)
	assert.Equal(t, second, s.CurrentID)
	assert.Len(t, eff.Writes, 2)
}

func TestChange_RequiresAdminKeepsOnlyTheBackup(t *testing.T) {
	m, eff := newTestManager(t, Policy{})
	eff.WriteErr = ErrRequiresAdmin

	_, err := m.Change(context.Background(), "")
	require.ErrorIs(t, err, ErrRequiresAdmin)

	s := m.State()
	assert.Equal(t, strings.ToUpper(originalID), s.OriginalID, "backup happens before the write")
	assert.Equal(t, strings.ToUpper(originalID), s.CurrentID)
	assert.Equal(t, []Action{ActionInitial}, actions(s))
	assert.Empty(t, eff.Writes)

	eff.WriteErr = nil
	_, err = m.Change(context.Background(), "")
	require.NoError(t, err)
	s = m.State()
	assert.Equal(t, strings.ToUpper(originalID), s.OriginalID)
	assert.Equal(t, []Action{ActionInitial, ActionManual}, actions(s), "backup is taken exactly once")
}

func TestChange_RejectsInvalidID(t *testing.T) {
	m, eff := newTestManager(t, Policy{})
	_, err := m.Change(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Empty(t, eff.Writes)
	assert.Empty(t, m.State().History)
}

func TestRestore(t *testing.T) {
	m, _ := newTestManager(t, Policy{})

	_, err := m.Restore(context.Background())
	require.ErrorIs(t, err, ErrNoOriginal)
	s := m.State()
	assert.Empty(t, s.CurrentID)
	assert.Empty(t, s.History, "failed restore appends nothing")

	_, err = m.Change(context.Background(), "")
	require.NoError(t, err)
	id, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(originalID), id)
	assert.Equal(t, []Action{ActionInitial, ActionManual, ActionRestore}, actions(m.State()))
}

func TestBindAndUnbind(t *testing.T) {
	m, eff := newTestManager(t, Policy{})

	id, err := m.Bind("acc-1", "a@example.com", "")
	require.NoError(t, err)
	bound, ok := m.BoundID("acc-1")
	require.True(t, ok)
	assert.Equal(t, id, bound)
	assert.Empty(t, eff.Writes, "binding never writes the identity")

	_, err = m.Bind("acc-2", "b@example.com", "bad")
	assert.ErrorIs(t, err, ErrInvalidID)

	s := m.State()
	require.Len(t, s.History, 1)
	assert.Equal(t, ActionBind, s.History[0].Action)
	assert.Equal(t, "a@example.com", s.History[0].Email)

	assert.True(t, m.Unbind("acc-1"))
	assert.False(t, m.Unbind("acc-1"))
	_, ok = m.BoundID("acc-1")
	assert.False(t, ok)
	assert.Len(t, m.State().History, 1, "unbinding adds no history")
}

func TestOnAccountSwitch_Policies(t *testing.T) {
	acc := account.Account{ID: "acc-1", Email: "a@example.com"}

	t.Run("fresh identity without binding", func(t *testing.T) {
		m, eff := newTestManager(t, Policy{})
		require.NoError(t, m.OnAccountSwitch(context.Background(), acc))
		require.NoError(t, m.OnAccountSwitch(context.Background(), acc))
		assert.Len(t, eff.Writes, 2)
		assert.NotEqual(t, eff.Writes[0], eff.Writes[1])
		_, ok := m.BoundID(acc.ID)
		assert.False(t, ok)
	})

	t.Run("bound identity applied", func(t *testing.T) {
		m, eff := newTestManager(t, Policy{BindToAccount: true, UseBound: true})
		require.NoError(t, m.OnAccountSwitch(context.Background(), acc))
		require.NoError(t, m.OnAccountSwitch(context.Background(), acc))
		bound, ok := m.BoundID(acc.ID)
		require.True(t, ok)
		assert.Equal(t, []string{bound, bound}, eff.Writes)

		s := m.State()
		assert.Equal(t, []Action{ActionInitial, ActionAutoSwitch, ActionAutoSwitch}, actions(s))
		assert.Equal(t, acc.ID, s.History[1].AccountID)
		assert.Equal(t, acc.Email, s.History[1].Email)
	})

	t.Run("rotate but remember", func(t *testing.T) {
		m, eff := newTestManager(t, Policy{BindToAccount: true, UseBound: false})
		require.NoError(t, m.OnAccountSwitch(context.Background(), acc))
		bound, ok := m.BoundID(acc.ID)
		require.True(t, ok)
		require.Len(t, eff.Writes, 1)
		assert.NotEqual(t, bound, eff.Writes[0])
	})

	t.Run("write failure", func(t *testing.T) {
		m, eff := newTestManager(t, Policy{BindToAccount: true, UseBound: true})
		eff.WriteErr = errors.New("disk full")
		require.Error(t, m.OnAccountSwitch(context.Background(), acc))
		s := m.State()
		assert.Equal(t, []Action{ActionInitial}, actions(s))
		assert.Empty(t, s.Bindings)
	})
}

func TestHistory_LengthAndOrdering(t *testing.T) {
	m, _ := newTestManager(t, Policy{BindToAccount: true, UseBound: true})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour), base.Add(2 * time.Second), base, base.Add(3 * time.Second)}
	i := 0
	m.SetClock(func() time.Time {
		ts := ticks[i%len(ticks)]
		i++
		return ts
	})

	ctx := context.Background()
	_, err := m.Bind("acc-1", "a@example.com", "")
	require.NoError(t, err)
	_, err = m.Change(ctx, "")
	require.NoError(t, err)
	require.NoError(t, m.OnAccountSwitch(ctx, account.Account{ID: "acc-2", Email: "b@example.com"}))
	_, err = m.Restore(ctx)
	require.NoError(t, err)

	s := m.State()
	assert.Len(t, s.History, 4+1)
	for j := 1; j < len(s.History); j++ {
		assert.False(t, s.History[j].Timestamp.Before(s.History[j-1].Timestamp), "entry %d goes back in time", j)
	}

	m.ClearHistory()
	assert.Empty(t, m.State().History)
	assert.Equal(t, strings.ToUpper(originalID), m.State().OriginalID)
}

func TestLoadAndState(t *testing.T) {
	m, _ := newTestManager(t, Policy{})
	m.Load(State{CurrentID: "X", OriginalID: "Y"})
	s := m.State()
	assert.NotNil(t, s.Bindings)
	s.Bindings["leak"] = "z"
	_, ok := m.BoundID("leak")
	assert.False(t, ok, "State returns a copy")
}

type saveCounter struct{ n int }

func (s *saveCounter) RequestSave() { s.n++ }

func TestPersisterNotified(t *testing.T) {
	m, _ := newTestManager(t, Policy{})
	saver := &saveCounter{}
	m.Persister = saver
	_, _ = m.Change(context.Background(), "")
	_, _ = m.Bind("acc", "", "")
	m.ClearHistory()
	assert.Equal(t, 4, saver.n, "backup, change, bind and clear each request a save")
}

func TestValidIDAndFormat(t *testing.T) {
	assert.True(t, ValidID(originalID))
	assert.True(t, ValidID("0123456789abcdef0123456789ABCDEF"))
	assert.False(t, ValidID("0123456789abcdef0123456789abcdeg"))
	assert.False(t, ValidID(""))

	hex, err := FormatHex32.Normalize(originalID)
	require.NoError(t, err)
	assert.Equal(t, "11111111222233334444555555555555", hex)
	assert.Len(t, FormatHex32.Generate(), 32)
	assert.True(t, ValidID(FormatUUIDUpper.Generate()))
}

func TestFileEffector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "machine-id")
	eff := NewPlatformEffector("linux", path)
	assert.Equal(t, FormatHex32, eff.Format)

	_, err := eff.CurrentID(context.Background())
	require.Error(t, err)

	require.NoError(t, eff.SetID(context.Background(), originalID))
	got, err := eff.CurrentID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "11111111222233334444555555555555", got)

	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0644))
	_, err = eff.CurrentID(context.Background())
	assert.ErrorIs(t, err, ErrInvalidID)

	darwin := NewPlatformEffector("darwin", filepath.Join(t.TempDir(), "id"))
	assert.Equal(t, FormatUUIDUpper, darwin.Format)
	assert.Equal(t, "/etc/machine-id", NewPlatformEffector("linux", "").Path)
}

func TestFileEffector_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0500))
	defer os.Chmod(dir, 0700)

	eff := NewPlatformEffector("linux", filepath.Join(dir, "machine-id"))
	err := eff.SetID(context.Background(), originalID)
	assert.ErrorIs(t, err, ErrRequiresAdmin)
}

func TestNewEffector(t *testing.T) {
	e, err := NewEffector("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryEffector{}, e)

	_, err = NewEffector("registry", "")
	assert.Error(t, err)
}
