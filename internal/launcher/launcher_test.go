package launcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/account-nexus/internal/config"
)

type fakeOS struct {
	alive    bool
	checkErr error
	startErr error
	started  []string
	checked  []string
}

func newFake(cfg config.LauncherConfig, f *fakeOS) *Launcher {
	l := New(cfg)
	l.running = func(_ context.Context, _ string, name string) (bool, error) {
		f.checked = append(f.checked, name)
		return f.alive, f.checkErr
	}
	l.start = func(command string, _ []string) error {
		if f.startErr != nil {
			return f.startErr
		}
		f.started = append(f.started, command)
		f.alive = true
		return nil
	}
	return l
}

func TestEnsureRunning(t *testing.T) {
	f := &fakeOS{}
	l := newFake(config.LauncherConfig{Command: "/opt/Kiro/kiro"}, f)

	require.NoError(t, l.EnsureRunning(context.Background()))
	require.NoError(t, l.EnsureRunning(context.Background()))
	assert.Equal(t, []string{"/opt/Kiro/kiro"}, f.started, "a running process is not started twice")
	assert.Equal(t, []string{"kiro", "kiro"}, f.checked)
}

func TestEnsureRunning_Errors(t *testing.T) {
	_, err := New(config.LauncherConfig{}).IsRunning(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, New(config.LauncherConfig{}).EnsureRunning(context.Background()), ErrNotConfigured)

	boom := errors.New("no such file")
	f := &fakeOS{startErr: boom}
	l := newFake(config.LauncherConfig{Command: "app", ProcessName: "App.exe"}, f)
	assert.ErrorIs(t, l.EnsureRunning(context.Background()), boom)
	assert.Equal(t, []string{"App.exe"}, f.checked)

	f = &fakeOS{checkErr: boom}
	l = newFake(config.LauncherConfig{Command: "app"}, f)
	assert.ErrorIs(t, l.EnsureRunning(context.Background()), boom)
	assert.Empty(t, f.started)
}
