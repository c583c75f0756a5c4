// Package loop provides a restartable single-instance periodic loop.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Loop runs a tick function on a fixed interval. At most one ticker is
// active per Loop and tick bodies never overlap, even across restarts.
type Loop struct {
	name string

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64

	tick sync.Mutex
}

// New creates a stopped loop; name is used in logs.
func New(name string) *Loop {
	return &Loop{name: name}
}

// Start stops any running ticker, then starts a new one. Ticks receive ctx,
// so Stop never cancels a tick already in progress; cancelling ctx stops
// the loop.
func (l *Loop) Start(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("%s loop: interval must be positive, got %s", l.name, interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()

	stop, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.gen++
	gen := l.gen

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer l.clear(gen)
		for {
			select {
			case <-stop.Done():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stop.Err() != nil {
					return
				}
				l.run(ctx, fn)
			}
		}
	}()
	log.Info().Str("loop", l.name).Dur("interval", interval).Msgf("🔄 %s loop started", l.name)
	return nil
}

func (l *Loop) run(ctx context.Context, fn func(context.Context)) {
	l.tick.Lock()
	defer l.tick.Unlock()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("loop", l.name).Msgf("❌ %s tick panicked: %v", l.name, p)
		}
	}()
	fn(ctx)
}

// RunOnce executes one tick synchronously, serialized with scheduled ticks.
func (l *Loop) RunOnce(ctx context.Context, fn func(context.Context)) {
	l.run(ctx, fn)
}

func (l *Loop) clear(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen && l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Stop cancels the ticker. It is safe to call on a stopped loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopLocked() {
		log.Info().Str("loop", l.name).Msgf("⏹️ %s loop stopped", l.name)
	}
}

func (l *Loop) stopLocked() bool {
	if l.cancel == nil {
		return false
	}
	l.cancel()
	l.cancel = nil
	return true
}

// IsRunning reports whether a ticker is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
