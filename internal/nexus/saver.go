package nexus

import (
	"context"
	"sync"
)

// saver coalesces save requests: any number of requests made while a save
// is pending or running result in at most one more save.
type saver struct {
	save    func(context.Context) error
	pending chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newSaver(save func(context.Context) error) *saver {
	return &saver{save: save, pending: make(chan struct{}, 1)}
}

// RequestSave never blocks.
func (s *saver) RequestSave() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *saver) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

func (s *saver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending:
			// errors are logged and counted by save
			_ = s.save(ctx)
		}
	}
}

func (s *saver) close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
