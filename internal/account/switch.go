package account

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CredentialApplier pushes credentials into the session an external consumer
// reads.
type CredentialApplier interface {
	Apply(ctx context.Context, c Credentials) error
}

// IdentityHook reacts to an account becoming active.
type IdentityHook interface {
	OnAccountSwitch(ctx context.Context, acc Account) error
}

// Persister accepts fire-and-forget snapshot requests.
type Persister interface {
	RequestSave()
}

// Launcher makes sure the external application is running.
type Launcher interface {
	EnsureRunning(ctx context.Context) error
}

// SwitchPolicy controls the optional side effects of SetActive.
type SwitchPolicy struct {
	RotateIdentity bool
	AutoLaunch     bool
}

// SwitchResult reports what SetActive did.
type SwitchResult struct {
	Previous    *Account
	Current     *Account
	IdentityErr error
	LaunchErr   error
}

// Switcher performs the active-account transition and its side effects.
type Switcher struct {
	registry *Registry
	policy   func() SwitchPolicy

	Applier   CredentialApplier
	Identity  IdentityHook
	Persister Persister
	Launcher  Launcher
}

// NewSwitcher creates a switcher. policy is consulted on every call so that
// settings changes apply without rebuilding it.
func NewSwitcher(registry *Registry, policy func() SwitchPolicy) *Switcher {
	if policy == nil {
		policy = func() SwitchPolicy { return SwitchPolicy{} }
	}
	return &Switcher{registry: registry, policy: policy}
}

// SetActive makes id the active account; "" clears it. The registry
// transition happens first and is never undone by a later side effect.
func (s *Switcher) SetActive(ctx context.Context, id string) (*SwitchResult, error) {
	var target Account
	if id != "" {
		var ok bool
		if target, ok = s.registry.Get(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if s.Applier != nil && target.Credentials != nil {
			if err := s.Applier.Apply(ctx, target.Credentials); err != nil {
				return nil, fmt.Errorf("apply credentials for %s: %w", target.Email, err)
			}
		}
	}

	prev, next, err := s.registry.Activate(id)
	if err != nil {
		return nil, err
	}
	res := &SwitchResult{Previous: prev, Current: next}
	policy := s.policy()

	if next != nil {
		log.Info().Str("account", next.Email).Msg("🔀 Active account switched")
		if policy.RotateIdentity && s.Identity != nil {
			if err := s.Identity.OnAccountSwitch(ctx, *next); err != nil {
				log.Warn().Err(err).Str("account", next.Email).Msg("⚠️ Identity rotation failed")
				res.IdentityErr = err
			}
		}
	} else {
		log.Info().Msg("🔀 Active account cleared")
	}

	if s.Persister != nil {
		s.Persister.RequestSave()
	}

	if next != nil && policy.AutoLaunch && s.Launcher != nil {
		if err := s.Launcher.EnsureRunning(ctx); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to launch external application")
			res.LaunchErr = err
		}
	}
	return res, nil
}
