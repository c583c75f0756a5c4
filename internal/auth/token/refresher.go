// Package token keeps account credentials valid: manual and scheduled token
// refresh, status probes and the periodic refresh loop.
package token

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/batch"
	"github.com/pysugar/account-nexus/internal/credential"
	"github.com/pysugar/account-nexus/internal/logging"
	"github.com/pysugar/account-nexus/internal/metrics"
	"github.com/pysugar/account-nexus/internal/util"
)

const (
	triggerManual    = "manual"
	triggerScheduled = "scheduled"
)

// Refresher applies refresh and probe results to the registry. Concurrent
// calls for the same account and operation share one in-flight request.
type Refresher struct {
	registry *account.Registry
	service  credential.Service
	probes   credential.Service
	metrics  *metrics.Recorder
	onTokens func(context.Context, account.Account)

	group singleflight.Group
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithProbeService sets the service used by ProbeMany, typically a
// credential.CachingService. Check always uses the primary service.
func WithProbeService(s credential.Service) RefresherOption {
	return func(r *Refresher) { r.probes = s }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

// WithTokensChanged registers fn to run after an account's tokens were
// replaced by a refresh or by a probe that had to refresh first.
func WithTokensChanged(fn func(ctx context.Context, acc account.Account)) RefresherOption {
	return func(r *Refresher) { r.onTokens = fn }
}

// NewRefresher creates a refresher writing into registry.
func NewRefresher(registry *account.Registry, service credential.Service, opts ...RefresherOption) *Refresher {
	r := &Refresher{registry: registry, service: service, probes: service}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh exchanges the account's refresh token now, outside the schedule.
func (r *Refresher) Refresh(ctx context.Context, id string) (account.Account, error) {
	return r.refresh(ctx, id, triggerManual)
}

func (r *Refresher) refresh(ctx context.Context, id, trigger string) (account.Account, error) {
	v, err, shared := r.group.Do("refresh:"+id, func() (interface{}, error) {
		return r.doRefresh(ctx, id, trigger)
	})
	if shared {
		logging.Ctx(ctx).Debug().Str("account", id).Msg("refresh coalesced with in-flight request")
	}
	acc, _ := v.(account.Account)
	return acc, err
}

func (r *Refresher) doRefresh(ctx context.Context, id, trigger string) (account.Account, error) {
	acc, ok := r.registry.Get(id)
	if !ok {
		return account.Account{}, fmt.Errorf("%w: %s", account.ErrNotFound, id)
	}
	if !acc.CanRefresh() {
		err := &credential.Error{Category: account.CategoryMalformed, Message: "account has no refresh token"}
		return r.fail(ctx, id, err, trigger)
	}

	logging.Ctx(ctx).Debug().Str("account", acc.Email).Msg("🔄 Refreshing access token")
	prevStatus := acc.Status
	_, _ = r.registry.Update(id, func(a *account.Account) { a.Status = account.StatusRefreshing })

	tr, err := r.service.RefreshToken(ctx, acc.Credentials)
	if err != nil {
		if credential.CategoryOf(err) == account.CategoryTransient && ctx.Err() != nil {
			_, _ = r.registry.Update(id, func(a *account.Account) { a.Status = prevStatus })
			return account.Account{}, err
		}
		return r.fail(ctx, id, err, trigger)
	}

	now := r.registry.Now()
	updated, err := r.registry.Update(id, func(a *account.Account) {
		if a.Credentials != nil {
			a.Credentials = credential.Apply(a.Credentials, tr, now)
		}
		a.Status = account.StatusActive
		a.LastError = ""
		a.ErrorCategory = account.CategoryNone
		a.LastCheckedAt = now
	})
	if err != nil {
		return account.Account{}, err
	}
	r.metrics.Refresh(trigger, "")
	if tr.RefreshToken != "" {
		logging.Ctx(ctx).Info().Str("account", updated.Email).Msg("🔄 Refresh token rotated")
	}
	logging.Ctx(ctx).Info().
		Str("account", updated.Email).
		Time("expires", updated.ExpiresAt()).
		Msg("✅ Token refreshed")
	r.tokensChanged(ctx, updated)
	return updated, nil
}

// Check probes the account with a fresh, uncached request. A success clears
// any recorded failure, including a ban.
func (r *Refresher) Check(ctx context.Context, id string) (account.Account, error) {
	v, err, _ := r.group.Do("check:"+id, func() (interface{}, error) {
		return r.doProbe(ctx, id, r.service)
	})
	acc, _ := v.(account.Account)
	return acc, err
}

func (r *Refresher) doProbe(ctx context.Context, id string, svc credential.Service) (account.Account, error) {
	acc, ok := r.registry.Get(id)
	if !ok {
		return account.Account{}, fmt.Errorf("%w: %s", account.ErrNotFound, id)
	}

	res, err := svc.ProbeStatus(ctx, acc.Credentials)
	if err != nil {
		r.metrics.Probe(string(credential.CategoryOf(err)))
		return r.fail(ctx, id, err, "")
	}
	r.metrics.Probe("")

	now := r.registry.Now()
	updated, err := r.registry.Update(id, func(a *account.Account) {
		if res.NewCredentials != nil {
			a.Credentials = res.NewCredentials
		}
		a.Usage = res.Usage
		a.Subscription = res.Subscription
		if a.UserID == "" {
			a.UserID = res.UserInfo.UserID
		}
		a.Status = res.Status
		if a.Status == "" {
			a.Status = account.StatusActive
		}
		a.LastError = ""
		a.ErrorCategory = account.CategoryNone
		a.LastCheckedAt = now
	})
	if err != nil {
		return account.Account{}, err
	}
	logging.Ctx(ctx).Debug().
		Str("account", updated.Email).
		Float64("remaining", updated.Remaining()).
		Msg("📊 Status probed")
	if res.NewCredentials != nil {
		r.tokensChanged(ctx, updated)
	}
	return updated, nil
}

func (r *Refresher) tokensChanged(ctx context.Context, acc account.Account) {
	if r.onTokens != nil {
		r.onTokens(ctx, acc)
	}
}

// fail records err on the account and returns it. The refresh token is
// never touched.
func (r *Refresher) fail(ctx context.Context, id string, cause error, trigger string) (account.Account, error) {
	cat := credential.CategoryOf(cause)
	if trigger != "" {
		r.metrics.Refresh(trigger, string(cat))
	}
	now := r.registry.Now()
	updated, err := r.registry.Update(id, func(a *account.Account) {
		a.Status = account.StatusFor(cat)
		a.LastError = util.ErrorText(cause)
		a.ErrorCategory = cat
		a.LastCheckedAt = now
	})
	if err != nil {
		return account.Account{}, err
	}
	ev := logging.Ctx(ctx).Warn()
	if cat == account.CategoryBanned {
		ev = logging.Ctx(ctx).Error()
	}
	ev.Err(cause).Str("account", updated.Email).Str("category", string(cat)).Msg("❌ Credential operation failed")
	return updated, cause
}

// RefreshMany refreshes ids through the concurrency limiter.
func (r *Refresher) RefreshMany(ctx context.Context, ids []string, concurrency int, opts ...batch.Option) account.BatchResult {
	results := r.refreshMany(ctx, ids, concurrency, triggerManual, opts...)
	ok, failed := batch.Count(results)
	return account.BatchResult{Succeeded: ok, Failed: failed}
}

// refreshMany returns one result per id, in order.
func (r *Refresher) refreshMany(ctx context.Context, ids []string, concurrency int, trigger string, opts ...batch.Option) []batch.Result[account.Account] {
	return batch.Run(ctx, ids, concurrency, func(ctx context.Context, id string) (account.Account, error) {
		return r.refresh(ctx, id, trigger)
	}, opts...)
}

// ProbeMany probes ids through the concurrency limiter using the probe
// service, which may serve cached results.
func (r *Refresher) ProbeMany(ctx context.Context, ids []string, concurrency int, opts ...batch.Option) account.BatchResult {
	results := batch.Run(ctx, ids, concurrency, func(ctx context.Context, id string) (account.Account, error) {
		v, err, _ := r.group.Do("probe:"+id, func() (interface{}, error) {
			return r.doProbe(ctx, id, r.probes)
		})
		acc, _ := v.(account.Account)
		return acc, err
	}, opts...)
	ok, failed := batch.Count(results)
	return account.BatchResult{Succeeded: ok, Failed: failed}
}

// CheckMany runs uncached probes for ids, clearing recorded failures on
// success.
func (r *Refresher) CheckMany(ctx context.Context, ids []string, concurrency int, opts ...batch.Option) account.BatchResult {
	results := batch.Run(ctx, ids, concurrency, r.Check, opts...)
	ok, failed := batch.Count(results)
	return account.BatchResult{Succeeded: ok, Failed: failed}
}
