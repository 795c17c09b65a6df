package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

// ErrNoSession is reported when a verdict is invalid without a recorded cause.
var ErrNoSession = errors.New("no valid provider session")

// Result is the verdict of a validation.
type Result struct {
	Valid     bool      `json:"valid"`
	Token     string    `json:"-"`
	Owner     string    `json:"owner,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Err       error     `json:"-"`
}

func invalid(err error) Result {
	return Result{Err: err}
}

func validFrom(s model.Session) Result {
	return Result{Valid: true, Token: s.Token, Owner: s.Owner, ExpiresAt: s.ExpiresAt}
}

// ValidatorConfig tunes caching and probing.
type ValidatorConfig struct {
	Credentials model.Credentials

	// ValidTTL and InvalidTTL bound how long a verdict is served from cache.
	ValidTTL   time.Duration
	InvalidTTL time.Duration

	// WaitTimeout bounds how long a caller waits on an in-flight validation.
	WaitTimeout time.Duration

	// ProbeAttempts connectivity probes are made per candidate, ProbeDelay apart.
	ProbeAttempts int
	ProbeDelay    time.Duration

	// Candidates is the number of stored sessions considered.
	Candidates int
}

// DefaultValidatorConfig returns the production defaults.
func DefaultValidatorConfig(creds model.Credentials) ValidatorConfig {
	return ValidatorConfig{
		Credentials:   creds,
		ValidTTL:      30 * time.Second,
		InvalidTTL:    5 * time.Second,
		WaitTimeout:   45 * time.Second,
		ProbeAttempts: 3,
		ProbeDelay:    time.Second,
		Candidates:    5,
	}
}

type verdict struct {
	result Result
	at     time.Time
	ttl    time.Duration
}

// Validator establishes a usable provider session. Concurrent callers share
// one in-flight validation, and verdicts are cached briefly.
type Validator struct {
	store    *Store
	provider core.Provider
	clock    clock.PassiveClock
	cfg      ValidatorConfig
	logger   log.Logger

	group singleflight.Group

	mu     sync.Mutex
	cached *verdict
}

func NewValidator(store *Store, provider core.Provider, clk clock.PassiveClock, cfg ValidatorConfig) *Validator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Validator{
		store:    store,
		provider: provider,
		clock:    clk,
		cfg:      cfg,
		logger:   log.WithName("session-validator"),
	}
}

// EnsureValidSession returns a verdict for the current session, validating or
// re-authenticating when the cached verdict is missing or stale. It never panics
// and reports failures through Result.Err.
func (v *Validator) EnsureValidSession(ctx context.Context) Result {
	if r, ok := v.fresh(); ok {
		return r
	}

	ch := v.group.DoChan("validate", func() (any, error) {
		r := v.validate(context.WithoutCancel(ctx))
		v.remember(r)
		return r, nil
	})

	wait := v.cfg.WaitTimeout
	if wait <= 0 {
		wait = 45 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-timer.C:
	case <-ctx.Done():
	}

	if r, ok := v.last(); ok {
		return r
	}
	err := core.Errorf(core.KindConnectivity, "validate session", "timed out waiting for in-flight validation")
	v.logger.Error(err, "Session validation wait expired", "kind", core.KindConnectivity)
	return invalid(err)
}

// ForceRevalidation expires the cached verdict. The stored session is kept and
// will be probed again on the next call.
func (v *Validator) ForceRevalidation() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cached != nil {
		v.cached.ttl = 0
	}
}

// ClearCache drops the cached verdict entirely.
func (v *Validator) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cached = nil
}

func (v *Validator) fresh() (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cached == nil {
		return Result{}, false
	}
	now := v.clock.Now()
	if now.Sub(v.cached.at) >= v.cached.ttl {
		return Result{}, false
	}
	if v.cached.result.Valid && !now.Before(v.cached.result.ExpiresAt) {
		return Result{}, false
	}
	return v.cached.result, true
}

// last returns the cached verdict regardless of its age, as long as a valid
// one has not passed its session expiry.
func (v *Validator) last() (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cached == nil {
		return Result{}, false
	}
	if v.cached.result.Valid && !v.clock.Now().Before(v.cached.result.ExpiresAt) {
		return Result{}, false
	}
	return v.cached.result, true
}

func (v *Validator) remember(r Result) {
	ttl := v.cfg.InvalidTTL
	if r.Valid {
		ttl = v.cfg.ValidTTL
	}

	v.mu.Lock()
	v.cached = &verdict{result: r, at: v.clock.Now(), ttl: ttl}
	v.mu.Unlock()
}

func (v *Validator) validate(ctx context.Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			err := core.Errorf(core.KindUnknown, "validate session", "panic: %v", p)
			v.logger.Error(err, "Session validation panicked")
			res = invalid(err)
		}
		outcome := "invalid"
		if res.Valid {
			outcome = "valid"
		}
		metrics.SessionValidations.WithLabelValues(outcome).Inc()
	}()

	candidates, err := v.store.List(ctx, v.cfg.Candidates)
	if err != nil {
		v.logger.Error(err, "Failed to load stored sessions", "kind", core.KindOf(err))
	}

	now := v.clock.Now()
	for _, c := range candidates {
		if c.Expired(now) {
			continue
		}
		if err := v.probe(ctx, c.Token); err != nil {
			v.logger.Warn("Stored session failed connectivity probe", "owner", c.Owner, "expiresAt", c.ExpiresAt, "kind", core.KindOf(err), "error", err)
			continue
		}

		if cur, _ := v.store.Get(ctx); cur == nil || cur.Token != c.Token {
			if err := v.store.Put(ctx, c); err != nil {
				v.logger.Error(err, "Failed to promote validated session", "kind", core.KindOf(err))
			}
		}
		return validFrom(c)
	}

	return v.authenticate(ctx)
}

func (v *Validator) probe(ctx context.Context, token string) error {
	attempts := v.cfg.ProbeAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(v.cfg.ProbeDelay), uint64(attempts-1)),
		ctx,
	)

	return backoff.Retry(func() error {
		err := v.provider.TestConnectivity(ctx, token)
		if err != nil && core.IsKind(err, core.KindAuthentication) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (v *Validator) authenticate(ctx context.Context) Result {
	res, err := v.provider.Authenticate(ctx, v.cfg.Credentials)
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			err = core.NewError(core.KindConnectivity, "authenticate", err)
		}
		v.logger.Error(err, "Authentication request failed", "kind", core.KindOf(err), "username", v.cfg.Credentials.Username)
		return invalid(err)
	}

	switch r := res.(type) {
	case core.AuthOK:
		if err := v.store.Put(ctx, r.Session); err != nil {
			v.logger.Error(err, "Failed to persist new session", "kind", core.KindOf(err))
		}
		v.logger.Info("Authenticated against provider", "owner", r.Session.Owner, "expiresAt", r.Session.ExpiresAt)
		return validFrom(r.Session)
	case core.AuthErr:
		err := core.Errorf(core.KindAuthentication, "authenticate", "provider rejected login (status %d): %s", r.Status, r.Cause)
		v.logger.Error(err, "Authentication rejected", "kind", core.KindAuthentication, "status", r.Status)
		return invalid(err)
	default:
		err := core.Errorf(core.KindAPI, "authenticate", "unexpected result %T", res)
		v.logger.Error(err, "Authentication returned an unknown result", "kind", core.KindAPI)
		return invalid(err)
	}
}

// Require converts an invalid verdict into an error carrying its kind.
func (r Result) Require() error {
	if r.Valid {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return ErrNoSession
}
