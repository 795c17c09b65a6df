package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

type memRepo struct {
	mu       sync.Mutex
	sessions []model.Session
}

func (r *memRepo) Latest(ctx context.Context) (*model.Session, error) {
	list, _ := r.List(ctx, 1)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (r *memRepo) List(_ context.Context, limit int) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]model.Session(nil), r.sessions...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Put(_ context.Context, s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sessions {
		if r.sessions[i].CreatedAt.Equal(s.CreatedAt) {
			r.sessions[i] = s
			return nil
		}
	}
	r.sessions = append(r.sessions, s)
	return nil
}

func (r *memRepo) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = nil
	return nil
}

type fakeProvider struct {
	clock *testingclock.FakeClock

	authCalls  atomic.Int32
	probeCalls atomic.Int32

	authGate  chan struct{}
	authErr   error
	rejectLog bool
	probe     func(token string) error
}

func (p *fakeProvider) Authenticate(ctx context.Context, creds model.Credentials) (core.AuthResult, error) {
	p.authCalls.Add(1)
	if p.authGate != nil {
		<-p.authGate
	}
	if p.authErr != nil {
		return nil, p.authErr
	}
	if p.rejectLog {
		return core.AuthErr{Status: 1, Cause: "invalid password"}, nil
	}
	now := p.clock.Now()
	return core.AuthOK{Session: model.Session{
		Token:     "fresh-token",
		Owner:     creds.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}}, nil
}

func (p *fakeProvider) FetchPositions(context.Context, []string, string) (core.FetchResult, error) {
	return core.FetchOK{}, nil
}

func (p *fakeProvider) TestConnectivity(_ context.Context, token string) error {
	p.probeCalls.Add(1)
	if p.probe != nil {
		return p.probe(token)
	}
	return nil
}

func newTestValidator(t *testing.T, p *fakeProvider, stored ...model.Session) (*Validator, *Store) {
	t.Helper()

	repo := &memRepo{sessions: stored}
	store := NewStore(repo)

	cfg := DefaultValidatorConfig(model.Credentials{Username: "fleet", PasswordHash: "hash"})
	cfg.ProbeDelay = time.Millisecond
	cfg.WaitTimeout = time.Second

	return NewValidator(store, p, p.clock, cfg), store
}

func TestEnsureValidSessionAuthenticatesWhenNoSessionStored(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk}
	v, store := newTestValidator(t, p)

	res := v.EnsureValidSession(context.Background())
	require.True(t, res.Valid)
	assert.Equal(t, "fresh-token", res.Token)
	assert.Equal(t, "fleet", res.Owner)
	assert.Equal(t, int32(1), p.authCalls.Load())

	cur, err := store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "fresh-token", cur.Token)
}

func TestEnsureValidSessionServesCachedVerdict(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk}
	v, _ := newTestValidator(t, p)

	require.True(t, v.EnsureValidSession(context.Background()).Valid)
	clk.Step(29 * time.Second)
	require.True(t, v.EnsureValidSession(context.Background()).Valid)
	assert.Equal(t, int32(1), p.authCalls.Load())
	assert.Equal(t, int32(0), p.probeCalls.Load())

	clk.Step(2 * time.Second)
	require.True(t, v.EnsureValidSession(context.Background()).Valid)
	assert.Equal(t, int32(1), p.probeCalls.Load(), "stored session is probed once the cache expires")
	assert.Equal(t, int32(1), p.authCalls.Load())
}

func TestEnsureValidSessionUsesPassingStoredCandidate(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk}
	stored := model.Session{Token: "stored", Owner: "fleet", CreatedAt: clk.Now().Add(-time.Hour), ExpiresAt: clk.Now().Add(time.Hour)}
	v, _ := newTestValidator(t, p, stored)

	res := v.EnsureValidSession(context.Background())
	require.True(t, res.Valid)
	assert.Equal(t, "stored", res.Token)
	assert.Equal(t, int32(0), p.authCalls.Load())
}

func TestEnsureValidSessionSkipsExpiredCandidates(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk}
	expired := model.Session{Token: "old", CreatedAt: clk.Now().Add(-48 * time.Hour), ExpiresAt: clk.Now().Add(-time.Minute)}
	v, _ := newTestValidator(t, p, expired)

	res := v.EnsureValidSession(context.Background())
	require.True(t, res.Valid)
	assert.Equal(t, "fresh-token", res.Token)
	assert.Equal(t, int32(0), p.probeCalls.Load())
}

func TestEnsureValidSessionRetriesProbeThenAuthenticates(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk, probe: func(string) error {
		return core.NewError(core.KindConnectivity, "probe", errors.New("connection reset"))
	}}
	stored := model.Session{Token: "stored", CreatedAt: clk.Now().Add(-time.Hour), ExpiresAt: clk.Now().Add(time.Hour)}
	v, _ := newTestValidator(t, p, stored)

	res := v.EnsureValidSession(context.Background())
	require.True(t, res.Valid)
	assert.Equal(t, "fresh-token", res.Token)
	assert.Equal(t, int32(3), p.probeCalls.Load())
	assert.Equal(t, int32(1), p.authCalls.Load())
}

func TestEnsureValidSessionDoesNotRetryRejectedToken(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk, probe: func(string) error {
		return core.NewError(core.KindAuthentication, "probe", errors.New("token invalid"))
	}}
	stored := model.Session{Token: "stored", CreatedAt: clk.Now().Add(-time.Hour), ExpiresAt: clk.Now().Add(time.Hour)}
	v, _ := newTestValidator(t, p, stored)

	require.True(t, v.EnsureValidSession(context.Background()).Valid)
	assert.Equal(t, int32(1), p.probeCalls.Load())
}

func TestEnsureValidSessionCachesInvalidVerdictBriefly(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk, rejectLog: true}
	v, _ := newTestValidator(t, p)

	res := v.EnsureValidSession(context.Background())
	require.False(t, res.Valid)
	assert.True(t, core.IsKind(res.Err, core.KindAuthentication))
	assert.ErrorIs(t, res.Require(), res.Err)

	clk.Step(4 * time.Second)
	assert.False(t, v.EnsureValidSession(context.Background()).Valid)
	assert.Equal(t, int32(1), p.authCalls.Load())

	clk.Step(2 * time.Second)
	v.EnsureValidSession(context.Background())
	assert.Equal(t, int32(2), p.authCalls.Load())
}

func TestEnsureValidSessionConnectivityFailure(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk, authErr: errors.New("dial tcp: no route to host")}
	v, _ := newTestValidator(t, p)

	res := v.EnsureValidSession(context.Background())
	require.False(t, res.Valid)
	assert.Equal(t, core.KindConnectivity, core.KindOf(res.Err))
}

func TestEnsureValidSessionIgnoresCachedVerdictPastExpiry(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk}
	stored := model.Session{Token: "short", CreatedAt: clk.Now(), ExpiresAt: clk.Now().Add(10 * time.Second)}
	v, _ := newTestValidator(t, p, stored)

	require.Equal(t, "short", v.EnsureValidSession(context.Background()).Token)

	clk.Step(11 * time.Second)
	res := v.EnsureValidSession(context.Background())
	require.True(t, res.Valid)
	assert.Equal(t, "fresh-token", res.Token)
}

func TestEnsureValidSessionSingleFlight(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk, authGate: make(chan struct{})}
	v, _ := newTestValidator(t, p)

	const callers = 10
	results := make(chan Result, callers)
	for range callers {
		go func() { results <- v.EnsureValidSession(context.Background()) }()
	}

	require.Eventually(t, func() bool { return p.authCalls.Load() == 1 }, time.Second, time.Millisecond)
	close(p.authGate)

	for range callers {
		assert.True(t, (<-results).Valid)
	}
	assert.Equal(t, int32(1), p.authCalls.Load())
}

func TestEnsureValidSessionWaitTimeout(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk, authGate: make(chan struct{})}
	v, _ := newTestValidator(t, p)
	v.cfg.WaitTimeout = 20 * time.Millisecond

	res := v.EnsureValidSession(context.Background())
	require.False(t, res.Valid)
	assert.Equal(t, core.KindConnectivity, core.KindOf(res.Err))

	close(p.authGate)
	require.Eventually(t, func() bool {
		r, ok := v.fresh()
		return ok && r.Valid
	}, time.Second, time.Millisecond)
}

func TestForceRevalidationAndClearCache(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	p := &fakeProvider{clock: clk}
	v, _ := newTestValidator(t, p)

	require.True(t, v.EnsureValidSession(context.Background()).Valid)
	v.ForceRevalidation()

	_, ok := v.fresh()
	assert.False(t, ok)
	_, ok = v.last()
	assert.True(t, ok, "forced revalidation keeps the verdict as a fallback")

	require.True(t, v.EnsureValidSession(context.Background()).Valid)
	assert.Equal(t, int32(1), p.probeCalls.Load())

	v.ClearCache()
	_, ok = v.last()
	assert.False(t, ok)
}
