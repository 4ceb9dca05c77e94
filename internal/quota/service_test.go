package quota

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/chatbot/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	mgr    *Manager
	usage  *MemoryUsageStore
	config *RedisConfigStore
	clock  *fakeClock
	mr     *miniredis.Miniredis
}

func setupManager(t *testing.T, cfg config.QuotaConfig) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &testEnv{
		usage:  NewMemoryUsageStore(),
		config: NewRedisConfigStore(rdb),
		clock:  &fakeClock{t: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		mr:     mr,
	}
	env.mgr = NewManager(cfg, env.config, env.usage)
	env.mgr.now = env.clock.Now
	return env
}

func (e *testEnv) usedTokens(t *testing.T) string {
	t.Helper()
	v, _, err := e.config.Get(context.Background(), KeyUsedTokens)
	require.NoError(t, err)
	return v
}

func TestQuotaExceeded_NoRecord(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{UserHourlyTokens: 10, UserHourlyQueries: 1})

	deadline, err := env.mgr.QuotaExceeded(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())
}

func TestQuotaExceeded_TokensScenario(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{UserHourlyTokens: 100})
	ctx := context.Background()
	wantEnd := env.clock.Now().Add(time.Hour)

	// 40 -> 80 stays under the 100 token ceiling
	for i := 0; i < 2; i++ {
		_, err := env.mgr.IncreaseUsage(ctx, "u1", 40)
		require.NoError(t, err)

		deadline, err := env.mgr.QuotaExceeded(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, deadline.IsZero(), "call %d should not exceed", i+1)
	}

	// 120 >= 100
	_, err := env.mgr.IncreaseUsage(ctx, "u1", 40)
	require.NoError(t, err)

	deadline, err := env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, wantEnd.Unix(), deadline.Unix())
}

func TestQuotaExceeded_QueriesQuota(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{UserHourlyQueries: 2})
	ctx := context.Background()

	_, err := env.mgr.IncreaseUsage(ctx, "u1", 0)
	require.NoError(t, err)
	deadline, err := env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())

	_, err = env.mgr.IncreaseUsage(ctx, "u1", 0)
	require.NoError(t, err)
	deadline, err = env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, deadline.IsZero())
}

func TestQuotaExceeded_ZeroQuotaMeansUnlimited(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := env.mgr.IncreaseUsage(ctx, "u1", 1_000_000)
		require.NoError(t, err)
	}

	deadline, err := env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())
}

func TestQuotaExceeded_OnlyEnabledDimensionCounts(t *testing.T) {
	// queries disabled, tokens enabled: many cheap queries never trip the limit
	env := setupManager(t, config.QuotaConfig{UserHourlyTokens: 1000})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := env.mgr.IncreaseUsage(ctx, "u1", 1)
		require.NoError(t, err)
	}

	deadline, err := env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())
}

func TestIncreaseUsage_SumsTokensAndCountsQueries(t *testing.T) {
	tests := []struct {
		name   string
		tokens []int64
	}{
		{name: "single", tokens: []int64{7}},
		{name: "several", tokens: []int64{10, 20, 30}},
		{name: "with zeros", tokens: []int64{0, 5, 0, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupManager(t, config.QuotaConfig{})
			ctx := context.Background()

			var sum int64
			for _, n := range tt.tokens {
				_, err := env.mgr.IncreaseUsage(ctx, "u1", n)
				require.NoError(t, err)
				sum += n
			}

			rec, err := env.usage.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, sum, rec.Tokens)
			assert.Equal(t, int64(len(tt.tokens)), rec.Queries)
			assert.Equal(t, strconv.FormatInt(sum, 10), env.usedTokens(t))
		})
	}
}

func TestIncreaseUsage_RejectsNegativeTokens(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})

	_, err := env.mgr.IncreaseUsage(context.Background(), "u1", -1)
	assert.Error(t, err)
	assert.Equal(t, 0, env.usage.Len())
}

func TestIncreaseUsage_ConcurrentSameUser(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.mgr.IncreaseUsage(ctx, "u1", 10); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := env.usage.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), rec.Tokens)
	assert.Equal(t, int64(50), rec.Queries)
	assert.Equal(t, "500", env.usedTokens(t))
}

func TestQuotaExceeded_ExpiredRecordTreatedAsAbsent(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{UserHourlyTokens: 10})
	ctx := context.Background()

	_, err := env.mgr.IncreaseUsage(ctx, "u1", 50)
	require.NoError(t, err)
	deadline, err := env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	require.False(t, deadline.IsZero())

	// Window closes; the record is still physically present until a sweep.
	env.clock.Advance(time.Hour)
	assert.Equal(t, 1, env.usage.Len())

	deadline, err = env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())

	require.NoError(t, env.mgr.Sweep(ctx))
	assert.Equal(t, 0, env.usage.Len())

	deadline, err = env.mgr.QuotaExceeded(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deadline.IsZero())
}

func TestIncreaseUsage_AfterExpiryStartsFreshWindow(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()

	_, err := env.mgr.IncreaseUsage(ctx, "u1", 50)
	require.NoError(t, err)

	env.clock.Advance(90 * time.Minute)

	rec, err := env.mgr.IncreaseUsage(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Tokens)
	assert.Equal(t, int64(1), rec.Queries)
	assert.Equal(t, env.clock.Now().Add(time.Hour).Unix(), rec.EndsAt.Unix())
}

func TestGlobalQuotaExceeded(t *testing.T) {
	ctx := context.Background()

	t.Run("zero quota never exceeded", func(t *testing.T) {
		env := setupManager(t, config.QuotaConfig{})
		require.NoError(t, env.config.Set(ctx, KeyUsedTokens, "999999999"))

		exceeded, err := env.mgr.GlobalQuotaExceeded(ctx)
		require.NoError(t, err)
		assert.False(t, exceeded)
	})

	t.Run("exceeded at the ceiling", func(t *testing.T) {
		env := setupManager(t, config.QuotaConfig{GlobalMonthlyTokens: 100})

		_, err := env.mgr.IncreaseUsage(ctx, "u1", 99)
		require.NoError(t, err)
		exceeded, err := env.mgr.GlobalQuotaExceeded(ctx)
		require.NoError(t, err)
		assert.False(t, exceeded)

		_, err = env.mgr.IncreaseUsage(ctx, "u2", 1)
		require.NoError(t, err)
		exceeded, err = env.mgr.GlobalQuotaExceeded(ctx)
		require.NoError(t, err)
		assert.True(t, exceeded)
	})

	t.Run("corrupt counter is an error", func(t *testing.T) {
		env := setupManager(t, config.QuotaConfig{GlobalMonthlyTokens: 100})
		require.NoError(t, env.config.Set(ctx, KeyUsedTokens, "lots"))

		_, err := env.mgr.GlobalQuotaExceeded(ctx)
		assert.Error(t, err)
	})
}

func TestGlobalCooldown(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()

	next, err := env.mgr.GlobalCooldown(ctx)
	require.NoError(t, err)
	assert.True(t, next.IsZero(), "unset next_month reads as zero")

	require.NoError(t, env.mgr.Sweep(ctx))

	next, err = env.mgr.GlobalCooldown(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Unix(), next.Unix())
}

func TestSweep_RollsOverAtMonthBoundary(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{GlobalMonthlyTokens: 1000})
	ctx := context.Background()

	require.NoError(t, env.mgr.Sweep(ctx))
	_, err := env.mgr.IncreaseUsage(ctx, "u1", 1000)
	require.NoError(t, err)

	// Still January: nothing resets.
	env.clock.Advance(24 * time.Hour)
	require.NoError(t, env.mgr.Sweep(ctx))
	assert.Equal(t, "1000", env.usedTokens(t))
	exceeded, err := env.mgr.GlobalQuotaExceeded(ctx)
	require.NoError(t, err)
	assert.True(t, exceeded)

	// Cross into February.
	env.clock.t = time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)
	require.NoError(t, env.mgr.Sweep(ctx))
	assert.Equal(t, "0", env.usedTokens(t))

	next, err := env.mgr.GlobalCooldown(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix(), next.Unix())

	exceeded, err = env.mgr.GlobalQuotaExceeded(ctx)
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestRateLimit(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()

	assert.False(t, env.mgr.IsRateLimited())

	env.mgr.SetRateLimit(60 * time.Second)
	assert.True(t, env.mgr.IsRateLimited())
	assert.Equal(t, env.clock.Now().Add(time.Minute).UnixMilli(), env.mgr.RateLimitedUntil().UnixMilli())

	env.clock.Advance(61 * time.Second)
	require.NoError(t, env.mgr.Sweep(ctx))
	assert.False(t, env.mgr.IsRateLimited())
	assert.True(t, env.mgr.RateLimitedUntil().IsZero(), "sweep clears the expired window")
}

func TestSetRateLimit_ReplacesWindow(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})

	env.mgr.SetRateLimit(10 * time.Minute)
	env.mgr.SetRateLimit(30 * time.Second)

	env.clock.Advance(31 * time.Second)
	assert.False(t, env.mgr.IsRateLimited(), "a new window replaces the old one, it does not extend it")
}

// gatedConfigStore blocks the first read of used_tokens until released and
// records whether the monthly reset has been written.
type gatedConfigStore struct {
	ConfigStore
	once         sync.Once
	entered      chan struct{}
	release      chan struct{}
	resetWritten atomic.Bool
}

func (g *gatedConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := g.ConfigStore.Get(ctx, key)
	if key == KeyUsedTokens {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return v, ok, err
}

func (g *gatedConfigStore) Set(ctx context.Context, key, value string) error {
	if key == KeyUsedTokens && value == "0" {
		g.resetWritten.Store(true)
	}
	return g.ConfigStore.Set(ctx, key, value)
}

func TestSweep_ResetWaitsForInFlightIncrease(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()
	require.NoError(t, env.config.Set(ctx, KeyUsedTokens, "100"))

	gated := &gatedConfigStore{
		ConfigStore: env.config,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	env.mgr.config = gated

	increaseDone := make(chan error, 1)
	go func() {
		_, err := env.mgr.IncreaseUsage(ctx, "u1", 10)
		increaseDone <- err
	}()
	<-gated.entered

	sweepDone := make(chan error, 1)
	go func() { sweepDone <- env.mgr.Sweep(ctx) }()

	// The increase holds the lock between its read and its write.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, gated.resetWritten.Load(), "reset must not interleave with an increase")

	close(gated.release)
	require.NoError(t, <-increaseDone)
	require.NoError(t, <-sweepDone)

	// Increase wrote 110, then the reset zeroed it.
	assert.Equal(t, "0", env.usedTokens(t))
}

func TestRun_StopsOnCancel(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	env.mgr.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.mgr.Run(ctx) }()

	require.Eventually(t, func() bool {
		next, err := env.mgr.GlobalCooldown(context.Background())
		return err == nil && !next.IsZero()
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cooldown loop did not stop")
	}
}

type failingConfigStore struct{}

func (failingConfigStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("config store down")
}

func (failingConfigStore) Set(context.Context, string, string) error {
	return errors.New("config store down")
}

func TestSweep_PurgesEvenWhenRolloverFails(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	ctx := context.Background()

	_, err := env.usage.Increment(ctx, "u1", 10, env.clock.Now(), NextHour(env.clock.Now()))
	require.NoError(t, err)
	env.clock.Advance(2 * time.Hour)

	env.mgr.config = failingConfigStore{}
	err = env.mgr.Sweep(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, env.usage.Len())
}

func TestIncreaseUsage_GlobalStoreFailure(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	env.mgr.config = failingConfigStore{}

	_, err := env.mgr.IncreaseUsage(context.Background(), "u1", 10)
	assert.Error(t, err)
}

type failingIncrementStore struct {
	*MemoryUsageStore
}

func (failingIncrementStore) Increment(context.Context, string, int64, time.Time, time.Time) (*UsageRecord, error) {
	return nil, errors.New("usage store down")
}

func TestIncreaseUsage_UserStoreFailureKeepsGlobalCharge(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{GlobalMonthlyTokens: 5000})
	ctx := context.Background()
	env.mgr.usage = failingIncrementStore{env.usage}

	_, err := env.mgr.IncreaseUsage(ctx, "u1", 10)
	require.Error(t, err)

	status, err := env.mgr.GlobalStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.UsedTokens)
	assert.Equal(t, 0, env.usage.Len())
}

func TestUserStatus(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{UserHourlyTokens: 100, UserHourlyQueries: 5})
	ctx := context.Background()

	status, err := env.mgr.UserStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Tokens)
	assert.Nil(t, status.EndsAt)

	_, err = env.mgr.IncreaseUsage(ctx, "u1", 120)
	require.NoError(t, err)

	status, err = env.mgr.UserStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), status.Tokens)
	assert.Equal(t, int64(1), status.Queries)
	assert.Equal(t, int64(100), status.TokensLimit)
	assert.True(t, status.Exceeded)
	require.NotNil(t, status.EndsAt)

	require.NoError(t, env.mgr.ResetUser(ctx, "u1"))
	status, err = env.mgr.UserStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Exceeded)
	assert.Nil(t, status.EndsAt)
}

func TestGlobalStatus(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{GlobalMonthlyTokens: 5000})
	ctx := context.Background()

	require.NoError(t, env.mgr.Sweep(ctx))
	_, err := env.mgr.IncreaseUsage(ctx, "u1", 42)
	require.NoError(t, err)
	env.mgr.SetRateLimit(time.Minute)

	status, err := env.mgr.GlobalStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), status.UsedTokens)
	assert.Equal(t, int64(5000), status.MonthlyQuota)
	require.NotNil(t, status.NextReset)
	assert.True(t, status.RateLimited)
	require.NotNil(t, status.RateLimitedUntil)
}

func TestPing(t *testing.T) {
	env := setupManager(t, config.QuotaConfig{})
	require.NoError(t, env.mgr.Ping(context.Background()))

	env.mr.Close()
	assert.Error(t, env.mgr.Ping(context.Background()))
}
