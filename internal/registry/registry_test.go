package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskengine/internal/models"
	"riskengine/internal/risk"
	"riskengine/pkg/utils"
)

type countingStore struct {
	*MemoryStore
	gets int
	err  error
}

func (s *countingStore) GetActiveRuleSet(ctx context.Context, group string) (*models.RuleSetConfig, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	return s.MemoryStore.GetActiveRuleSet(ctx, group)
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *countingStore) {
	t.Helper()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	opts = append([]Option{WithLogger(utils.NewNopLogger())}, opts...)
	return New(store, opts...), store
}

func TestRegistry_PublishCreatesVersions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	cfg := models.DefaultRuleSet("lite")
	v1, err := reg.Publish(ctx, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	cfg.MaxDailyLossPercent = 4
	v2, err := reg.Publish(ctx, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	active, err := reg.Active(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 4.0, active.MaxDailyLossPercent)

	old, err := reg.Version(ctx, "lite", 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, old.MaxDailyLossPercent, "published versions are never mutated")
	assert.False(t, old.Active)

	versions, err := reg.List(ctx, "lite")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
}

func TestRegistry_ActiveReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	cfg := models.DefaultRuleSet("lite")
	_, err := reg.Publish(ctx, &cfg)
	require.NoError(t, err)

	a, err := reg.Active(ctx, "lite")
	require.NoError(t, err)
	a.MaxDrawdownPercent = 99

	b, err := reg.Active(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 10.0, b.MaxDrawdownPercent)
}

func TestRegistry_CacheTTL(t *testing.T) {
	now := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	reg, store := newTestRegistry(t, WithCacheTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	cfg := models.DefaultRuleSet("lite")
	_, err := reg.Publish(ctx, &cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := reg.Active(ctx, "lite")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.gets)

	now = now.Add(time.Minute)
	_, err = reg.Active(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 2, store.gets, "expired entry is reloaded")

	_, err = reg.Publish(ctx, &cfg)
	require.NoError(t, err)
	active, err := reg.Active(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version, "publish invalidates the cache")
}

func TestRegistry_ErrorClasses(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Active(ctx, "unknown")
	assert.Equal(t, risk.ClassConfiguration, risk.Classify(err))

	store.err = errors.New("connection refused")
	_, err = reg.Active(ctx, "lite")
	assert.Equal(t, risk.ClassTransientIO, risk.Classify(err))
}

func TestRegistry_PublishValidates(t *testing.T) {
	reg, _ := newTestRegistry(t)

	cfg := models.DefaultRuleSet("Bad Group")
	cfg.MaxDailyLossPercent = 150
	cfg.TradingHoursEnabled = true
	cfg.TradingStart = "25:00"

	_, err := reg.Publish(context.Background(), &cfg)
	require.Error(t, err)

	var verrs utils.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "group")
	assert.Contains(t, fields, "max_daily_loss_percent")
	assert.Contains(t, fields, "trading_start")
}

func TestView_PinsVersionForRun(t *testing.T) {
	reg, _ := newTestRegistry(t, WithCacheTTL(0))
	ctx := context.Background()

	cfg := models.DefaultRuleSet("lite")
	_, err := reg.Publish(ctx, &cfg)
	require.NoError(t, err)

	view := reg.Pin()
	first, err := view.RuleSet(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	cfg.MaxDailyLossPercent = 3
	_, err = reg.Publish(ctx, &cfg)
	require.NoError(t, err)

	again, err := view.RuleSet(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Version, "a run keeps the version it started with")
	assert.Equal(t, map[string]string{"lite": "lite@v1"}, view.Pinned())

	fresh, err := reg.Pin().RuleSet(ctx, "lite")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Version)
}
