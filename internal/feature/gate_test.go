package feature

import (
	"context"
	"errors"
	"testing"
	"time"

	"entitlement-server/internal/abuse"
	"entitlement-server/internal/apperror"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/model"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *quartz.Mock) {
	t.Helper()
	mClock := quartz.NewMock(t)
	validator := entitlement.NewValidator(nil, mClock, zerolog.Nop(), nil)
	detector := abuse.NewDetector(mClock, abuse.DefaultWindow, abuse.DefaultLimit, zerolog.Nop(), nil)
	return NewGate(DefaultTable(), validator, detector, mClock, DefaultFreshnessWindow, nil), mClock
}

func activeEntitlement(clock quartz.Clock, tier model.Tier) *model.Entitlement {
	now := clock.Now()
	return &model.Entitlement{
		AccountID:  1,
		Tier:       tier,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(30 * 24 * time.Hour),
		Active:     true,
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		tier     model.Tier
		feature  string
		skew     time.Duration
		expired  bool
		wantKind apperror.Kind
	}{
		{name: "allowed", tier: model.TierPremium, feature: AdjustPriceAndStock},
		{name: "enterprise_dominates", tier: model.TierEnterprise, feature: AdjustPriceAndStock},
		{name: "free_feature_for_free", tier: model.TierFree, feature: OptimizeTitle},
		{name: "unknown_feature", tier: model.TierEnterprise, feature: "mineBitcoin", wantKind: apperror.KindUnknownFeature},
		{name: "insufficient_tier", tier: model.TierBasic, feature: AdjustPriceAndStock, wantKind: apperror.KindInsufficientTier},
		{name: "free_never_basic", tier: model.TierFree, feature: MapVariants, wantKind: apperror.KindInsufficientTier},
		{name: "stale_past", tier: model.TierPremium, feature: AdjustPriceAndStock, skew: -61 * time.Second, wantKind: apperror.KindStaleRequest},
		{name: "stale_future", tier: model.TierPremium, feature: AdjustPriceAndStock, skew: 61 * time.Second, wantKind: apperror.KindStaleRequest},
		{name: "edge_of_window", tier: model.TierPremium, feature: AdjustPriceAndStock, skew: -60 * time.Second},
		{name: "expired_entitlement", tier: model.TierPremium, feature: AdjustPriceAndStock, expired: true, wantKind: apperror.KindEntitlementExpiredOrMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mClock := newTestGate(t)
			e := activeEntitlement(mClock, tt.tier)
			if tt.expired {
				e.Active = false
			}

			err := g.Authorize(Request{
				AccountID:   1,
				Feature:     tt.feature,
				Timestamp:   mClock.Now().Add(tt.skew),
				Entitlement: e,
			})
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, apperror.KindOf(err))
		})
	}
}

func TestAuthorizeInsufficientTierDetails(t *testing.T) {
	g, mClock := newTestGate(t)

	err := g.Authorize(Request{
		AccountID:   1,
		Feature:     RunAllSteps,
		Timestamp:   mClock.Now(),
		Entitlement: activeEntitlement(mClock, model.TierBasic),
	})

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "basic", appErr.Current)
	assert.Equal(t, "premium", appErr.Required)
}

func TestAuthorizeRateLimited(t *testing.T) {
	g, mClock := newTestGate(t)
	e := activeEntitlement(mClock, model.TierPremium)

	for i := 0; i < abuse.DefaultLimit; i++ {
		require.NoError(t, g.Authorize(Request{AccountID: 1, Feature: AdjustPriceAndStock, Timestamp: mClock.Now(), Entitlement: e}))
	}

	err := g.Authorize(Request{AccountID: 1, Feature: AdjustPriceAndStock, Timestamp: mClock.Now(), Entitlement: e})
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindRateLimited, appErr.Kind)
	assert.Equal(t, 60, appErr.RetryAfterSeconds)
}

func TestRejectedRequestsDoNotCountTowardsAbuse(t *testing.T) {
	g, mClock := newTestGate(t)
	e := activeEntitlement(mClock, model.TierPremium)

	for i := 0; i < 50; i++ {
		err := g.Authorize(Request{AccountID: 1, Feature: AdjustPriceAndStock, Timestamp: mClock.Now().Add(-time.Hour), Entitlement: e})
		require.True(t, apperror.Is(err, apperror.KindStaleRequest))
	}
	assert.NoError(t, g.Authorize(Request{AccountID: 1, Feature: AdjustPriceAndStock, Timestamp: mClock.Now(), Entitlement: e}))
}

func TestGuard(t *testing.T) {
	g, mClock := newTestGate(t)
	ctx := context.Background()
	e := activeEntitlement(mClock, model.TierPremium)

	result, err := Guard(ctx, g, Request{AccountID: 1, Feature: AdjustPriceAndStock, Timestamp: mClock.Now(), Entitlement: e},
		func(context.Context) (PriceResult, error) {
			return AdjustPrice(PriceInput{Cost: 10}, e.Tier)
		})
	require.NoError(t, err)
	assert.Equal(t, 13.0, result.CalculatedPrice)

	called := false
	_, err = Guard(ctx, g, Request{AccountID: 1, Feature: AdjustPriceAndStock, Timestamp: mClock.Now(), Entitlement: activeEntitlement(mClock, model.TierFree)},
		func(context.Context) (PriceResult, error) {
			called = true
			return PriceResult{}, nil
		})
	assert.True(t, apperror.Is(err, apperror.KindInsufficientTier))
	assert.False(t, called)
}

func TestProbe(t *testing.T) {
	g, mClock := newTestGate(t)

	d, err := g.Probe(activeEntitlement(mClock, model.TierBasic), AdjustPriceAndStock)
	require.NoError(t, err)
	assert.False(t, d.HasPermission)
	assert.Equal(t, model.TierBasic, d.CurrentPlan)
	assert.Equal(t, model.TierPremium, d.RequiredPlan)

	d, err = g.Probe(activeEntitlement(mClock, model.TierBasic), MapVariants)
	require.NoError(t, err)
	assert.True(t, d.HasPermission)

	_, err = g.Probe(activeEntitlement(mClock, model.TierBasic), "nope")
	assert.True(t, apperror.Is(err, apperror.KindUnknownFeature))

	// 探测不计入滥用窗口
	for i := 0; i < 100; i++ {
		_, _ = g.Probe(activeEntitlement(mClock, model.TierPremium), AdjustPriceAndStock)
	}
	assert.Zero(t, g.detector.Len())
}

func TestNewTableOverrides(t *testing.T) {
	table, err := NewTable(map[string]string{
		"optimizetitle": "basic",
		"exportCsv":     "enterprise",
	})
	require.NoError(t, err)

	tier, ok := table.Required(OptimizeTitle)
	require.True(t, ok)
	assert.Equal(t, model.TierBasic, tier)

	tier, ok = table.Required("exportCsv")
	require.True(t, ok)
	assert.Equal(t, model.TierEnterprise, tier)

	_, ok = table.Required("optimizetitle")
	assert.False(t, ok)

	_, err = NewTable(map[string]string{"x": "gold"})
	assert.Error(t, err)

	assert.Len(t, DefaultTable().Features(), 13)
}

func TestAdjustPrice(t *testing.T) {
	tests := []struct {
		name  string
		in    PriceInput
		tier  model.Tier
		price float64
		final float64
	}{
		{"basic_markup", PriceInput{Cost: 10}, model.TierBasic, 15, 15},
		{"premium_markup", PriceInput{Cost: 10}, model.TierPremium, 13, 13},
		{"discount", PriceInput{Cost: 10, Discount: 10}, model.TierBasic, 15, 13.5},
		{"round_up_cents", PriceInput{Cost: 9.99}, model.TierBasic, 14.99, 14.99},
		{"round_up_discount", PriceInput{Cost: 1, Discount: 33}, model.TierBasic, 1.5, 1.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdjustPrice(tt.in, tt.tier)
			require.NoError(t, err)
			assert.InDelta(t, tt.price, got.CalculatedPrice, 1e-9)
			assert.InDelta(t, tt.final, got.FinalPrice, 1e-9)
		})
	}

	_, err := AdjustPrice(PriceInput{Cost: -1}, model.TierBasic)
	assert.ErrorIs(t, err, ErrInvalidPriceInput)
	_, err = AdjustPrice(PriceInput{Cost: 1, Discount: 120}, model.TierBasic)
	assert.ErrorIs(t, err, ErrInvalidPriceInput)
}
