package farecalc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommend_RequiresDistanceWhenCoordsMissing(t *testing.T) {
	_, err := Recommend(Request{})
	require.Error(t, err)
}

func TestRecommend_UsesProvidedDistance(t *testing.T) {
	distance := 5.0
	morning := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	resp, err := Recommend(Request{
		DistanceKM:  &distance,
		RequestTime: morning,
		Incentives:  IncentiveMetrics{DemandIndex: 1.0, SupplyIndex: 1.0, WeatherSeverity: 0.0},
	})
	require.NoError(t, err)

	assert.Equal(t, DistanceSourceInput, resp.Breakdown.DistanceSource)
	assert.True(t, resp.BaseFare.GreaterThanOrEqual(decimal.NewFromFloat(MinBaseFare)))
	assert.True(t, resp.BaseFare.LessThanOrEqual(decimal.NewFromFloat(MaxBaseFare)))
	assert.True(t, resp.MaxBidLimit.Equal(resp.BaseFare.Mul(decimal.NewFromFloat(1.5)).RoundBank(2)))
	assert.GreaterOrEqual(t, resp.ETAEstimateMinutes, 10)
}

func TestRecommend_Idempotent(t *testing.T) {
	distance := 7.3
	ts := time.Date(2026, 3, 4, 19, 30, 0, 0, time.UTC)
	req := Request{
		DistanceKM:  &distance,
		RequestTime: ts,
		Incentives:  IncentiveMetrics{DemandIndex: 1.4, SupplyIndex: 0.8, WeatherSeverity: 0.3},
	}

	first, err := Recommend(req)
	require.NoError(t, err)
	second, err := Recommend(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHaversineKM_Symmetric(t *testing.T) {
	d1 := HaversineKM(42.3601, -71.0942, 42.3736, -71.1097)
	d2 := HaversineKM(42.3736, -71.1097, 42.3601, -71.0942)

	assert.InDelta(t, d1, d2, 1e-9)
}

func TestGetBidWindow(t *testing.T) {
	min, max := GetBidWindow(decimal.NewFromFloat(10.00))
	assert.True(t, min.Equal(decimal.NewFromFloat(10.00)))
	assert.True(t, max.Equal(decimal.NewFromFloat(15.00)))
}

func TestRecommend_PeakHourIncreasesFare(t *testing.T) {
	distance := 10.0
	offPeak, err := Recommend(Request{
		DistanceKM:  &distance,
		RequestTime: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	peak, err := Recommend(Request{
		DistanceKM:  &distance,
		RequestTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.True(t, peak.BaseFare.GreaterThan(offPeak.BaseFare))
}
