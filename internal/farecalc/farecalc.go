// Package farecalc implements the pure fare/bid-window calculation described
// in spec.md §4.1, grounded on
// original_source/localbite-backend/app/services/base_fare.py and
// .../services/distance.py.
package farecalc

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/money"
)

const (
	BasePickupFee = 2.25
	PerKMRate     = 0.95
	MinBaseFare   = 3.25
	MaxBaseFare   = 35.00

	PricingVersion = "v1"
)

// DistanceSource records whether the caller supplied the distance directly
// or it was derived from coordinates.
type DistanceSource string

const (
	DistanceSourceInput     DistanceSource = "input_distance"
	DistanceSourceHaversine DistanceSource = "haversine"
)

// LatLon is a coordinate pair; both fields nil-able via pointer use at the
// call site (see Request.RestaurantLocation/UserLocation).
type LatLon struct {
	Latitude  float64
	Longitude float64
}

// IncentiveMetrics captures the live marketplace pressure inputs.
type IncentiveMetrics struct {
	DemandIndex     float64 // [0.5, 2.0], default 1.0
	SupplyIndex     float64 // [0.5, 2.0], default 1.0
	WeatherSeverity float64 // [0, 1], default 0.0
}

// Request is the fare-recommendation input (spec §4.1, §6).
type Request struct {
	RestaurantLocation *LatLon
	UserLocation       *LatLon
	DistanceKM         *float64
	RequestTime        time.Time // zero value means "use time.Now()"
	Incentives         IncentiveMetrics
}

// Breakdown is the itemized pricing explanation returned alongside the fare.
type Breakdown struct {
	DistanceKM          float64
	BasePickupFee       float64
	DistanceComponent   float64
	TimeMultiplier      float64
	PeakMultiplier      float64
	IncentiveMultiplier float64
	PricingVersion      string
	DistanceSource      DistanceSource
}

// Response is the fare-recommendation output.
type Response struct {
	BaseFare           decimal.Decimal `json:"base_fare"`
	MaxBidLimit        decimal.Decimal `json:"max_bid_limit"`
	ETAEstimateMinutes int             `json:"eta_estimate_minutes"`
	Breakdown          Breakdown       `json:"breakdown"`
}

// Recommend computes the fare recommendation for req. It returns an
// apperr.BadRequest error when distance cannot be resolved because neither
// distance_km nor both coordinate pairs were supplied (spec §4.1, §6).
func Recommend(req Request) (Response, error) {
	distanceKM, source, err := resolveDistanceKM(req)
	if err != nil {
		return Response{}, err
	}

	requestTime := req.RequestTime
	if requestTime.IsZero() {
		requestTime = time.Now()
	}
	hour := requestTime.Hour()

	timeMult := timeOfDayMultiplier(hour)
	peakMult := peakHourMultiplier(hour)
	incentiveMult := incentiveMultiplier(req.Incentives)

	distanceComponent := distanceKM * PerKMRate
	raw := (BasePickupFee + distanceComponent) * timeMult * peakMult * incentiveMult

	baseFareFloat := clamp(raw, MinBaseFare, MaxBaseFare)
	baseFare := money.Round(decimal.NewFromFloat(baseFareFloat))

	etaMinutes := estimateETAMinutes(distanceKM, peakMult, req.Incentives.WeatherSeverity)

	minFare, maxFare := GetBidWindow(baseFare)

	return Response{
		BaseFare:           minFare,
		MaxBidLimit:        maxFare,
		ETAEstimateMinutes: etaMinutes,
		Breakdown: Breakdown{
			DistanceKM:          round2(distanceKM),
			BasePickupFee:       BasePickupFee,
			DistanceComponent:   round2(distanceComponent),
			TimeMultiplier:      timeMult,
			PeakMultiplier:      peakMult,
			IncentiveMultiplier: incentiveMult,
			PricingVersion:      PricingVersion,
			DistanceSource:      source,
		},
	}, nil
}

// GetBidWindow returns the legal bid range for a given base fare:
// [base_fare, round(1.5 * base_fare, 2)].
func GetBidWindow(baseFare decimal.Decimal) (min, max decimal.Decimal) {
	min = money.Round(baseFare)
	max = money.Round(min.Mul(decimal.NewFromFloat(1.5)))
	return min, max
}

func resolveDistanceKM(req Request) (float64, DistanceSource, error) {
	if req.DistanceKM != nil {
		return *req.DistanceKM, DistanceSourceInput, nil
	}

	if req.RestaurantLocation == nil || req.UserLocation == nil {
		return 0, "", apperr.BadRequest(
			"distance_km is required when latitude/longitude is missing for restaurant or user location")
	}

	return HaversineKM(
		req.RestaurantLocation.Latitude, req.RestaurantLocation.Longitude,
		req.UserLocation.Latitude, req.UserLocation.Longitude,
	), DistanceSourceHaversine, nil
}

// HaversineKM returns the great-circle distance between two coordinates in
// kilometers. Symmetric in its two endpoints (spec §8).
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0

	lat1R := radians(lat1)
	lon1R := radians(lon1)
	lat2R := radians(lat2)
	lon2R := radians(lon2)

	dLat := lat2R - lat1R
	dLon := lon2R - lon1R

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1R)*math.Cos(lat2R)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func timeOfDayMultiplier(hour int) float64 {
	switch {
	case hour >= 0 && hour < 6:
		return 1.12
	case hour >= 6 && hour < 11:
		return 1.00
	case hour >= 11 && hour < 14:
		return 1.08
	case hour >= 14 && hour < 17:
		return 0.97
	case hour >= 17 && hour < 22:
		return 1.12
	default:
		return 1.05
	}
}

func peakHourMultiplier(hour int) float64 {
	if (hour >= 11 && hour < 14) || (hour >= 18 && hour < 22) {
		return 1.12
	}
	return 1.00
}

func incentiveMultiplier(m IncentiveMetrics) float64 {
	demand := m.DemandIndex
	if demand == 0 {
		demand = 1.0
	}
	supply := m.SupplyIndex
	if supply == 0 {
		supply = 1.0
	}
	if supply < 0.1 {
		supply = 0.1
	}
	demandSupplyRatio := demand / supply
	pressure := clamp((demandSupplyRatio-1.0)*0.25, -0.20, 0.40)
	weather := m.WeatherSeverity * 0.15
	return round3(clamp(1.0+pressure+weather, 0.80, 1.60))
}

func estimateETAMinutes(distanceKM, peakMultiplier, weatherSeverity float64) int {
	const baseSpeedKMPH = 28.0
	peakPenalty := 1.0
	if peakMultiplier > 1.0 {
		peakPenalty = 0.90
	}
	weatherPenalty := 1.0 - (0.25 * weatherSeverity)
	effectiveSpeed := math.Max(8.0, baseSpeedKMPH*peakPenalty*weatherPenalty)

	travelMinutes := (distanceKM / effectiveSpeed) * 60
	const dispatchBufferMinutes = 8
	eta := int(math.Ceil(travelMinutes + dispatchBufferMinutes))
	if eta < 10 {
		return 10
	}
	return eta
}

func clamp(value, minimum, maximum float64) float64 {
	return math.Max(minimum, math.Min(maximum, value))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// round3 rounds half-to-even to 3 decimal places, matching the
// incentive-multiplier rounding in original_source's
// _incentive_multiplier (Python's round(), which is banker's rounding).
func round3(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).RoundBank(3).Float64()
	return f
}
