package domain

import (
	"math"
	"time"
)

// MarketState is the coarse market regime driving factor weighting.
type MarketState string

const (
	StateNormal   MarketState = "normal"
	StateBullish  MarketState = "bullish"
	StateBearish  MarketState = "bearish"
	StateVolatile MarketState = "volatile"
)

// Valid reports whether s is one of the four known states.
func (s MarketState) Valid() bool {
	switch s {
	case StateNormal, StateBullish, StateBearish, StateVolatile:
		return true
	}
	return false
}

// PriceBand is the tradable range derived from the base price.
// Min and Max are always base*0.9 and base*1.1 by construction.
type PriceBand struct {
	Base float64 `json:"base"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// NewPriceBand recomputes the band around a freshly calculated base price.
func NewPriceBand(base float64) PriceBand {
	return PriceBand{
		Base: base,
		Min:  round2(base * 0.9),
		Max:  round2(base * 1.1),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Quote is the display-oriented snapshot served to front-ends: the live
// interpolated tick plus the authoritative band it moves within.
type Quote struct {
	Current   float64   `json:"current"`
	Base      float64   `json:"base"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	ChangePct float64   `json:"change_pct"`
	At        time.Time `json:"at"`
}

// RoundPrice applies the tiered display rounding: whole units above 1000,
// one decimal above 100, two decimals below that.
func RoundPrice(p float64) float64 {
	switch {
	case p >= 1000:
		return math.Round(p)
	case p >= 100:
		return math.Round(p*10) / 10
	default:
		return round2(p)
	}
}
