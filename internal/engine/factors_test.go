package engine

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"parcmarket/internal/domain"
)

func newTestFactorSet(store domain.SignalStore, seed int64) *factorSet {
	rng := rand.New(rand.NewSource(seed))
	return newFactorSet(store, NewStateMachine(rng, time.Now()), rng, 100_000_000)
}

func TestFactors_LowPriceBias(t *testing.T) {
	f := newTestFactorSet(&fakeStore{}, 1)

	if got := f.lowPriceBias(5.0); got != 1.0 {
		t.Errorf("bias above 1.0 = %v, want neutral", got)
	}
	// At and below one unit the bias caps at +5%.
	if got := f.lowPriceBias(1.0); got != 1.05 {
		t.Errorf("bias at 1.0 = %v, want 1.05", got)
	}
	if got := f.lowPriceBias(0.07); got != 1.05 {
		t.Errorf("bias at 0.07 = %v, want capped 1.05", got)
	}
}

func TestFactors_RSIAllGainsIsBullish(t *testing.T) {
	store := &fakeStore{}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		store.points = append(store.points, domain.PricePoint{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Price:     1.0 + float64(i)*0.01,
		})
	}
	f := newTestFactorSet(store, 2)

	if got := f.rsi(); got != 1.02 {
		t.Errorf("rsi on all-gains series = %v, want 1.02", got)
	}
	if got := f.momentum(); got != 1.01 {
		t.Errorf("momentum on rising series = %v, want 1.01", got)
	}
}

func TestFactors_RSIShortSeriesNeutral(t *testing.T) {
	store := &fakeStore{points: []domain.PricePoint{{Price: 1.0}, {Price: 1.1}}}
	f := newTestFactorSet(store, 3)
	if got := f.rsi(); got != 1.0 {
		t.Errorf("rsi with 2 samples = %v, want neutral", got)
	}
}

func TestFactors_PsychologyWithinClamp(t *testing.T) {
	f := newTestFactorSet(&fakeStore{}, 4)
	now := time.Now()
	for i := 0; i < 50; i++ {
		got := f.psychology(now.Add(time.Duration(i)*time.Minute), domain.Exclusions{})
		p := f.states.params()
		if got < 1.0-p.maxChange-1e-9 || got > 1.0+p.maxChange+1e-9 {
			t.Fatalf("psychology %v escaped clamp ±%v in state %q", got, p.maxChange, f.states.State())
		}
	}
}

func TestFactors_QuietMarketSignals(t *testing.T) {
	f := newTestFactorSet(&fakeStore{}, 5)
	now := time.Now()
	excl := domain.Exclusions{}

	if got := f.inactivityPenalty(now, excl); got != 0.985 {
		t.Errorf("inactivity with zero trades = %v, want 0.985", got)
	}
	if got := f.transactionEffect(now, excl); got != 0.99 {
		t.Errorf("transaction effect with zero trades = %v, want 0.99", got)
	}
	if got := f.holdingEffect(now, excl); got != 0.998 {
		t.Errorf("holding effect with zero trades = %v, want 0.998", got)
	}
	if got := f.tradingVolume(now, excl); got != 1.0 {
		t.Errorf("volume factor with zero volume = %v, want 1.0", got)
	}
	if got := f.largeTradeImpact(now); got != 1.0 {
		t.Errorf("large trade impact with no trades = %v, want 1.0", got)
	}
}

func TestFactors_FailingStoreIsNeutral(t *testing.T) {
	f := newTestFactorSet(&fakeStore{failReads: true}, 6)
	now := time.Now()
	excl := domain.Exclusions{}

	checks := map[string]float64{
		"depth":       f.marketDepth(),
		"sr":          f.supportResistance(now, 1.0),
		"rsi":         f.rsi(),
		"momentum":    f.momentum(),
		"volatility":  f.volatilityIndex(),
		"holding":     f.holdingEffect(now, excl),
		"transaction": f.transactionEffect(now, excl),
		"inactivity":  f.inactivityPenalty(now, excl),
	}
	for name, got := range checks {
		if got != 1.0 {
			t.Errorf("%s with failing store = %v, want neutral 1.0", name, got)
		}
	}
}

func TestFactors_MarketDepthThinBook(t *testing.T) {
	f := newTestFactorSet(&fakeStore{}, 7)
	// Empty book: maximum thinness, +0.2%.
	if got := f.marketDepth(); math.Abs(got-1.002) > 1e-12 {
		t.Errorf("empty book depth factor = %v, want 1.002", got)
	}
}
