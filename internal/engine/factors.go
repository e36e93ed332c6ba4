package engine

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"parcmarket/internal/domain"
)

// factor is one named multiplicative price influence, centered near 1.0.
type factor struct {
	name  string
	value float64
}

// factorSet evaluates every market signal into a multiplicative factor.
// Each evaluation degrades to neutral 1.0 when its data source errors or
// returns nothing; a missing signal must never fail a pricing cycle.
type factorSet struct {
	store       domain.SignalStore
	states      *StateMachine
	rng         *rand.Rand
	totalSupply float64
}

func newFactorSet(store domain.SignalStore, states *StateMachine, rng *rand.Rand, totalSupply float64) *factorSet {
	return &factorSet{store: store, states: states, rng: rng, totalSupply: totalSupply}
}

func neutralOn(name string, err error) float64 {
	slog.Debug("signal unavailable, factor neutral",
		slog.Any("error", &domain.SignalError{Signal: name, Err: err}))
	return 1.0
}

// marketDepth converts order-book thinness into extra volatility. A thin
// book relative to total supply moves price slightly more.
func (f *factorSet) marketDepth() float64 {
	buy, sell, err := f.store.PendingOrderDepth()
	if err != nil {
		return neutralOn("market_depth", err)
	}
	liquidity := math.Min((buy+sell)/f.totalSupply, 1)
	return 1.0 + (1-liquidity)*0.002
}

// supportResistance finds the densest price cluster of the last 24h with a
// 20-bin histogram: price below the cluster bounces, above it gets pushed.
func (f *factorSet) supportResistance(now time.Time, base float64) float64 {
	prices, err := f.store.PricesSince(now.Add(-24 * time.Hour))
	if err != nil {
		return neutralOn("support_resistance", err)
	}
	if len(prices) < 2 {
		return 1.0
	}

	lo, hi := prices[0], prices[0]
	for _, p := range prices {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	if hi == lo {
		return 1.0
	}

	const bins = 20
	var counts [bins]int
	width := (hi - lo) / bins
	for _, p := range prices {
		i := int((p - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	densest := 0
	for i, c := range counts {
		if c > counts[densest] {
			densest = i
		}
	}
	support := lo + width*float64(densest)
	resistance := support + width

	switch {
	case base < support:
		return 1.005
	case base > resistance:
		return 0.995
	}
	return 1.0
}

// rsi maps a 14-sample relative-strength reading to a small contrarian
// nudge. An all-gains window is the strongest bullish signal.
func (f *factorSet) rsi() float64 {
	prices, err := f.store.LastPrices(14)
	if err != nil {
		return neutralOn("rsi", err)
	}
	if len(prices) < 14 {
		return 1.0
	}

	var gain, loss float64
	for i := 0; i < len(prices)-1; i++ {
		change := prices[i] - prices[i+1]
		if change > 0 {
			gain += change
		} else {
			loss += -change
		}
	}
	n := float64(len(prices) - 1)
	avgGain, avgLoss := gain/n, loss/n
	if avgLoss == 0 {
		return 1.02
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	switch {
	case rsi > 70:
		return 0.998
	case rsi < 30:
		return 1.002
	}
	return 1.0
}

// momentum is the net direction of the last five samples, damped to 1%.
func (f *factorSet) momentum() float64 {
	prices, err := f.store.LastPrices(5)
	if err != nil {
		return neutralOn("momentum", err)
	}
	if len(prices) < 2 {
		return 1.0
	}
	net := 0
	for i := 0; i < len(prices)-1; i++ {
		if prices[i] > prices[i+1] {
			net++
		} else {
			net--
		}
	}
	return 1.0 + float64(net)/float64(len(prices)-1)*0.01
}

// volatilityIndex amplifies price response in choppy markets and applies a
// slight drag in dead ones.
func (f *factorSet) volatilityIndex() float64 {
	prices, err := f.store.LastPrices(10)
	if err != nil {
		return neutralOn("volatility", err)
	}
	if len(prices) < 2 {
		return 1.0
	}
	changes := make([]float64, 0, len(prices)-1)
	mean := 0.0
	for i := 0; i < len(prices)-1; i++ {
		if prices[i+1] == 0 {
			continue
		}
		c := (prices[i] - prices[i+1]) / prices[i+1]
		changes = append(changes, c)
		mean += c
	}
	if len(changes) == 0 {
		return 1.0
	}
	mean /= float64(len(changes))
	variance := 0.0
	for _, c := range changes {
		variance += (c - mean) * (c - mean)
	}
	std := math.Sqrt(variance / float64(len(changes)))

	switch {
	case std > 0.02:
		return 1.0 + std*2
	case std < 0.005:
		return 0.995
	}
	return 1.0
}

// tradingVolume maps 24h volume to a logarithmic lift.
func (f *factorSet) tradingVolume(now time.Time, excl domain.Exclusions) float64 {
	volume, err := f.store.TradeVolumeSince(now.Add(-24*time.Hour), excl)
	if err != nil {
		return neutralOn("trading_volume", err)
	}
	return 1.0 + math.Log(1+volume/10000)/10
}

// psychology blends the RSI, momentum, volatility and volume sub-scores
// with the current regime's weights, adds the long-term trend drag and the
// regime bias, then clamps to the regime's per-cycle limit. The blended
// sentiment also feeds the state machine's trend memory.
func (f *factorSet) psychology(now time.Time, excl domain.Exclusions) float64 {
	f.states.Advance(now)
	p := f.states.params()

	weightSum := p.rsiWeight + p.momentumWeight + p.volWeight + p.volumeWeight
	sentiment := (f.rsi()*p.rsiWeight +
		f.momentum()*p.momentumWeight +
		f.volatilityIndex()*p.volWeight +
		f.tradingVolume(now, excl)*p.volumeWeight) / weightSum

	f.states.Record(sentiment)

	trendImpact := (f.states.LongTermTrend() - 1.0) * 0.05
	final := sentiment + trendImpact + f.states.Adjustment()

	return math.Max(math.Min(final, 1.0+p.maxChange), 1.0-p.maxChange)
}

// whaleFactor occasionally (10% of cycles) prices in top-holder
// concentration, worth at most a few percent either way.
func (f *factorSet) whaleFactor() float64 {
	if f.rng.Float64() > 0.1 {
		return 1.0
	}
	ratio, err := f.store.WhaleConcentration(3)
	if err != nil {
		return neutralOn("whale", err)
	}
	if ratio == 0 {
		return 1.0
	}
	return 1.0 + (ratio-0.8)*0.04
}

// burnEffect lifts price with the 24h burned share of supply, capped at 2%.
func (f *factorSet) burnEffect(now time.Time) float64 {
	burned, err := f.store.BurnedSince(now.Add(-24 * time.Hour))
	if err != nil {
		return neutralOn("burn", err)
	}
	return 1.0 + math.Min(burned/f.totalSupply*100, 0.02)
}

// mintImpact dilutes price with the 24h newly issued share, capped at 2%.
func (f *factorSet) mintImpact(now time.Time) float64 {
	minted, err := f.store.MintedSince(now.Add(-24 * time.Hour))
	if err != nil {
		return neutralOn("mint", err)
	}
	return 1.0 - math.Min(minted/f.totalSupply*100, 0.02)
}

// manipulationScore rates how far 24h trades-per-account exceeds the
// organic threshold, in [0,1].
func (f *factorSet) manipulationScore(now time.Time, excl domain.Exclusions) float64 {
	since := now.Add(-24 * time.Hour)
	trades, err := f.store.CountTrades(since, excl)
	if err != nil {
		return 0
	}
	unique, err := f.store.CountUniqueTraders(since, excl)
	if err != nil || unique == 0 {
		return 0
	}
	perUser := float64(trades) / float64(unique)
	if perUser <= 10 {
		return 0
	}
	return math.Min((perUser-10)/5, 1.0)
}

// holdingEffect rewards broad organic activity. The trade count is
// discounted by the manipulation score so pumping one account does not
// buy the activity bonus.
func (f *factorSet) holdingEffect(now time.Time, excl domain.Exclusions) float64 {
	trades, err := f.store.CountTrades(now.Add(-24*time.Hour), excl)
	if err != nil {
		return neutralOn("holding", err)
	}
	effective := float64(trades) / (1 + f.manipulationScore(now, excl)*5)

	switch {
	case effective < 1:
		return 0.998
	case effective < 5:
		return 0.999
	case effective < 10:
		return 1.0
	case effective < 20:
		return 1.005
	}
	return 1.01
}

// transactionEffect maps 24h trade activity to tiered price pressure. When
// the window shows the distributed small-trade signature the count only
// earns 20% of its usual weight.
func (f *factorSet) transactionEffect(now time.Time, excl domain.Exclusions) float64 {
	since := now.Add(-24 * time.Hour)
	trades, err := f.store.CountTrades(since, excl)
	if err != nil {
		return neutralOn("transaction_effect", err)
	}
	effective := float64(trades)

	if f.smallTradeRisk(since, trades, excl) {
		effective *= 0.2
	}

	switch {
	case effective == 0:
		return 0.99
	case effective < 10:
		return 0.999
	case effective < 50:
		return 1.01
	}
	return 1.02
}

func (f *factorSet) smallTradeRisk(since time.Time, trades int64, excl domain.Exclusions) bool {
	if trades <= 20 {
		return false
	}
	unique, err := f.store.CountUniqueTraders(since, excl)
	if err != nil || unique >= 5 {
		return false
	}
	avg, err := f.store.AvgTradeSize(since, excl)
	if err != nil || avg <= 0 {
		return false
	}
	small, err := f.store.CountSmallTrades(since, avg*0.5, excl)
	if err != nil {
		return false
	}
	return float64(small)/float64(trades) > 0.7
}

// largeTradeImpact sums the last hour's outsized trades: impact grows with
// log size and decays exponentially with age, bounded to ±5%.
func (f *factorSet) largeTradeImpact(now time.Time) float64 {
	trades, avg, err := f.store.LargeTrades(now.Add(-1 * time.Hour))
	if err != nil {
		return neutralOn("large_trades", err)
	}
	if len(trades) == 0 || avg <= 0 {
		return 1.0
	}

	impact := 1.0
	for _, t := range trades {
		amount, _ := t.Amount.Float64()
		if amount <= 0 {
			continue
		}
		size := math.Log10(amount / avg)
		age := math.Exp(-now.Sub(t.Timestamp).Seconds() / 3600)
		direction := 0.01
		if t.Type == domain.TxSell {
			direction = -0.01
		}
		impact += size * age * direction
	}
	return math.Max(math.Min(impact, 1.05), 0.95)
}

// inactivityPenalty bleeds price when almost nobody trades. The score mixes
// unique accounts (weighted double) with raw count over a 6h window.
func (f *factorSet) inactivityPenalty(now time.Time, excl domain.Exclusions) float64 {
	since := now.Add(-6 * time.Hour)
	trades, err := f.store.CountTrades(since, excl)
	if err != nil {
		return neutralOn("inactivity", err)
	}
	unique, err := f.store.CountUniqueTraders(since, excl)
	if err != nil {
		return neutralOn("inactivity", err)
	}
	score := (float64(unique)*2 + float64(trades)) / 3

	switch {
	case score < 1:
		return 0.985
	case score < 2:
		return 0.992
	case score < 3:
		return 0.995
	case score < 5:
		return 0.998
	case score < 8:
		return 1.0
	}
	return 1.002
}

// noise is the baseline random wobble: base move, trend drift, and a touch
// of volatility, each drawn independently.
func (f *factorSet) noise() float64 {
	base := f.rng.Float64()*0.01 - 0.005
	trend := f.rng.Float64()*0.006 - 0.003
	vol := f.rng.Float64()*0.004 - 0.002
	return 1.0 + base + trend + vol
}

// shortTermFluctuation layers periodic cycles, occasional spikes, and a
// regime-biased drift on top of the slower signals. High prices lean down,
// sub-unit prices lean up.
func (f *factorSet) shortTermFluctuation(now time.Time, base float64) float64 {
	lowPriceFactor := 1.0
	if base <= 1.0 {
		lowPriceFactor = 0.5
	}

	var baseMin, baseMax float64
	if base >= 100.0 {
		baseMin, baseMax = -0.02, 0.005
	} else {
		baseMin = -0.015 * lowPriceFactor
		baseMax = 0.012 * (2.0 - lowPriceFactor)
	}
	fluct := baseMin + f.rng.Float64()*(baseMax-baseMin)

	// Spikes: 12% chance, direction biased by price regime.
	upChance := 0.5
	if base >= 100.0 {
		upChance = 0.3
	} else if base <= 1.0 {
		upChance = math.Min(0.85, 0.7+(1.0-base)*0.15)
	}
	if f.rng.Float64() < 0.12 {
		if f.rng.Float64() < upChance {
			fluct += 0.002 + f.rng.Float64()*0.013
		} else {
			fluct += -0.025 + f.rng.Float64()*0.017
		}
	}

	t := float64(now.Unix())
	shortCycle := math.Sin(t/1800) * 0.008
	mediumCycle := math.Cos(t/7200) * 0.012
	longCycle := math.Sin(t/28800) * 0.015

	upBiasChance := 0.4
	upBiasMax := 0.008
	if base <= 1.0 {
		upBiasChance = math.Min(0.6, 0.4+(1.0-base)*0.2)
		upBiasMax = math.Min(0.015, 0.008+(1.0-base)*0.007)
	} else if base >= 100.0 {
		upBiasChance = 0.2
		if f.rng.Float64() < 0.5 {
			fluct -= 0.005 + f.rng.Float64()*0.01
		}
	}
	if f.rng.Float64() < upBiasChance {
		fluct += f.rng.Float64() * upBiasMax
	}

	return 1.0 + fluct + shortCycle + mediumCycle + longCycle
}

// lowPriceBias props up sub-unit prices, stronger the lower the price,
// between +1% and +5%.
func (f *factorSet) lowPriceBias(base float64) float64 {
	if base > 1.0 {
		return 1.0
	}
	strength := math.Max(0.01, math.Min(0.05, 0.05/base))
	return 1.0 + strength
}
