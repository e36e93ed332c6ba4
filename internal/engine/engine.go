package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"parcmarket/internal/detect"
	"parcmarket/internal/domain"
	"parcmarket/internal/event"
)

// Config carries the engine tunables.
type Config struct {
	DefaultPrice   float64
	PriceFloor     float64
	TotalSupply    float64
	RecalcInterval time.Duration
	TickInterval   time.Duration
	SaveInterval   time.Duration
}

// Engine is the single authoritative pricing instance. It owns the base
// price and band, the market state machine, the tick generator, and the
// detection/event plumbing. One engine per process; everything else reads
// from it.
type Engine struct {
	cfg      Config
	store    domain.SignalStore
	snap     domain.Snapshotter
	detector *detect.Detector
	injector *event.Injector
	states   *StateMachine
	ticks    *TickGenerator
	factors  *factorSet
	rng      *rand.Rand

	mu         sync.RWMutex
	band       domain.PriceBand
	lastRecalc time.Time

	// inFlight drops overlapping recalculation triggers instead of queuing.
	inFlight atomic.Bool
}

// NewEngine builds the engine and seeds it: price state snapshot first,
// then the latest persisted price point, then the configured default.
// Persisted permanent flags are installed into the detector.
func NewEngine(
	cfg Config,
	store domain.SignalStore,
	snap domain.Snapshotter,
	detector *detect.Detector,
	injector *event.Injector,
	rng *rand.Rand,
) (*Engine, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := time.Now()

	e := &Engine{
		cfg:      cfg,
		store:    store,
		snap:     snap,
		detector: detector,
		injector: injector,
		states:   NewStateMachine(rng, now),
		ticks:    NewTickGenerator(rng),
		rng:      rng,
	}
	e.factors = newFactorSet(store, e.states, rng, cfg.TotalSupply)

	band, ok, err := snap.LoadState()
	switch {
	case err != nil:
		slog.Warn("price state snapshot unreadable, falling back", slog.Any("error", err))
		fallthrough
	case !ok:
		if point, perr := store.LatestPricePoint(); perr == nil && point != nil {
			band = domain.NewPriceBand(point.Price)
			slog.Info("price seeded from latest price point", slog.Float64("price", point.Price))
		} else if cfg.DefaultPrice > 0 {
			band = domain.NewPriceBand(cfg.DefaultPrice)
			slog.Info("price seeded from default", slog.Float64("price", cfg.DefaultPrice))
		} else {
			return nil, domain.ErrNoPriceState
		}
	default:
		slog.Info("price state restored from snapshot", slog.Float64("price", band.Base))
	}
	e.band = band
	e.lastRecalc = now

	flags, err := snap.LoadFlags()
	if err != nil {
		slog.Warn("permanent flags unreadable, starting empty", slog.Any("error", err))
	}
	detector.Seed(flags)

	return e, nil
}

// CurrentPrice returns the authoritative base price.
func (e *Engine) CurrentPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.band.Base
}

// CurrentBand returns the authoritative trading band.
func (e *Engine) CurrentBand() domain.PriceBand {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.band
}

// MarketState returns the current regime.
func (e *Engine) MarketState() domain.MarketState {
	return e.states.State()
}

// CurrentTick returns the latest display tick, falling back to the base
// price before the first tick.
func (e *Engine) CurrentTick() float64 {
	if t := e.ticks.Last(); t > 0 {
		return t
	}
	return e.CurrentPrice()
}

// TickHistory returns the bounded display tick history.
func (e *Engine) TickHistory() []TickPoint {
	return e.ticks.History()
}

// Quote assembles the display snapshot served to front-ends.
func (e *Engine) Quote(now time.Time) domain.Quote {
	e.mu.RLock()
	band := e.band
	e.mu.RUnlock()

	current := e.CurrentTick()
	changePct := 0.0
	if band.Base > 0 {
		changePct = (current - band.Base) / band.Base * 100
	}
	return domain.Quote{
		Current:   current,
		Base:      band.Base,
		Min:       band.Min,
		Max:       band.Max,
		ChangePct: changePct,
		At:        now,
	}
}

// TriggerEvent starts a scripted event.
func (e *Engine) TriggerEvent(name, description string, totalChange float64) (*domain.EventEffect, error) {
	return e.injector.Trigger(name, description, totalChange, time.Now())
}

// TriggerRandomEvent draws a catalog event, honoring the trigger cooldown.
func (e *Engine) TriggerRandomEvent() *domain.EventEffect {
	return e.injector.TriggerRandom(time.Now())
}

// ActiveEvent returns a copy of the running event, or nil.
func (e *Engine) ActiveEvent() *domain.EventEffect {
	return e.injector.ActiveEvent()
}

// DetectionFeed exposes the manipulation record stream for downstream
// alerting. Non-blocking on the producer side.
func (e *Engine) DetectionFeed() <-chan domain.DetectionRecord {
	return e.detector.Feed()
}

// Recalculate runs one full pricing cycle. An overlapping trigger while a
// cycle is in flight is dropped with ErrCycleInFlight. Any internal panic
// is contained: the previous price is returned and the cycle is a no-op.
func (e *Engine) Recalculate(now time.Time) (price float64, err error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return e.CurrentPrice(), domain.ErrCycleInFlight
	}
	defer e.inFlight.Store(false)

	p0 := e.CurrentPrice()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("price recalculation failed, keeping previous price", slog.Any("panic", r))
			price, err = p0, nil
		}
	}()

	washDetected := e.detector.Scan(now)
	excl := e.detector.Exclusions()

	factors := []factor{
		{"market_depth", e.factors.marketDepth()},
		{"support_resistance", e.factors.supportResistance(now, p0)},
		{"psychology", e.factors.psychology(now, excl)},
		{"whale", e.factors.whaleFactor()},
		{"burn", e.factors.burnEffect(now)},
		{"holding", e.factors.holdingEffect(now, excl)},
		{"mint", e.factors.mintImpact(now)},
		{"transaction_effect", e.factors.transactionEffect(now, excl)},
		{"large_trades", e.factors.largeTradeImpact(now)},
		{"inactivity", e.factors.inactivityPenalty(now, excl)},
		{"noise", e.factors.noise()},
		{"short_term", e.factors.shortTermFluctuation(now, p0)},
		{"low_price_bias", e.factors.lowPriceBias(p0)},
	}
	if delta, ok := e.injector.NextDelta(); ok {
		factors = append(factors, factor{"event", 1 + delta/100})
	}

	composite := 1.0
	allNeutral := true
	for _, f := range factors {
		composite *= f.value
		if math.Abs(f.value-1.0) > 0.0001 {
			allNeutral = false
		}
		slog.Debug("price factor",
			slog.String("factor", f.name),
			slog.Float64("value", f.value))
	}

	if washDetected {
		// Halve the move while wash trading is being flagged.
		composite = 1 + (composite-1)*0.5
		slog.Warn("wash trading detected, price move suppressed")
	}

	newPrice := e.antiStagnation(p0, p0*composite, allNeutral)

	if p0 >= 100.0 {
		newPrice *= 1 - (0.01 + e.rng.Float64()*0.02)
	}

	if newPrice < e.cfg.PriceFloor {
		newPrice = e.cfg.PriceFloor
	}
	newPrice = domain.RoundPrice(newPrice)

	band := domain.NewPriceBand(newPrice)
	e.mu.Lock()
	e.band = band
	e.lastRecalc = now
	e.mu.Unlock()

	if aerr := e.store.AppendPricePoint(&domain.PricePoint{Timestamp: now, Price: newPrice}); aerr != nil {
		slog.Error("failed to append price point", slog.Any("error", aerr))
	}

	slog.Info("price recalculated",
		slog.Float64("price", newPrice),
		slog.Float64("change_pct", (newPrice-p0)/p0*100),
		slog.String("state", string(e.states.State())))
	return newPrice, nil
}

// antiStagnation forces a random 0.5%..1.5% move in either direction when a
// cycle would leave price effectively frozen: all factors neutral, or a net
// move under 0.2%.
func (e *Engine) antiStagnation(p0, newPrice float64, allNeutral bool) float64 {
	if !allNeutral && math.Abs(newPrice-p0)/p0 >= 0.002 {
		return newPrice
	}
	forced := 0.005 + e.rng.Float64()*0.01
	if e.rng.Float64() < 0.5 {
		forced = -forced
	}
	slog.Info("anti-stagnation move applied", slog.Float64("change_pct", forced*100))
	return p0 * (1 + forced)
}

// Tick produces one display tick against the current price state.
func (e *Engine) Tick(now time.Time) float64 {
	e.mu.RLock()
	base, last := e.band.Base, e.lastRecalc
	e.mu.RUnlock()
	return e.ticks.NextTick(now, base, last)
}

// SaveState checkpoints the price band snapshot.
func (e *Engine) SaveState(now time.Time) error {
	return e.snap.SaveState(e.CurrentBand(), now)
}

// Run drives the three periodic schedules until ctx is cancelled: the
// pricing cycle, the fast display tick, and the best-effort state save.
// Pricing and ticking share this goroutine, so they never race on the
// price fields.
func (e *Engine) Run(ctx context.Context) error {
	priceTicker := time.NewTicker(e.cfg.RecalcInterval)
	defer priceTicker.Stop()
	tickTicker := time.NewTicker(e.cfg.TickInterval)
	defer tickTicker.Stop()
	saveTicker := time.NewTicker(e.cfg.SaveInterval)
	defer saveTicker.Stop()

	slog.Info("pricing engine started",
		slog.Duration("recalc_interval", e.cfg.RecalcInterval),
		slog.Duration("tick_interval", e.cfg.TickInterval),
		slog.Float64("price", e.CurrentPrice()))

	for {
		select {
		case <-ctx.Done():
			if err := e.SaveState(time.Now()); err != nil {
				slog.Error("final state save failed", slog.Any("error", err))
			}
			slog.Info("pricing engine stopped")
			return nil

		case now := <-priceTicker.C:
			if _, err := e.Recalculate(now); err != nil {
				if errors.Is(err, domain.ErrCycleInFlight) {
					slog.Warn("pricing cycle overrun, trigger dropped")
				} else {
					slog.Error("pricing cycle failed", slog.Any("error", err))
				}
			}

		case now := <-tickTicker.C:
			e.Tick(now)

		case now := <-saveTicker.C:
			if err := e.SaveState(now); err != nil {
				if domain.IsRetriable(err) {
					slog.Warn("state save failed, will retry next interval", slog.Any("error", err))
				} else {
					slog.Error("state save failed", slog.Any("error", err))
				}
			}
		}
	}
}
