package engine

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// tickHistoryWindow bounds the in-memory tick history. Ticks are display
// interpolation only; pricing never reads them.
const tickHistoryWindow = 10 * time.Minute

// TickPoint is one display tick.
type TickPoint struct {
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}

// TickGenerator produces fast pseudo-ticks between full recalculations.
// Fresh after a recalculation it drifts inside a widening ±2% envelope
// around the computed price; once the price goes stale it random-walks in
// ±0.5% steps but gets pulled back beyond ±5% of the computed price.
type TickGenerator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	last    float64
	history []TickPoint
}

func NewTickGenerator(rng *rand.Rand) *TickGenerator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &TickGenerator{rng: rng}
}

// NextTick produces the next display price around base, the last fully
// computed price, recalculated at lastRecalc. With no computed price yet it
// has nothing to interpolate and returns base unchanged.
func (g *TickGenerator) NextTick(now time.Time, base float64, lastRecalc time.Time) float64 {
	if base <= 0 {
		return base
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := now.Sub(lastRecalc)
	var tick float64
	if elapsed < time.Minute {
		// Drift envelope widens from 0 to ±2% over the first minute.
		bound := 0.02 * elapsed.Seconds() / 60
		tick = base * (1 + (g.rng.Float64()*2-1)*bound)
	} else {
		prev := g.last
		if prev <= 0 {
			prev = base
		}
		tick = prev * (1 + (g.rng.Float64()*2-1)*0.005)
		// Pull back toward base once the walk strays past ±5%.
		dev := (tick - base) / base
		if math.Abs(dev) > 0.05 {
			if dev > 0 {
				dev = 0.05
			} else {
				dev = -0.05
			}
			tick = base * (1 + dev*0.9)
		}
	}

	tick = roundTick(tick)
	g.last = tick
	g.history = append(g.history, TickPoint{At: now, Price: tick})
	g.trimLocked(now)
	return tick
}

// Last returns the most recent tick, 0 before the first one.
func (g *TickGenerator) Last() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// History returns a copy of the bounded tick history, oldest first.
func (g *TickGenerator) History() []TickPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TickPoint, len(g.history))
	copy(out, g.history)
	return out
}

func (g *TickGenerator) trimLocked(now time.Time) {
	cutoff := now.Add(-tickHistoryWindow)
	i := 0
	for i < len(g.history) && g.history[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		g.history = g.history[i:]
	}
}

// roundTick keeps display ticks at a finer resolution than the tiered base
// price rounding so sub-unit prices still visibly move.
func roundTick(p float64) float64 {
	return math.Round(p*10000) / 10000
}
