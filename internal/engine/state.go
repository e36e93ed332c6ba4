package engine

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"parcmarket/internal/domain"
)

// stateParams holds the per-regime tuning: psychology sub-factor weights,
// the per-cycle psychology clamp, and the minimum dwell before the state
// may transition again.
type stateParams struct {
	rsiWeight      float64
	momentumWeight float64
	volWeight      float64
	volumeWeight   float64
	maxChange      float64
	dwell          time.Duration
}

var stateTable = map[domain.MarketState]stateParams{
	domain.StateNormal: {
		rsiWeight: 0.03, momentumWeight: 0.03, volWeight: 0.02, volumeWeight: 0.02,
		maxChange: 0.02, dwell: 4 * time.Hour,
	},
	domain.StateBullish: {
		rsiWeight: 0.04, momentumWeight: 0.04, volWeight: 0.03, volumeWeight: 0.01,
		maxChange: 0.03, dwell: 2 * time.Hour,
	},
	domain.StateBearish: {
		rsiWeight: 0.04, momentumWeight: 0.04, volWeight: 0.03, volumeWeight: 0.01,
		maxChange: 0.03, dwell: 2 * time.Hour,
	},
	domain.StateVolatile: {
		rsiWeight: 0.02, momentumWeight: 0.03, volWeight: 0.02, volumeWeight: 0.02,
		maxChange: 0.04, dwell: 1 * time.Hour,
	},
}

const (
	sentimentMemory   = 100
	trendSamples      = 10
	momentumThreshold = 0.02
)

// StateMachine tracks the coarse market regime. Sentiment samples from the
// psychology factor feed a bounded ring; the last ten samples decide trend
// direction and strength, which gate the probabilistic transitions.
//
// Legal edges: normal -> bullish/bearish, bullish/bearish -> normal or
// volatile, volatile -> normal. Volatile is never entered from normal and
// never leaves anywhere but normal.
type StateMachine struct {
	mu         sync.Mutex
	rng        *rand.Rand
	state      domain.MarketState
	lastChange time.Time
	sentiment  []float64
}

func NewStateMachine(rng *rand.Rand, now time.Time) *StateMachine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &StateMachine{
		rng:        rng,
		state:      domain.StateNormal,
		lastChange: now,
	}
}

// State returns the current regime.
func (m *StateMachine) State() domain.MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// params returns the tuning for the current regime.
func (m *StateMachine) params() stateParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return stateTable[m.state]
}

// Record appends one sentiment sample, evicting the oldest past capacity.
func (m *StateMachine) Record(sentiment float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentiment = append(m.sentiment, sentiment)
	if len(m.sentiment) > sentimentMemory {
		m.sentiment = m.sentiment[1:]
	}
}

// LongTermTrend is the mean of the whole sentiment memory, 1.0 when empty.
func (m *StateMachine) LongTermTrend() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sentiment) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, s := range m.sentiment {
		sum += s
	}
	return sum / float64(len(m.sentiment))
}

// Adjustment returns the per-cycle state bias: a slight lift in normal and
// bullish regimes, a small drag in bearish, and a wide random swing in
// volatile.
func (m *StateMachine) Adjustment() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case domain.StateBearish:
		return -0.001
	case domain.StateVolatile:
		return -0.01 + m.rng.Float64()*0.025
	default:
		return 0.005
	}
}

// Advance evaluates one transition opportunity. Nothing happens before the
// current state's minimum dwell has elapsed or with fewer than ten samples.
func (m *StateMachine) Advance(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastChange) < stateTable[m.state].dwell {
		return
	}
	if len(m.sentiment) < trendSamples {
		return
	}

	recent := m.sentiment[len(m.sentiment)-trendSamples:]
	direction := 0
	strength := 0.0
	for _, s := range recent {
		if s > 1.0 {
			direction++
		} else {
			direction--
		}
		strength += s - 1.0
	}
	if strength < 0 {
		strength = -strength
	}

	roll := m.rng.Float64()
	next := m.state

	switch m.state {
	case domain.StateNormal:
		if strength > momentumThreshold {
			if direction > 5 && roll < 0.3 {
				next = domain.StateBullish
			} else if direction < -5 && roll < 0.3 {
				next = domain.StateBearish
			}
		}
	case domain.StateBullish:
		if direction < 0 && roll < 0.4 {
			next = domain.StateNormal
		} else if strength > momentumThreshold*2 && roll < 0.2 {
			next = domain.StateVolatile
		}
	case domain.StateBearish:
		if direction > 0 && roll < 0.4 {
			next = domain.StateNormal
		} else if strength > momentumThreshold*2 && roll < 0.2 {
			next = domain.StateVolatile
		}
	case domain.StateVolatile:
		if strength < momentumThreshold && roll < 0.5 {
			next = domain.StateNormal
		}
	}

	if next != m.state {
		slog.Info("market state transition",
			slog.String("from", string(m.state)),
			slog.String("to", string(next)),
			slog.Int("trend_direction", direction),
			slog.Float64("trend_strength", strength))
		m.state = next
		m.lastChange = now
	}
}
