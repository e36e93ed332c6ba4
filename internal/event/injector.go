package event

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"parcmarket/internal/domain"
)

// Step split parameters. Negative events are spread over more, smaller
// steps than positive ones so crashes unfold gradually.
const (
	positiveMinSteps = 6
	positiveMaxSteps = 10
	positiveStepCap  = 10.0 // percent per step

	negativeMinSteps = 12
	negativeMaxSteps = 16
	negativeStepCap  = -8.0 // percent per step
)

// Injector owns the single active scripted event and hands its deltas to
// the pricing cycle one at a time.
type Injector struct {
	mu          sync.Mutex
	rng         *rand.Rand
	cooldown    time.Duration
	lastTrigger time.Time
	active      *domain.EventEffect

	// onFinal is invoked once when an event exhausts its deltas. It must
	// not block; delivery failures are the callback's problem.
	onFinal func(domain.EventEffect)
}

// NewInjector creates an injector. onFinal may be nil.
func NewInjector(cooldown time.Duration, rng *rand.Rand, onFinal func(domain.EventEffect)) *Injector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Injector{rng: rng, cooldown: cooldown, onFinal: onFinal}
}

// Trigger starts a scripted event with the given total percentage target.
// Only one event may run at a time.
func (i *Injector) Trigger(name, description string, totalChange float64, now time.Time) (*domain.EventEffect, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.active.Active() {
		return nil, domain.ErrEventActive
	}

	deltas := i.split(totalChange)
	eff := &domain.EventEffect{
		Name:        name,
		Description: description,
		TotalChange: totalChange,
		Positive:    totalChange > 0,
		Deltas:      deltas,
		TotalSteps:  len(deltas),
		StartedAt:   now,
	}
	i.active = eff
	i.lastTrigger = now

	slog.Info("scripted event started",
		slog.String("name", name),
		slog.Float64("total_change_pct", totalChange),
		slog.Int("steps", len(deltas)))

	copied := *eff
	copied.Deltas = append([]float64(nil), eff.Deltas...)
	return &copied, nil
}

// TriggerRandom draws a catalog event, respecting the trigger cooldown.
// Returns nil when on cooldown or another event is active.
func (i *Injector) TriggerRandom(now time.Time) *domain.EventEffect {
	i.mu.Lock()
	if !i.lastTrigger.IsZero() && now.Sub(i.lastTrigger) < i.cooldown {
		i.mu.Unlock()
		return nil
	}
	t := RandomType(i.rng)
	total := float64(t.MinChange + i.rng.Intn(t.MaxChange-t.MinChange+1))
	i.mu.Unlock()

	eff, err := i.Trigger(t.Name, t.Description, total, now)
	if err != nil {
		return nil
	}
	return eff
}

// NextDelta pops the next percentage delta. hasMore is false once the
// event is exhausted (or none is active); exhaustion fires the final
// notification exactly once.
func (i *Injector) NextDelta() (float64, bool) {
	i.mu.Lock()

	if !i.active.Active() {
		i.mu.Unlock()
		return 0, false
	}

	delta := i.active.Deltas[0]
	i.active.Deltas = i.active.Deltas[1:]

	var finished *domain.EventEffect
	if len(i.active.Deltas) == 0 {
		finished = i.active
		i.active = nil
	}
	onFinal := i.onFinal
	i.mu.Unlock()

	if finished != nil {
		slog.Info("scripted event finished",
			slog.String("name", finished.Name),
			slog.Float64("realized_change_pct", finished.TotalChange))
		if onFinal != nil {
			onFinal(*finished)
		}
	}
	return delta, true
}

// ActiveEvent returns a copy of the active event, or nil.
func (i *Injector) ActiveEvent() *domain.EventEffect {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.active.Active() {
		return nil
	}
	copied := *i.active
	copied.Deltas = append([]float64(nil), i.active.Deltas...)
	return &copied
}

// split divides the total change into per-cycle steps. Each step is the
// even share of what remains, jittered by ±30% and clamped to the per-step
// cap; the final step absorbs any rounding remainder so the consumed sum
// always equals the target.
func (i *Injector) split(total float64) []float64 {
	var steps int
	if total < 0 {
		steps = negativeMinSteps + i.rng.Intn(negativeMaxSteps-negativeMinSteps+1)
	} else {
		steps = positiveMinSteps + i.rng.Intn(positiveMaxSteps-positiveMinSteps+1)
	}

	deltas := make([]float64, 0, steps)
	remaining := total
	for n := 0; n < steps; n++ {
		base := remaining / float64(steps-n)
		effect := base * (0.7 + i.rng.Float64()*0.6)
		if total < 0 {
			if effect < negativeStepCap {
				effect = negativeStepCap
			}
		} else {
			if effect > positiveStepCap {
				effect = positiveStepCap
			}
		}
		deltas = append(deltas, effect)
		remaining -= effect
	}
	// Rounding remainder lands on the final step.
	deltas[len(deltas)-1] += remaining
	return deltas
}
