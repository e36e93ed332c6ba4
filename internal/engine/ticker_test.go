package engine

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestTickGenerator_NoComputedPrice(t *testing.T) {
	g := NewTickGenerator(rand.New(rand.NewSource(1)))
	if got := g.NextTick(time.Now(), 0, time.Time{}); got != 0 {
		t.Fatalf("tick without a computed price = %v, want 0", got)
	}
	if g.Last() != 0 {
		t.Errorf("last tick should stay 0 with no computed price")
	}
}

func TestTickGenerator_FreshDriftEnvelope(t *testing.T) {
	g := NewTickGenerator(rand.New(rand.NewSource(2)))
	base := 55.0
	recalc := time.Now()

	for i := 1; i <= 5; i++ {
		now := recalc.Add(time.Duration(i*10) * time.Second)
		tick := g.NextTick(now, base, recalc)
		bound := 0.02 * now.Sub(recalc).Seconds() / 60
		dev := math.Abs(tick-base) / base
		// Allow for the final rounding step.
		if dev > bound+0.0001 {
			t.Errorf("tick %d deviates %.4f, envelope is %.4f", i, dev, bound)
		}
	}
}

func TestTickGenerator_StaleWalkStaysNearBase(t *testing.T) {
	g := NewTickGenerator(rand.New(rand.NewSource(3)))
	base := 55.0
	recalc := time.Now().Add(-10 * time.Minute)

	now := time.Now()
	for i := 0; i < 500; i++ {
		now = now.Add(10 * time.Second)
		tick := g.NextTick(now, base, recalc)
		if dev := math.Abs(tick-base) / base; dev > 0.056 {
			t.Fatalf("step %d: walk strayed %.4f from base, pull-back failed", i, dev)
		}
	}
}

func TestTickGenerator_HistoryBounded(t *testing.T) {
	g := NewTickGenerator(rand.New(rand.NewSource(4)))
	base := 10.0
	recalc := time.Now().Add(-time.Hour)

	start := time.Now()
	for i := 0; i < 200; i++ {
		g.NextTick(start.Add(time.Duration(i*10)*time.Second), base, recalc)
	}

	hist := g.History()
	if len(hist) == 0 {
		t.Fatal("history is empty")
	}
	newest := hist[len(hist)-1].At
	for _, p := range hist {
		if newest.Sub(p.At) > tickHistoryWindow {
			t.Fatalf("history kept a %v old tick, window is %v", newest.Sub(p.At), tickHistoryWindow)
		}
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].At.Before(hist[i-1].At) {
			t.Fatal("history is not ordered oldest first")
		}
	}
}
