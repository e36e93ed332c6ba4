package domain

import "time"

// EventEffect is one active scripted event: a named total target change
// already split into per-cycle percentage deltas. Deltas are consumed
// front-to-back, one per pricing cycle; the event is active while any
// delta remains.
type EventEffect struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TotalChange float64   `json:"total_change"` // percent, e.g. -60
	Positive    bool      `json:"positive"`
	Deltas      []float64 `json:"deltas"` // remaining percent steps
	TotalSteps  int       `json:"total_steps"`
	StartedAt   time.Time `json:"started_at"`
}

// Active reports whether any delta remains to apply.
func (e *EventEffect) Active() bool {
	return e != nil && len(e.Deltas) > 0
}

// Progress returns consumed and total step counts.
func (e *EventEffect) Progress() (done, total int) {
	if e == nil {
		return 0, 0
	}
	return e.TotalSteps - len(e.Deltas), e.TotalSteps
}

// ConsumedChange is the percentage already applied, assuming the remaining
// deltas have not been taken yet.
func (e *EventEffect) ConsumedChange() float64 {
	if e == nil {
		return 0
	}
	remaining := 0.0
	for _, d := range e.Deltas {
		remaining += d
	}
	return e.TotalChange - remaining
}
