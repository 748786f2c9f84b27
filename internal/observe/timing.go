package observe

import "time"

// Timing records start/end timestamps only
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// Complete records completion time. Later calls are ignored.
func (t *Timing) Complete() {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
}

// Duration returns execution duration
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
