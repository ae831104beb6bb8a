package ingest

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// PauseRange is a randomized courtesy delay, uniform in [Min, Max].
type PauseRange struct {
	Min time.Duration
	Max time.Duration
}

var (
	SubRangePause    = PauseRange{Min: 300 * time.Millisecond, Max: 800 * time.Millisecond}
	MetaRefreshPause = PauseRange{Min: 400 * time.Millisecond, Max: 900 * time.Millisecond}
	StationPause     = PauseRange{Min: time.Second, Max: 2 * time.Second}
)

// Pick draws a duration from the range.
func (r PauseRange) Pick() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int64N(int64(r.Max-r.Min)+1))
}

// Pacer performs the deliberate waits between remote calls.
type Pacer struct {
	clock clockwork.Clock
}

func NewPacer(clock clockwork.Clock) *Pacer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pacer{clock: clock}
}

// Pause waits for a duration drawn from r, returning early with the context
// error if ctx is cancelled.
func (p *Pacer) Pause(ctx context.Context, r PauseRange) error {
	d := r.Pick()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}
