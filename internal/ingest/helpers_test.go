package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/logging"
)

// recordingClock fires every timer immediately and remembers the requested
// durations.
type recordingClock struct {
	clockwork.Clock

	mu    sync.Mutex
	waits []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{Clock: clockwork.NewFakeClock()}
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- c.Clock.Now()
	return ch
}

func (c *recordingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func newFileCache(t *testing.T) *cache.FileCache {
	t.Helper()
	c, err := cache.NewFileCache(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	return c
}

// fakeRanges answers FetchRange from a function and records the windows.
type fakeRanges struct {
	mu      sync.Mutex
	calls   []Window
	respond func(stationID string, w Window) (json.RawMessage, error)
}

func (f *fakeRanges) FetchRange(ctx context.Context, stationID string, w Window) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, w)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(stationID, w)
}

func (f *fakeRanges) Calls() []Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Window(nil), f.calls...)
}

// dailyRows builds one raw row per day of w.
func dailyRows(stationID string, w Window) json.RawMessage {
	var rows []map[string]string
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		rows = append(rows, map[string]string{
			"fecha":      d.Format(time.DateOnly),
			"indicativo": stationID,
			"tmed":       fmt.Sprintf("%d,5", d.Day()%20),
			"prec":       "0,0",
		})
	}
	b, _ := json.Marshal(rows)
	return b
}
