package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/logging"
)

func TestPartitionWindows(t *testing.T) {
	tests := []struct {
		partition Partition
		wantLen   int
		wantLast  string
	}{
		{Partitions[0], 1, "2017-01-01..2017-12-31"},
		{Partitions[1], 2, "2017-07-01..2017-12-31"},
		{Partitions[2], 4, "2017-10-01..2017-12-31"},
		{Partitions[3], 12, "2017-12-01..2017-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.partition.Name, func(t *testing.T) {
			windows := tt.partition.Windows(2017)
			require.Len(t, windows, tt.wantLen)
			assert.Equal(t, tt.wantLast, windows[len(windows)-1].String())

			// contiguous and covering the year
			assert.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), windows[0].Start)
			for i := 1; i < len(windows); i++ {
				assert.Equal(t, windows[i-1].End.AddDate(0, 0, 1), windows[i].Start)
			}
		})
	}

	feb := Partitions[3].Windows(2016)[1]
	assert.Equal(t, "2016-02-01..2016-02-29", feb.String())
}

func newTestDownloader(t *testing.T, f RangeFetcher) (*Downloader, *cache.FileCache, *recordingClock) {
	t.Helper()
	store := newFileCache(t)
	clock := newRecordingClock()
	return NewDownloader(f, store, NewPacer(clock), SubRangePause, logging.Discard()), store, clock
}

func TestFetchYear_StopsAtFirstLevelWithData(t *testing.T) {
	// Only quarters 1 and 3 have data: halves is empty, quarters succeeds.
	f := &fakeRanges{respond: func(id string, w Window) (json.RawMessage, error) {
		if w.End.Sub(w.Start) < 100*24*time.Hour && (w.Start.Month() == time.January || w.Start.Month() == time.July) {
			return dailyRows(id, w), nil
		}
		return nil, nil
	}}
	d, store, clock := newTestDownloader(t, f)

	records, err := d.FetchYear(context.Background(), "X", 2017)
	require.NoError(t, err)
	assert.Len(t, records, 31+28+31+31+31+30)

	calls := f.Calls()
	assert.Len(t, calls, 1+2+4, "months level must not be tried")
	assert.Len(t, clock.Waits(), len(calls), "one pause after every sub-request")
	for _, w := range clock.Waits() {
		assert.GreaterOrEqual(t, w, SubRangePause.Min)
		assert.LessOrEqual(t, w, SubRangePause.Max)
	}

	_, ok := store.Load(cache.StationYearKey("X", 2017))
	assert.True(t, ok)
}

func TestFetchYear_FullYearAtFirstLevel(t *testing.T) {
	f := &fakeRanges{respond: func(id string, w Window) (json.RawMessage, error) {
		return dailyRows(id, w), nil
	}}
	d, _, _ := newTestDownloader(t, f)

	records, err := d.FetchYear(context.Background(), "X", 2017)
	require.NoError(t, err)
	assert.Len(t, records, 365)
	assert.Len(t, f.Calls(), 1)
}

func TestFetchYear_ErrorsCountAsEmpty(t *testing.T) {
	f := &fakeRanges{respond: func(id string, w Window) (json.RawMessage, error) {
		if w.Start.Month() == time.December && w.End.Month() == time.December {
			return dailyRows(id, w), nil
		}
		return nil, errors.New("connection reset")
	}}
	d, _, _ := newTestDownloader(t, f)

	records, err := d.FetchYear(context.Background(), "X", 2017)
	require.NoError(t, err)
	assert.Len(t, records, 31)
	assert.Len(t, f.Calls(), 1+2+4+12)
}

func TestFetchYear_NoDataAnywhere(t *testing.T) {
	f := &fakeRanges{}
	d, store, _ := newTestDownloader(t, f)

	records, err := d.FetchYear(context.Background(), "X", 2017)
	require.NoError(t, err)
	assert.Nil(t, records)
	assert.Len(t, f.Calls(), 19)

	_, ok := store.Load(cache.StationYearKey("X", 2017))
	assert.False(t, ok, "empty results are never cached")
}

func TestFetchYear_CacheHitSkipsNetwork(t *testing.T) {
	f := &fakeRanges{respond: func(id string, w Window) (json.RawMessage, error) {
		t.Fatalf("unexpected network call for %s %s", id, w)
		return nil, nil
	}}
	d, store, _ := newTestDownloader(t, f)

	require.NoError(t, store.Store(cache.StationYearKey("X", 2017),
		[]byte(`[{"fecha":"2017-01-01","tmed":"4,2"},{"fecha":"2017-01-02","tmed":"5,0"}]`)))

	records, err := d.FetchYear(context.Background(), "X", 2017)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.InDelta(t, 4.2, records[0].Values["tmed"].Float64, 1e-9)
	assert.Empty(t, f.Calls())
}

func TestFetchYear_ReplacesUnusableCacheEntry(t *testing.T) {
	f := &fakeRanges{respond: func(id string, w Window) (json.RawMessage, error) {
		return dailyRows(id, w), nil
	}}
	d, store, _ := newTestDownloader(t, f)

	key := cache.StationYearKey("X", 2017)
	require.NoError(t, store.Store(key, []byte(`{"estado":404}`)))

	records, err := d.FetchYear(context.Background(), "X", 2017)
	require.NoError(t, err)
	assert.Len(t, records, 365)
	assert.Len(t, f.Calls(), 1)

	raw, ok := store.Load(key)
	require.True(t, ok)
	cached, err := DecodeDaily(raw, "X")
	require.NoError(t, err)
	assert.Len(t, cached, 365)
}

func TestFetchYear_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeRanges{respond: func(id string, w Window) (json.RawMessage, error) {
		cancel()
		return nil, ctx.Err()
	}}
	d, store, _ := newTestDownloader(t, f)

	_, err := d.FetchYear(ctx, "X", 2017)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.Calls(), 1)

	_, ok := store.Load(cache.StationYearKey("X", 2017))
	assert.False(t, ok)
}
