package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/soilclimate/internal/cache"
	"github.com/lox/soilclimate/internal/store"
)

func TestPauseFlag(t *testing.T) {
	tests := []struct {
		in       string
		min, max time.Duration
		wantErr  bool
	}{
		{"1s..2s", time.Second, 2 * time.Second, false},
		{"300ms .. 800ms", 300 * time.Millisecond, 800 * time.Millisecond, false},
		{"0s", 0, 0, false},
		{"2s..1s", 0, 0, true},
		{"soon", 0, 0, true},
		{"1s..later", 0, 0, true},
	}
	for _, tt := range tests {
		var p pauseFlag
		err := p.UnmarshalText([]byte(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.min, p.Range().Min, tt.in)
		assert.Equal(t, tt.max, p.Range().Max, tt.in)
	}
}

func testGlobals(t *testing.T, backend string) *Globals {
	dir := t.TempDir()
	return &Globals{
		BaseURL:     "http://127.0.0.1:1",
		CacheDir:    dir + "/cache",
		OutputDir:   dir + "/out",
		DB:          dir + "/soilclimate.db",
		Year:        2017,
		Ledger:      backend,
		Cache:       backend,
		MaxTries:    1,
		SessionUses: 25,
		NoProgress:  true,
		LogLevel:    "error",
		LogFormat:   "text",
	}
}

func TestNewApp_Backends(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			a, err := newApp(context.Background(), testGlobals(t, backend), io.Discard)
			require.NoError(t, err)
			defer a.Close()

			require.NoError(t, a.cache.Store("climate_X_2017", []byte(`[]`)))
			_, ok := a.cache.Load("climate_X_2017")
			assert.True(t, ok)

			ledger, err := a.openLedger()
			require.NoError(t, err)
			require.NoError(t, ledger.MarkDone("X"))

			reopened, err := a.openLedger()
			require.NoError(t, err)
			assert.True(t, reopened.IsDone("X"))

			if backend == "sqlite" {
				set, err := a.store.OpenLedgerSet(store.LedgerDone, 2017)
				require.NoError(t, err)
				assert.Equal(t, 1, set.Len())
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	g := testGlobals(t, "file")
	a, err := newApp(context.Background(), g, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	assert.Error(t, a.requireAPIKey())
	g.APIKey = "key"
	assert.NoError(t, a.requireAPIKey())
}

func TestLoadStations_CachedInventoryNeedsNoKey(t *testing.T) {
	a, err := newApp(context.Background(), testGlobals(t, "file"), io.Discard)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.loadStations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key required")

	require.NoError(t, a.cache.Store(cache.InventoryKey(), []byte(
		`[{"indicativo":"3195","nombre":"MADRID, RETIRO","latitud":"402443N","longitud":"034041W"}]`)))

	stations, err := a.loadStations()
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "3195", stations[0].ID)
}
