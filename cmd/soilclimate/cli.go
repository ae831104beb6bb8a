package main

import (
	"fmt"
	"strings"
	"time"

	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/soilclimate/internal/ingest"
)

type CLI struct {
	Globals

	Inventory InventoryCmd `cmd:"" help:"Download or load the station inventory and list it."`
	Assign    AssignCmd    `cmd:"" help:"Assign each soil profile to a nearby station."`
	Run       RunCmd       `cmd:"" help:"Assign profiles, download station years and write climate tables."`
	Status    StatusCmd    `cmd:"" help:"Show checkpoint, cache and ingest-audit state."`
}

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `name:"env-file" short:"e" optional:"" help:"Load environment variables from this .env file."`

	APIKey    string `name:"api-key" env:"AEMET_API_KEY" help:"AEMET OpenData API key."`
	BaseURL   string `name:"base-url" env:"AEMET_BASE_URL" default:"${base_url}" help:"AEMET OpenData base URL."`
	CacheDir  string `name:"cache-dir" env:"SOILCLIMATE_CACHE_DIR" default:"cache" help:"Directory for cached payloads and checkpoint files."`
	OutputDir string `name:"output-dir" env:"SOILCLIMATE_OUTPUT_DIR" default:"output" help:"Directory for CSV outputs."`
	DB        string `name:"db" env:"SOILCLIMATE_DB" default:"data/soilclimate.db" help:"SQLite database for the ingest audit and sqlite backends."`
	Year      int    `name:"year" default:"2017" help:"Target year."`

	Ledger string `name:"ledger" enum:"file,sqlite" default:"file" help:"Checkpoint backend (file, sqlite)."`
	Cache  string `name:"cache" enum:"file,sqlite" default:"file" help:"Payload cache backend (file, sqlite)."`

	MaxTries      int       `name:"max-tries" default:"6" help:"Attempts per data request."`
	SessionUses   int       `name:"session-uses" default:"25" help:"Requests served by one connection pool before it is replaced."`
	StationPause  pauseFlag `name:"station-pause" default:"1s..2s" help:"Pause between stations, as MIN..MAX or a single duration."`
	SubRangePause pauseFlag `name:"subrange-pause" default:"300ms..800ms" help:"Pause between sub-range requests."`
	NoProgress    bool      `name:"no-progress" help:"Disable the progress bar."`

	MetricsFile string `name:"metrics-file" type:"path" help:"Write Prometheus metrics to this file on exit."`
	LogLevel    string `name:"log-level" env:"LOG_LEVEL" enum:"debug,info,warn,error" default:"info" help:"Log level."`
	LogFormat   string `name:"log-format" env:"LOG_FORMAT" enum:"text,json" default:"text" help:"Log format."`
}

// pauseFlag parses "1s..2s" or a single duration.
type pauseFlag ingest.PauseRange

func (p *pauseFlag) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	lo, hi, found := strings.Cut(s, "..")
	minD, err := time.ParseDuration(strings.TrimSpace(lo))
	if err != nil {
		return fmt.Errorf("pause %q: %w", s, err)
	}
	maxD := minD
	if found {
		if maxD, err = time.ParseDuration(strings.TrimSpace(hi)); err != nil {
			return fmt.Errorf("pause %q: %w", s, err)
		}
	}
	if minD < 0 || maxD < minD {
		return fmt.Errorf("pause %q: need 0 <= min <= max", s)
	}
	*p = pauseFlag{Min: minD, Max: maxD}
	return nil
}

func (p pauseFlag) Range() ingest.PauseRange {
	return ingest.PauseRange(p)
}
