package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://opendata.aemet.es/opendata/api"

// JSONGetter is the retrying HTTP layer (httputil.RetryClient).
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, headers map[string]string, timeout time.Duration, maxTries int) (json.RawMessage, error)
}

type Config struct {
	BaseURL string
	APIKey  string

	MetaTimeout time.Duration
	MetaTries   int
	DataTimeout time.Duration
	DataTries   int

	// MetaRefreshes bounds how many fresh data URLs are requested when the
	// short-lived one stops working.
	MetaRefreshes int
	RefreshPause  PauseRange
}

func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		APIKey:        apiKey,
		MetaTimeout:   45 * time.Second,
		MetaTries:     5,
		DataTimeout:   60 * time.Second,
		DataTries:     6,
		MetaRefreshes: 3,
		RefreshPause:  MetaRefreshPause,
	}
}

// Client talks to AEMET OpenData. Every endpoint is two-stage: the first
// response carries a "datos" URL that must be fetched to get the payload.
type Client struct {
	http   JSONGetter
	cfg    Config
	pacer  *Pacer
	logger *slog.Logger
}

func NewClient(http JSONGetter, cfg Config, pacer *Pacer, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MetaRefreshes <= 0 {
		cfg.MetaRefreshes = 1
	}
	return &Client{http: http, cfg: cfg, pacer: pacer, logger: logger}
}

// FetchRange returns the daily-values array for a station and window, or nil
// when the archive has none.
func (c *Client) FetchRange(ctx context.Context, stationID string, w Window) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/valores/climatologicos/diarios/datos/fechaini/%sT00:00:00UTC/fechafin/%sT23:59:59UTC/estacion/%s",
		c.cfg.BaseURL, w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly), url.PathEscape(stationID))
	return c.fetchIndirect(ctx, u, slog.String("station", stationID), slog.String("window", w.String()))
}

// FetchInventory returns the full station inventory array.
func (c *Client) FetchInventory(ctx context.Context) (json.RawMessage, error) {
	u := c.cfg.BaseURL + "/valores/climatologicos/inventarioestaciones/todasestaciones"
	return c.fetchIndirect(ctx, u, slog.String("endpoint", "inventory"))
}

func (c *Client) headers() map[string]string {
	return map[string]string{"api_key": c.cfg.APIKey}
}

func (c *Client) fetchIndirect(ctx context.Context, metaURL string, attrs ...any) (json.RawMessage, error) {
	logger := c.logger.With(attrs...)

	var lastErr error
	for refresh := 1; refresh <= c.cfg.MetaRefreshes; refresh++ {
		meta, err := c.http.GetJSON(ctx, metaURL, c.headers(), c.cfg.MetaTimeout, c.cfg.MetaTries)
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		datos := gjson.GetBytes(meta, "datos").String()
		if datos == "" {
			logger.Info("no data",
				"estado", gjson.GetBytes(meta, "estado").Int(),
				"descripcion", gjson.GetBytes(meta, "descripcion").String(),
			)
			return nil, nil
		}

		data, err := c.http.GetJSON(ctx, datos, c.headers(), c.cfg.DataTimeout, c.cfg.DataTries)
		if err == nil {
			if data == nil {
				return nil, nil
			}
			payload := gjson.ParseBytes(data)
			if !payload.IsArray() || len(payload.Array()) == 0 {
				logger.Info("empty payload")
				return nil, nil
			}
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if refresh < c.cfg.MetaRefreshes {
			logger.Warn("data url failed, requesting a fresh one", "refresh", refresh, "error", err)
			if err := c.pacer.Pause(ctx, c.cfg.RefreshPause); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("payload after %d metadata refreshes: %w", c.cfg.MetaRefreshes, lastErr)
}
