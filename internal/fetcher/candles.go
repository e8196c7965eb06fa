package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"lp-pnl/internal/pricing"
)

const candlesPath = "/api/v2/spot/market/history-candles"

// CandleOptions parameterise the exchange candle fetcher.
type CandleOptions struct {
	BaseURL           string
	QuoteSuffix       string
	Granularity       string
	Interval          time.Duration
	PageLimit         int
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint
}

// Candles downloads spot kline history from a Bitget-compatible API and
// exposes it as price points keyed by bar open time.
type Candles struct {
	opts    CandleOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewCandles constructs a candle fetcher.
func NewCandles(opts CandleOptions, logger zerolog.Logger) *Candles {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.QuoteSuffix == "" {
		opts.QuoteSuffix = "USDT"
	}
	if opts.Granularity == "" {
		opts.Granularity = "15min"
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 200
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 4
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.bitget.com"
	}

	return &Candles{
		opts:    opts,
		logger:  logger.With().Str("component", "candle_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		baseURL: baseURL,
	}
}

// FetchHistory downloads the [from, to] window for one symbol, paging
// backwards from the window end. Points carry the bar open price at the
// bar open time.
func (c *Candles) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]pricing.Point, error) {
	symbol = strings.ToUpper(symbol)
	market := symbol + c.opts.QuoteSuffix

	var points []pricing.Point
	end := to.Add(c.opts.Interval)
	for {
		rows, err := c.fetchPage(ctx, market, end)
		if err != nil {
			return nil, fmt.Errorf("fetch candles %s: %w", market, err)
		}
		if len(rows) == 0 {
			break
		}

		earliest := end
		for _, row := range rows {
			ts, open, err := parseCandle(row)
			if err != nil {
				return nil, fmt.Errorf("parse candle %s: %w", market, err)
			}
			if ts.Before(earliest) {
				earliest = ts
			}
			if ts.Before(from) || ts.After(to) {
				continue
			}
			points = append(points, pricing.Point{Symbol: symbol, Timestamp: ts, Price: open})
		}

		if !earliest.After(from) || len(rows) < c.opts.PageLimit {
			break
		}
		end = earliest
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	c.logger.Debug().Str("symbol", symbol).Int("points", len(points)).Msg("fetched candle history")
	return points, nil
}

func (c *Candles) fetchPage(ctx context.Context, market string, end time.Time) ([][]string, error) {
	params := url.Values{}
	params.Set("symbol", market)
	params.Set("granularity", c.opts.Granularity)
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(c.opts.PageLimit))
	endpoint := c.baseURL + candlesPath + "?" + params.Encode()

	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return payload, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("candle api error (%d)", resp.StatusCode)
		default:
			return nil, backoff.Permanent(fmt.Errorf("candle api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload))))
		}
	}

	payload, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.opts.MaxRetries),
	)
	if err != nil {
		return nil, err
	}

	var res candlesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	if res.Code != "" && res.Code != "00000" {
		return nil, fmt.Errorf("candle api error %s: %s", res.Code, res.Msg)
	}
	return res.Data, nil
}

// parseCandle reads [openTimeMs, open, high, low, close, ...].
func parseCandle(row []string) (time.Time, decimal.Decimal, error) {
	if len(row) < 2 {
		return time.Time{}, decimal.Decimal{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return time.Time{}, decimal.Decimal{}, fmt.Errorf("parse timestamp %q: %w", row[0], err)
	}
	open, err := decimal.NewFromString(row[1])
	if err != nil {
		return time.Time{}, decimal.Decimal{}, fmt.Errorf("parse open price %q: %w", row[1], err)
	}
	return time.UnixMilli(ms).UTC(), open, nil
}

type candlesResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

var _ PriceHistorySource = (*Candles)(nil)
