// Package coingecko is the upstream market data gateway client. It wraps the
// CoinGecko REST API with rate limiting, short-lived response caching, and
// bounded retries so that upstream flakiness degrades to stale data instead
// of propagating into the simulator.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"beuhouse-backend/internal/model"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// vsCurrency is fixed: the site quotes everything in USD.
const vsCurrency = "usd"

// StatusError is a non-2xx response from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coingecko: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Config struct {
	BaseURL string
	APIKey  string // optional demo/pro key, sent as x-cg-demo-api-key

	Timeout       time.Duration // default: 10s
	RatePerMinute int           // default: 30 (free-tier ceiling)
	CacheTTL      time.Duration // default: 4m, for on-demand endpoints
	RetryAttempts int           // default: 3 total tries
	RetryBackoff  time.Duration // default: 500ms, doubled per retry
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *gocache.Cache
	attempts   int
	backoff    time.Duration
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerMinute == 0 {
		cfg.RatePerMinute = 30
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 4 * time.Minute
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute/6+1),
		cache:      gocache.New(cfg.CacheTTL, 10*time.Minute),
		attempts:   cfg.RetryAttempts,
		backoff:    cfg.RetryBackoff,
	}
}

// getJSON performs a rate-limited GET with bounded retries. Retries apply to
// transport errors, 429s, and 5xx; 4xx responses fail immediately.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.doOnce(ctx, reqURL, out)
		if lastErr == nil {
			return nil
		}
		if serr, ok := lastErr.(*StatusError); ok && !serr.retryable() {
			return lastErr
		}
		log.Printf("[coingecko] GET %s attempt %d/%d failed: %v", path, attempt+1, c.attempts, lastErr)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		body := string(raw)
		if len(body) > 200 {
			body = body[:200]
		}
		return &StatusError{Code: resp.StatusCode, Body: body}
	}
	return json.Unmarshal(raw, out)
}

// Markets fetches one page of coins ordered by market cap, with sparkline and
// 24h/7d percentage changes. This is the poller's primary feed and is never
// served from cache.
func (c *Client) Markets(ctx context.Context, page, perPage int) ([]model.Coin, error) {
	q := marketsQuery()
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var rows []marketRow
	if err := c.getJSON(ctx, "/coins/markets", q, &rows); err != nil {
		return nil, err
	}
	return rowsToCoins(rows), nil
}

// MarketsByIDs fetches market snapshots for a specific set of coin ids.
func (c *Client) MarketsByIDs(ctx context.Context, ids []string) ([]model.Coin, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := marketsQuery()
	q.Set("ids", strings.Join(ids, ","))
	q.Set("per_page", strconv.Itoa(len(ids)))

	var rows []marketRow
	if err := c.getJSON(ctx, "/coins/markets", q, &rows); err != nil {
		return nil, err
	}
	return rowsToCoins(rows), nil
}

// Trending returns the currently trending coins with full market data. The
// trending endpoint itself carries no prices, so the ids are resolved through
// a follow-up markets call before anything is returned.
func (c *Client) Trending(ctx context.Context) ([]model.Coin, error) {
	const cacheKey = "trending"
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]model.Coin), nil
	}

	var tr trendingResponse
	if err := c.getJSON(ctx, "/search/trending", nil, &tr); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tr.Coins))
	for _, tc := range tr.Coins {
		ids = append(ids, tc.Item.ID)
	}

	coins, err := c.MarketsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Preserve the trending order, not the market-cap order of the follow-up.
	byID := make(map[string]model.Coin, len(coins))
	for _, coin := range coins {
		byID[coin.ID] = coin
	}
	ordered := make([]model.Coin, 0, len(ids))
	for _, id := range ids {
		if coin, ok := byID[id]; ok {
			ordered = append(ordered, coin)
		}
	}

	c.cache.SetDefault(cacheKey, ordered)
	return ordered, nil
}

// Detail fetches the full record for one coin, including its description.
func (c *Client) Detail(ctx context.Context, id string) (model.CoinDetail, error) {
	cacheKey := "detail:" + id
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(model.CoinDetail), nil
	}

	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "true")

	var dr detailResponse
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(id), q, &dr); err != nil {
		return model.CoinDetail{}, err
	}

	coin := model.Coin{
		ID:           dr.ID,
		Name:         dr.Name,
		Symbol:       dr.Symbol,
		Logo:         dr.Image.Large,
		Price:        dr.MarketData.CurrentPrice[vsCurrency],
		MarketCap:    dr.MarketData.MarketCap[vsCurrency],
		Volume24h:    dr.MarketData.TotalVolume[vsCurrency],
		Change24h:    dr.MarketData.Change24h.Decimal,
		ChangePct24h: dr.MarketData.ChangePct24h.Decimal,
		FetchedAt:    time.Now().UTC(),
	}
	if dr.MarketData.Sparkline != nil {
		coin.Sparkline = dr.MarketData.Sparkline.Price
	}
	coin.ChangePct7d = sevenDay(dr.MarketData.ChangePct7d, coin.Sparkline)

	detail := model.CoinDetail{Coin: coin, Description: dr.Description.En}
	c.cache.SetDefault(cacheKey, detail)
	return detail, nil
}

// MarketChart fetches the historical price series for one coin over the
// given number of days.
func (c *Client) MarketChart(ctx context.Context, id string, days int) ([]model.PricePoint, error) {
	cacheKey := fmt.Sprintf("chart:%s:%d", id, days)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]model.PricePoint), nil
	}

	q := url.Values{}
	q.Set("vs_currency", vsCurrency)
	q.Set("days", strconv.Itoa(days))

	var cr chartResponse
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q, &cr); err != nil {
		return nil, err
	}

	points := make([]model.PricePoint, 0, len(cr.Prices))
	for _, pair := range cr.Prices {
		if len(pair) != 2 {
			continue
		}
		points = append(points, model.PricePoint{
			TS:    time.UnixMilli(pair[0].IntPart()).UTC(),
			Price: pair[1],
		})
	}
	c.cache.SetDefault(cacheKey, points)
	return points, nil
}

func marketsQuery() url.Values {
	q := url.Values{}
	q.Set("vs_currency", vsCurrency)
	q.Set("order", "market_cap_desc")
	q.Set("sparkline", "true")
	q.Set("price_change_percentage", "24h,7d")
	return q
}

func rowsToCoins(rows []marketRow) []model.Coin {
	now := time.Now().UTC()
	coins := make([]model.Coin, 0, len(rows))
	for _, r := range rows {
		coin := model.Coin{
			ID:           r.ID,
			Name:         r.Name,
			Symbol:       r.Symbol,
			Logo:         r.Image,
			Price:        r.CurrentPrice.Decimal,
			MarketCap:    r.MarketCap.Decimal,
			Volume24h:    r.TotalVolume.Decimal,
			Change24h:    r.Change24h.Decimal,
			ChangePct24h: r.ChangePct24h.Decimal,
			FetchedAt:    now,
		}
		if r.Sparkline != nil {
			coin.Sparkline = r.Sparkline.Price
		}
		coin.ChangePct7d = sevenDay(r.ChangePct7d, coin.Sparkline)
		coins = append(coins, coin)
	}
	return coins
}

// sevenDay prefers the gateway's own 7d figure and falls back to deriving it
// from the sparkline series. It is never approximated from the 24h change.
func sevenDay(v decimal.NullDecimal, spark []decimal.Decimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return model.SevenDayChange(spark)
}
