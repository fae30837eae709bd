// Package model defines the shared data types exchanged between the market
// data gateway, the poller, and the simulator.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Coin is a read-only snapshot of one cryptocurrency as delivered by the
// market data gateway. Monetary fields keep the gateway's full precision;
// rounding is a presentation concern and never happens before arithmetic.
type Coin struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Symbol       string            `json:"symbol"`
	Logo         string            `json:"logo,omitempty"`
	Price        decimal.Decimal   `json:"price"`
	Change24h    decimal.Decimal   `json:"change_24h"`     // absolute price change
	ChangePct24h decimal.Decimal   `json:"change_pct_24h"` // percentage
	ChangePct7d  decimal.Decimal   `json:"change_pct_7d"`  // derived from sparkline endpoints
	MarketCap    decimal.Decimal   `json:"market_cap"`
	Volume24h    decimal.Decimal   `json:"volume_24h"`
	Sparkline    []decimal.Decimal `json:"sparkline,omitempty"` // trailing 7d prices
	FetchedAt    time.Time         `json:"fetched_at"`
}

// HasPrice reports whether the snapshot carries a usable positive price.
func (c *Coin) HasPrice() bool {
	return c.Price.IsPositive()
}

// JSON returns the JSON-encoded coin (ignoring errors for hot-path usage).
func (c *Coin) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CoinDetail is a coin snapshot extended with the long-form description from
// the gateway's per-coin endpoint.
type CoinDetail struct {
	Coin
	Description string `json:"description,omitempty"`
}

// SevenDayChange computes the percentage change across a trailing price
// series: (last - first) / first * 100. Returns zero when the series is too
// short or starts at zero; it is never fabricated from the 24h figure.
func SevenDayChange(series []decimal.Decimal) decimal.Decimal {
	if len(series) < 2 {
		return decimal.Zero
	}
	first := series[0]
	if first.IsZero() {
		return decimal.Zero
	}
	last := series[len(series)-1]
	return last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
}
