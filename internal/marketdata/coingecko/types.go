package coingecko

import (
	"github.com/shopspring/decimal"
)

// marketRow is one entry of the /coins/markets response. Numeric fields are
// nullable on the wire for newly listed or delisted coins.
type marketRow struct {
	ID           string              `json:"id"`
	Symbol       string              `json:"symbol"`
	Name         string              `json:"name"`
	Image        string              `json:"image"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	MarketCap    decimal.NullDecimal `json:"market_cap"`
	TotalVolume  decimal.NullDecimal `json:"total_volume"`
	Change24h    decimal.NullDecimal `json:"price_change_24h"`
	ChangePct24h decimal.NullDecimal `json:"price_change_percentage_24h"`
	ChangePct7d  decimal.NullDecimal `json:"price_change_percentage_7d_in_currency"`
	Sparkline    *sparkline          `json:"sparkline_in_7d"`
}

type sparkline struct {
	Price []decimal.Decimal `json:"price"`
}

// trendingResponse is the /search/trending envelope. Items carry no market
// data beyond thumbnails; prices are resolved with a follow-up markets call.
type trendingResponse struct {
	Coins []struct {
		Item struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
			Thumb  string `json:"thumb"`
		} `json:"item"`
	} `json:"coins"`
}

// detailResponse is the subset of /coins/{id} we use.
type detailResponse struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Image  struct {
		Large string `json:"large"`
	} `json:"image"`
	Description struct {
		En string `json:"en"`
	} `json:"description"`
	MarketData struct {
		CurrentPrice map[string]decimal.Decimal `json:"current_price"`
		MarketCap    map[string]decimal.Decimal `json:"market_cap"`
		TotalVolume  map[string]decimal.Decimal `json:"total_volume"`
		Change24h    decimal.NullDecimal        `json:"price_change_24h"`
		ChangePct24h decimal.NullDecimal        `json:"price_change_percentage_24h"`
		ChangePct7d  decimal.NullDecimal        `json:"price_change_percentage_7d"`
		Sparkline    *sparkline                 `json:"sparkline_7d"`
	} `json:"market_data"`
}

// chartResponse is the /coins/{id}/market_chart envelope. Each price entry
// is a [unix_ms, price] pair.
type chartResponse struct {
	Prices [][]decimal.Decimal `json:"prices"`
}
