package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observation in a price time series, either from the
// gateway's history endpoint or from our own poll-interval sampling.
type PricePoint struct {
	TS    time.Time       `json:"ts"`
	Price decimal.Decimal `json:"price"`
}
