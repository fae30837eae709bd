// Package simulator implements the paper-trading portfolio accounting engine
// behind the investment simulator.
//
// A Portfolio tracks a virtual cash balance and one holding per coin. Buys
// maintain a weighted-average cost basis (total historical cost divided by
// total quantity held), partial sells realize value at the current market
// price without touching the cost basis, and price refreshes arrive through
// Revalue. Every mutation is atomic: a rejected operation leaves all state
// untouched.
package simulator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"beuhouse-backend/internal/model"
)

// QuoteSource resolves a coin id to its latest market snapshot. The hub
// implements this over the most recent poll result.
type QuoteSource interface {
	Quote(id string) (model.Coin, bool)
}

var hundred = decimal.NewFromInt(100)

// Holding is the portfolio's position in one coin. Quantity is always
// positive; a holding that reaches zero quantity is removed, never retained.
type Holding struct {
	Coin            model.Coin
	Quantity        decimal.Decimal
	AverageBuyPrice decimal.Decimal
	OpenedAt        time.Time
}

// CurrentValue returns quantity times the latest known unit price.
func (h *Holding) CurrentValue() decimal.Decimal {
	return h.Quantity.Mul(h.Coin.Price)
}

// CostBasis returns quantity times the average buy price.
func (h *Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AverageBuyPrice)
}

// ProfitLoss returns the unrealized gain or loss on this holding.
func (h *Holding) ProfitLoss() decimal.Decimal {
	return h.CurrentValue().Sub(h.CostBasis())
}

// ProfitLossPct returns the unrealized gain relative to cost basis, in
// percent. Zero when the cost basis is zero.
func (h *Holding) ProfitLossPct() decimal.Decimal {
	basis := h.CostBasis()
	if basis.IsZero() {
		return decimal.Zero
	}
	return h.ProfitLoss().Div(basis).Mul(hundred)
}

// Portfolio is the aggregate simulator state for one visitor session.
// Operations serialize on an internal mutex; there is exactly one
// user-interaction stream per portfolio.
type Portfolio struct {
	mu       sync.Mutex
	quotes   QuoteSource
	initial  decimal.Decimal
	balance  decimal.Decimal
	holdings []*Holding // ordered by first buy
	index    map[string]*Holding

	lastRevalued time.Time
}

// New creates a portfolio with the given initial investment. The quote
// source is consulted on every buy; it must not be nil.
func New(quotes QuoteSource, initial decimal.Decimal) (*Portfolio, error) {
	if initial.IsNegative() {
		return nil, &ValidationError{Field: "initial investment", Reason: "must not be negative"}
	}
	return &Portfolio{
		quotes:  quotes,
		initial: initial,
		balance: initial,
		index:   make(map[string]*Holding),
	}, nil
}

// SetInitialInvestment changes the initial investment and shifts the
// available balance by the difference, mirroring how a visitor tops up or
// draws down their virtual stake.
func (p *Portfolio) SetInitialInvestment(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &ValidationError{Field: "initial investment", Reason: "must not be negative"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = p.balance.Add(amount.Sub(p.initial))
	p.initial = amount
	return nil
}

// Buy spends the given cash amount on the coin at its current market price.
// Repeat buys of the same coin fold into the existing holding with a
// weighted-average cost basis: total historical cost / total quantity.
func (p *Portfolio) Buy(coinID string, spend decimal.Decimal) error {
	if coinID == "" {
		return &ValidationError{Field: "coin id", Reason: "must not be empty"}
	}
	if !spend.IsPositive() {
		return &ValidationError{Field: "spend amount", Reason: "must be positive"}
	}

	coin, ok := p.quotes.Quote(coinID)
	if !ok {
		return &InvalidOperationError{Op: "buy", Reason: "coin " + coinID + " is not tracked"}
	}
	if !coin.HasPrice() {
		return &InvalidOperationError{Op: "buy", Reason: "coin " + coinID + " has no usable price"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if spend.GreaterThan(p.balance) {
		return &InvalidOperationError{Op: "buy", Reason: "insufficient balance"}
	}

	units := spend.Div(coin.Price)
	if h, exists := p.index[coinID]; exists {
		newQty := h.Quantity.Add(units)
		h.AverageBuyPrice = h.Quantity.Mul(h.AverageBuyPrice).Add(spend).Div(newQty)
		h.Quantity = newQty
		h.Coin = coin
	} else {
		h := &Holding{
			Coin:            coin,
			Quantity:        units,
			AverageBuyPrice: coin.Price,
			OpenedAt:        time.Now().UTC(),
		}
		p.holdings = append(p.holdings, h)
		p.index[coinID] = h
	}
	p.balance = p.balance.Sub(spend)
	return nil
}

// Sell liquidates the given percentage of a holding at the coin's current
// market price, not the average buy price. A partial sell reduces quantity
// proportionally and leaves the cost basis of the remaining units untouched.
// Selling 100% (or anything that zeroes the quantity) removes the holding.
func (p *Portfolio) Sell(coinID string, percentage decimal.Decimal) error {
	if !percentage.IsPositive() || percentage.GreaterThan(hundred) {
		return &ValidationError{Field: "sell percentage", Reason: "must be in (0, 100]"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h, exists := p.index[coinID]
	if !exists {
		return &NotFoundError{Kind: "holding", ID: coinID}
	}

	sellQty := h.Quantity.Mul(percentage).Div(hundred)
	p.balance = p.balance.Add(sellQty.Mul(h.Coin.Price))

	remaining := h.Quantity.Sub(sellQty)
	if percentage.Equal(hundred) || remaining.IsZero() {
		p.remove(coinID)
		return nil
	}
	h.Quantity = remaining
	return nil
}

// Revalue replaces the coin snapshots of matching holdings and is a no-op
// for holdings absent from the refresh: they keep their last known price
// rather than blocking. Reapplying the same snapshot is harmless.
func (p *Portfolio) Revalue(snapshots map[string]model.Coin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.index {
		if coin, ok := snapshots[id]; ok {
			h.Coin = coin
		}
	}
	p.lastRevalued = time.Now().UTC()
}

// Reset clears all holdings and restores the balance to the initial
// investment. Always succeeds.
func (p *Portfolio) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings = p.holdings[:0]
	p.index = make(map[string]*Holding)
	p.balance = p.initial
}

func (p *Portfolio) remove(coinID string) {
	delete(p.index, coinID)
	for i, h := range p.holdings {
		if h.Coin.ID == coinID {
			p.holdings = append(p.holdings[:i], p.holdings[i+1:]...)
			return
		}
	}
}

// HoldingView is the read-only rendering of one holding.
type HoldingView struct {
	Coin            model.Coin      `json:"coin"`
	Quantity        decimal.Decimal `json:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	ProfitLossPct   decimal.Decimal `json:"profit_loss_pct"`
}

// Summary is the read-only aggregate view of the portfolio. All derived
// figures are computed here, on demand, from the primary state.
type Summary struct {
	InitialInvestment  decimal.Decimal `json:"initial_investment"`
	AvailableBalance   decimal.Decimal `json:"available_balance"`
	Holdings           []HoldingView   `json:"holdings"`
	TotalHoldingsValue decimal.Decimal `json:"total_holdings_value"`
	TotalValue         decimal.Decimal `json:"total_value"`
	ProfitLoss         decimal.Decimal `json:"profit_loss"`
	ProfitLossPct      decimal.Decimal `json:"profit_loss_pct"`
	LastRevaluedAt     time.Time       `json:"last_revalued_at"`
}

// Snapshot returns the current aggregate view.
func (p *Portfolio) Snapshot() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]HoldingView, 0, len(p.holdings))
	totalHoldings := decimal.Zero
	for _, h := range p.holdings {
		value := h.CurrentValue()
		totalHoldings = totalHoldings.Add(value)
		views = append(views, HoldingView{
			Coin:            h.Coin,
			Quantity:        h.Quantity,
			AverageBuyPrice: h.AverageBuyPrice,
			CurrentValue:    value,
			ProfitLoss:      h.ProfitLoss(),
			ProfitLossPct:   h.ProfitLossPct(),
		})
	}

	total := totalHoldings.Add(p.balance)
	pl := total.Sub(p.initial)
	plPct := decimal.Zero
	if p.initial.IsPositive() {
		plPct = pl.Div(p.initial).Mul(hundred)
	}

	return Summary{
		InitialInvestment:  p.initial,
		AvailableBalance:   p.balance,
		Holdings:           views,
		TotalHoldingsValue: totalHoldings,
		TotalValue:         total,
		ProfitLoss:         pl,
		ProfitLossPct:      plPct,
		LastRevaluedAt:     p.lastRevalued,
	}
}
