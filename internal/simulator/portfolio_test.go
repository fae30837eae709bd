package simulator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"beuhouse-backend/internal/model"
)

type stubQuotes map[string]model.Coin

func (s stubQuotes) Quote(id string) (model.Coin, bool) {
	c, ok := s[id]
	return c, ok
}

func coin(id string, price float64) model.Coin {
	return model.Coin{ID: id, Name: id, Symbol: id, Price: decimal.NewFromFloat(price)}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func newTestPortfolio(t *testing.T, quotes stubQuotes, initial float64) *Portfolio {
	t.Helper()
	p, err := New(quotes, dec(initial))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRejectsNegativeInitial(t *testing.T) {
	_, err := New(stubQuotes{}, dec(-1))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestBuyWeightedAverage(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 10)}
	p := newTestPortfolio(t, quotes, 10000)

	if err := p.Buy("btc", dec(100)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	quotes["btc"] = coin("btc", 20)
	if err := p.Buy("btc", dec(50)); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	s := p.Snapshot()
	if len(s.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(s.Holdings))
	}
	h := s.Holdings[0]
	if !h.Quantity.Equal(dec(12.5)) {
		t.Errorf("quantity = %s, want 12.5", h.Quantity)
	}
	if !h.AverageBuyPrice.Equal(dec(12)) {
		t.Errorf("average buy price = %s, want 12", h.AverageBuyPrice)
	}
	if !s.AvailableBalance.Equal(dec(9850)) {
		t.Errorf("balance = %s, want 9850", s.AvailableBalance)
	}
}

func TestBuyConservation(t *testing.T) {
	quotes := stubQuotes{"eth": coin("eth", 2500)}
	p := newTestPortfolio(t, quotes, 10000)

	if err := p.Buy("eth", dec(4000)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	s := p.Snapshot()
	// Value was exchanged at the same price it is marked at, so the total
	// must still equal the initial investment.
	if !s.TotalValue.Equal(dec(10000)) {
		t.Errorf("total value = %s, want 10000", s.TotalValue)
	}
	if !s.ProfitLoss.IsZero() {
		t.Errorf("profit/loss = %s, want 0", s.ProfitLoss)
	}
}

func TestBuyExactBalance(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 50)}
	p := newTestPortfolio(t, quotes, 1000)

	if err := p.Buy("btc", dec(1000)); err != nil {
		t.Fatalf("buy for exact balance: %v", err)
	}
	if s := p.Snapshot(); !s.AvailableBalance.IsZero() {
		t.Errorf("balance = %s, want 0", s.AvailableBalance)
	}
}

func TestBuyRejections(t *testing.T) {
	quotes := stubQuotes{
		"btc":  coin("btc", 50),
		"dead": coin("dead", 0),
	}
	p := newTestPortfolio(t, quotes, 100)

	cases := []struct {
		name  string
		id    string
		spend decimal.Decimal
		want  any
	}{
		{"zero spend", "btc", decimal.Zero, &ValidationError{}},
		{"negative spend", "btc", dec(-5), &ValidationError{}},
		{"empty id", "", dec(10), &ValidationError{}},
		{"untracked coin", "nope", dec(10), &InvalidOperationError{}},
		{"zero price", "dead", dec(10), &InvalidOperationError{}},
		{"insufficient balance", "btc", dec(100.01), &InvalidOperationError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Buy(tc.id, tc.spend)
			if err == nil {
				t.Fatal("expected error")
			}
			switch tc.want.(type) {
			case *ValidationError:
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("expected ValidationError, got %T: %v", err, err)
				}
			case *InvalidOperationError:
				var oerr *InvalidOperationError
				if !errors.As(err, &oerr) {
					t.Errorf("expected InvalidOperationError, got %T: %v", err, err)
				}
			}
		})
	}

	// Rejected operations must not disturb state.
	s := p.Snapshot()
	if !s.AvailableBalance.Equal(dec(100)) {
		t.Errorf("balance = %s, want 100", s.AvailableBalance)
	}
	if len(s.Holdings) != 0 {
		t.Errorf("holdings = %d, want 0", len(s.Holdings))
	}
}

func TestSellPartialPreservesBasis(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 10)}
	p := newTestPortfolio(t, quotes, 1000)

	if err := p.Buy("btc", dec(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	p.Revalue(map[string]model.Coin{"btc": coin("btc", 40)})

	if err := p.Sell("btc", dec(50)); err != nil {
		t.Fatalf("sell: %v", err)
	}

	s := p.Snapshot()
	if len(s.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(s.Holdings))
	}
	h := s.Holdings[0]
	if !h.Quantity.Equal(dec(5)) {
		t.Errorf("quantity = %s, want 5", h.Quantity)
	}
	if !h.AverageBuyPrice.Equal(dec(10)) {
		t.Errorf("average buy price = %s, want 10 (unchanged)", h.AverageBuyPrice)
	}
	// 900 cash + 5 units * 40 sold
	if !s.AvailableBalance.Equal(dec(1100)) {
		t.Errorf("balance = %s, want 1100", s.AvailableBalance)
	}
}

func TestSellFullRemovesHolding(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 10)}
	p := newTestPortfolio(t, quotes, 1000)

	if err := p.Buy("btc", dec(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := p.Sell("btc", dec(100)); err != nil {
		t.Fatalf("sell: %v", err)
	}

	s := p.Snapshot()
	if len(s.Holdings) != 0 {
		t.Errorf("holdings = %d, want 0 after full sell", len(s.Holdings))
	}
	if !s.AvailableBalance.Equal(dec(1000)) {
		t.Errorf("balance = %s, want 1000", s.AvailableBalance)
	}

	// The holding is gone, so another sell is a not-found.
	err := p.Sell("btc", dec(100))
	var nerr *NotFoundError
	if !errors.As(err, &nerr) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSellPercentageBounds(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 10)}
	p := newTestPortfolio(t, quotes, 1000)
	if err := p.Buy("btc", dec(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	for _, pct := range []float64{0, -10, 100.5} {
		err := p.Sell("btc", dec(pct))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Sell(%v): expected ValidationError, got %v", pct, err)
		}
	}
}

func TestSellAtCurrentPrice(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 100)}
	p := newTestPortfolio(t, quotes, 1000)

	if err := p.Buy("btc", dec(500)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	p.Revalue(map[string]model.Coin{"btc": coin("btc", 50)})
	if err := p.Sell("btc", dec(100)); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// 5 units sold at the crashed price of 50 realize the loss.
	s := p.Snapshot()
	if !s.AvailableBalance.Equal(dec(750)) {
		t.Errorf("balance = %s, want 750", s.AvailableBalance)
	}
	if !s.ProfitLoss.Equal(dec(-250)) {
		t.Errorf("profit/loss = %s, want -250", s.ProfitLoss)
	}
}

func TestRevalueIdempotentAndSelective(t *testing.T) {
	quotes := stubQuotes{
		"btc": coin("btc", 10),
		"eth": coin("eth", 5),
	}
	p := newTestPortfolio(t, quotes, 1000)
	if err := p.Buy("btc", dec(100)); err != nil {
		t.Fatalf("buy btc: %v", err)
	}
	if err := p.Buy("eth", dec(100)); err != nil {
		t.Fatalf("buy eth: %v", err)
	}

	refresh := map[string]model.Coin{
		"btc":     coin("btc", 20),
		"unknown": coin("unknown", 999), // must be skipped
	}
	p.Revalue(refresh)
	p.Revalue(refresh)

	s := p.Snapshot()
	for _, h := range s.Holdings {
		switch h.Coin.ID {
		case "btc":
			if !h.Coin.Price.Equal(dec(20)) {
				t.Errorf("btc price = %s, want 20", h.Coin.Price)
			}
			if !h.CurrentValue.Equal(dec(200)) {
				t.Errorf("btc value = %s, want 200", h.CurrentValue)
			}
		case "eth":
			if !h.Coin.Price.Equal(dec(5)) {
				t.Errorf("eth price = %s, want 5 (untouched)", h.Coin.Price)
			}
		default:
			t.Errorf("unexpected holding %q", h.Coin.ID)
		}
	}
	if s.LastRevaluedAt.IsZero() {
		t.Error("last revalued timestamp not set")
	}
}

func TestSetInitialInvestmentShiftsBalance(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 10)}
	p := newTestPortfolio(t, quotes, 10000)
	if err := p.Buy("btc", dec(4000)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if err := p.SetInitialInvestment(dec(15000)); err != nil {
		t.Fatalf("raise initial: %v", err)
	}
	s := p.Snapshot()
	if !s.AvailableBalance.Equal(dec(11000)) {
		t.Errorf("balance = %s, want 11000", s.AvailableBalance)
	}
	if !s.InitialInvestment.Equal(dec(15000)) {
		t.Errorf("initial = %s, want 15000", s.InitialInvestment)
	}

	if err := p.SetInitialInvestment(dec(5000)); err != nil {
		t.Fatalf("lower initial: %v", err)
	}
	if s := p.Snapshot(); !s.AvailableBalance.Equal(dec(1000)) {
		t.Errorf("balance = %s, want 1000", s.AvailableBalance)
	}

	err := p.SetInitialInvestment(dec(-1))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestResetRestoresBaseline(t *testing.T) {
	quotes := stubQuotes{"btc": coin("btc", 10)}
	p := newTestPortfolio(t, quotes, 10000)
	if err := p.Buy("btc", dec(2500)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	p.Revalue(map[string]model.Coin{"btc": coin("btc", 99)})

	p.Reset()

	s := p.Snapshot()
	if len(s.Holdings) != 0 {
		t.Errorf("holdings = %d, want 0", len(s.Holdings))
	}
	if !s.AvailableBalance.Equal(dec(10000)) {
		t.Errorf("balance = %s, want 10000", s.AvailableBalance)
	}
	if !s.ProfitLoss.IsZero() {
		t.Errorf("profit/loss = %s, want 0", s.ProfitLoss)
	}
}

func TestSnapshotAggregates(t *testing.T) {
	quotes := stubQuotes{
		"btc": coin("btc", 100),
		"eth": coin("eth", 10),
	}
	p := newTestPortfolio(t, quotes, 10000)
	if err := p.Buy("btc", dec(1000)); err != nil { // 10 units
		t.Fatalf("buy btc: %v", err)
	}
	if err := p.Buy("eth", dec(500)); err != nil { // 50 units
		t.Fatalf("buy eth: %v", err)
	}
	p.Revalue(map[string]model.Coin{
		"btc": coin("btc", 150),
		"eth": coin("eth", 8),
	})

	s := p.Snapshot()
	// 10*150 + 50*8 = 1900
	if !s.TotalHoldingsValue.Equal(dec(1900)) {
		t.Errorf("holdings value = %s, want 1900", s.TotalHoldingsValue)
	}
	if !s.TotalValue.Equal(dec(10400)) {
		t.Errorf("total value = %s, want 10400", s.TotalValue)
	}
	if !s.ProfitLoss.Equal(dec(400)) {
		t.Errorf("profit/loss = %s, want 400", s.ProfitLoss)
	}
	if !s.ProfitLossPct.Equal(dec(4)) {
		t.Errorf("profit/loss pct = %s, want 4", s.ProfitLossPct)
	}

	// Ordering follows first buy.
	if s.Holdings[0].Coin.ID != "btc" || s.Holdings[1].Coin.ID != "eth" {
		t.Errorf("holding order = %s,%s, want btc,eth", s.Holdings[0].Coin.ID, s.Holdings[1].Coin.ID)
	}
}

func TestZeroInitialInvestmentPct(t *testing.T) {
	p := newTestPortfolio(t, stubQuotes{}, 0)
	s := p.Snapshot()
	if !s.ProfitLossPct.IsZero() {
		t.Errorf("profit/loss pct = %s, want 0 when initial is 0", s.ProfitLossPct)
	}
}
