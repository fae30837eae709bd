package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"beuhouse-backend/internal/marketdata/poller"
	"beuhouse-backend/internal/model"
)

func update(stale bool, coins ...model.Coin) poller.Update {
	return poller.Update{Coins: coins, Stale: stale, At: time.Now().UTC()}
}

func marketCoin(id string, price float64) model.Coin {
	return model.Coin{ID: id, Name: id, Symbol: id, Price: decimal.NewFromFloat(price)}
}

func TestHubApplyAndQuote(t *testing.T) {
	h := NewHub()
	h.apply(context.Background(), update(false, marketCoin("bitcoin", 50000), marketCoin("ethereum", 3000)))

	c, ok := h.Quote("bitcoin")
	if !ok || !c.Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("quote = %+v ok=%v", c, ok)
	}
	if _, ok := h.Quote("dogecoin"); ok {
		t.Error("unexpected quote for untracked coin")
	}

	coins, stale, at := h.Snapshot()
	if len(coins) != 2 || coins[0].ID != "bitcoin" {
		t.Errorf("snapshot = %+v", coins)
	}
	if stale || at.IsZero() {
		t.Errorf("stale=%v at=%v", stale, at)
	}
}

func TestHubObservedHistory(t *testing.T) {
	h := NewHub()
	h.apply(context.Background(), update(false, marketCoin("bitcoin", 100)))
	h.apply(context.Background(), update(false, marketCoin("bitcoin", 110)))
	// Stale refreshes must not pollute the observed series.
	h.apply(context.Background(), update(true, marketCoin("bitcoin", 110)))

	pts := h.Observed("bitcoin")
	if len(pts) != 2 {
		t.Fatalf("observed = %d points, want 2", len(pts))
	}
	if !pts[1].Price.Equal(decimal.NewFromInt(110)) {
		t.Errorf("last observed = %s", pts[1].Price)
	}
	if h.Observed("nope") != nil {
		t.Error("expected nil history for unknown coin")
	}
}

func TestHubOnRefreshHook(t *testing.T) {
	h := NewHub()
	var got poller.Update
	h.OnRefresh(func(ctx context.Context, u poller.Update) { got = u })

	h.apply(context.Background(), update(false, marketCoin("bitcoin", 100)))
	if len(got.Coins) != 1 || got.Coins[0].ID != "bitcoin" {
		t.Errorf("hook saw %+v", got)
	}
}

func TestHubSeedMarksStale(t *testing.T) {
	h := NewHub()
	h.Seed([]model.Coin{marketCoin("bitcoin", 100)})

	coins, stale, _ := h.Snapshot()
	if len(coins) != 1 || !stale {
		t.Errorf("coins=%d stale=%v, want seeded data flagged stale", len(coins), stale)
	}
}

func TestHubWebSocketBroadcast(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.apply(context.Background(), update(false, marketCoin("bitcoin", 50000)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"markets"`) || !strings.Contains(string(msg), "bitcoin") {
		t.Errorf("envelope = %s", msg)
	}
}
