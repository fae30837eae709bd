// Package gateway is the HTTP/WebSocket surface of the site: the REST API,
// the market refresh feed, and the per-visitor simulator sessions.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"beuhouse-backend/internal/marketdata/poller"
	"beuhouse-backend/internal/model"
	"beuhouse-backend/internal/ringbuf"
)

// historyCap is the number of observed points retained per coin: roughly a
// week of 5-minute refreshes.
const historyCap = 2048

// Hub holds the latest market snapshot, fans refreshes out to WebSocket
// clients, and keeps a ring of observed prices per coin. It implements
// simulator.QuoteSource for buy-time price resolution.
type Hub struct {
	mu        sync.RWMutex
	coins     map[string]model.Coin
	order     []string // market-cap order of the latest refresh
	stale     bool
	updatedAt time.Time

	clients map[*Client]bool
	history map[string]*ringbuf.Ring

	// onRefresh hooks run after every applied update (session revaluation,
	// warm store persistence). Registered before Run, never after.
	onRefresh []func(ctx context.Context, u poller.Update)
}

func NewHub() *Hub {
	return &Hub{
		coins:   make(map[string]model.Coin),
		clients: make(map[*Client]bool),
		history: make(map[string]*ringbuf.Ring),
	}
}

// OnRefresh registers a hook invoked after each applied market update.
func (h *Hub) OnRefresh(fn func(ctx context.Context, u poller.Update)) {
	h.onRefresh = append(h.onRefresh, fn)
}

// Run consumes poller updates until the context is cancelled or the channel
// closes.
func (h *Hub) Run(ctx context.Context, updates <-chan poller.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.apply(ctx, u)
		}
	}
}

func (h *Hub) apply(ctx context.Context, u poller.Update) {
	h.mu.Lock()
	h.order = h.order[:0]
	for _, c := range u.Coins {
		h.coins[c.ID] = c
		h.order = append(h.order, c.ID)
		if !u.Stale && c.HasPrice() {
			ring, ok := h.history[c.ID]
			if !ok {
				ring = ringbuf.New(historyCap)
				h.history[c.ID] = ring
			}
			ring.Append(model.PricePoint{TS: u.At, Price: c.Price})
		}
	}
	h.stale = u.Stale
	h.updatedAt = u.At
	h.mu.Unlock()

	for _, fn := range h.onRefresh {
		fn(ctx, u)
	}
	h.broadcast(u)
}

// Quote implements simulator.QuoteSource.
func (h *Hub) Quote(id string) (model.Coin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.coins[id]
	return c, ok
}

// Snapshot returns the latest coins in market-cap order plus feed metadata.
func (h *Hub) Snapshot() ([]model.Coin, bool, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	coins := make([]model.Coin, 0, len(h.order))
	for _, id := range h.order {
		coins = append(coins, h.coins[id])
	}
	return coins, h.stale, h.updatedAt
}

// SnapshotMap returns the latest coins keyed by id, for revaluation.
func (h *Hub) SnapshotMap() map[string]model.Coin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]model.Coin, len(h.coins))
	for id, c := range h.coins {
		cp[id] = c
	}
	return cp
}

// Seed loads a persisted snapshot (warm start) without broadcasting.
func (h *Hub) Seed(coins []model.Coin) {
	if len(coins) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range coins {
		h.coins[c.ID] = c
		h.order = append(h.order, c.ID)
	}
	h.stale = true // until the first live refresh
	log.Printf("[hub] seeded %d coins from warm store", len(coins))
}

// Observed returns the locally observed price history for a coin.
func (h *Hub) Observed(id string) []model.PricePoint {
	h.mu.RLock()
	ring, ok := h.history[id]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return ring.Points()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the site origin; same-host deployments
	// and local dev both pass.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the connection and registers the client. The client
// immediately receives the current snapshot envelope.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] ws upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[hub] ws client connected (%d total)", count)

	if env := h.currentEnvelope(); env != nil {
		client.send <- env
	}
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// refreshEnvelope is the wire format pushed to WS clients on every refresh.
type refreshEnvelope struct {
	Type  string       `json:"type"`
	Coins []model.Coin `json:"coins"`
	Stale bool         `json:"stale"`
	TS    time.Time    `json:"ts"`
}

func (h *Hub) currentEnvelope() []byte {
	coins, stale, at := h.Snapshot()
	if len(coins) == 0 {
		return nil
	}
	env, err := json.Marshal(refreshEnvelope{Type: "markets", Coins: coins, Stale: stale, TS: at})
	if err != nil {
		return nil
	}
	return env
}

func (h *Hub) broadcast(u poller.Update) {
	env, err := json.Marshal(refreshEnvelope{Type: "markets", Coins: u.Coins, Stale: u.Stale, TS: u.At})
	if err != nil {
		log.Printf("[hub] envelope marshal failed: %v", err)
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- env:
		default:
			// Slow client: skip this refresh, it will catch up on the next.
		}
	}
	h.mu.RUnlock()
}
