package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"beuhouse-backend/internal/model"
	"beuhouse-backend/internal/simulator"
)

const sessionCookie = "beu_sim"

// defaultInitialInvestment is the virtual stake every new session starts with.
var defaultInitialInvestment = decimal.NewFromInt(10_000)

// Sessions maps visitor cookies to simulator portfolios. Portfolios are
// evicted after the TTL of inactivity; an evicted visitor simply starts over
// with a fresh stake.
type Sessions struct {
	quotes simulator.QuoteSource
	cache  *gocache.Cache
	ttl    time.Duration
}

func NewSessions(quotes simulator.QuoteSource, ttl time.Duration) *Sessions {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		quotes: quotes,
		cache:  gocache.New(ttl, 10*time.Minute),
		ttl:    ttl,
	}
}

// Portfolio resolves the request's session to its portfolio, creating both
// when missing. Every hit slides the session's expiry.
func (s *Sessions) Portfolio(w http.ResponseWriter, r *http.Request) *simulator.Portfolio {
	id := ""
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		id = c.Value
	}
	if id != "" {
		if v, ok := s.cache.Get(id); ok {
			p := v.(*simulator.Portfolio)
			s.cache.SetDefault(id, p) // slide expiry
			return p
		}
	}

	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			MaxAge:   int(s.ttl / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	p, err := simulator.New(s.quotes, defaultInitialInvestment)
	if err != nil {
		// Unreachable with a non-negative default stake.
		log.Printf("[sessions] portfolio init: %v", err)
	}
	s.cache.SetDefault(id, p)
	return p
}

// RevalueAll pushes a fresh snapshot into every live portfolio.
func (s *Sessions) RevalueAll(snapshots map[string]model.Coin) {
	for _, item := range s.cache.Items() {
		if p, ok := item.Object.(*simulator.Portfolio); ok {
			p.Revalue(snapshots)
		}
	}
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	return s.cache.ItemCount()
}
