package gateway

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// NewRouter builds the site's HTTP surface: REST API, WebSocket feed.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(10, 20)) // 10 req/s sustained, bursts of 20 per IP

		r.Get("/markets", h.Markets)
		r.Get("/trending", h.Trending)
		r.Get("/coins/{id}", h.CoinDetail)
		r.Get("/coins/{id}/history", h.CoinHistory)
		r.Get("/coins/{id}/observed", h.CoinObserved)

		r.Route("/sim", func(r chi.Router) {
			r.Get("/portfolio", h.SimPortfolio)
			r.Post("/initial", h.SimSetInitial)
			r.Post("/buy", h.SimBuy)
			r.Post("/sell", h.SimSell)
			r.Post("/reset", h.SimReset)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Group(func(r chi.Router) {
				r.Use(h.Auth.Middleware)
				r.Post("/totp/begin", h.TOTPBegin)
				r.Post("/totp/confirm", h.TOTPConfirm)
				r.Post("/totp/disable", h.TOTPDisable)
			})
		})

		r.Get("/sections/{section}/posts", h.ListPosts)
		r.Get("/posts/{id}", h.GetPost)
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)
			r.Post("/sections/{section}/posts", h.CreatePost)
			r.Put("/posts/{id}", h.UpdatePost)
			r.Delete("/posts/{id}", h.DeletePost)
		})
	})

	r.Get("/ws", h.Hub.HandleWS)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit is a per-IP token bucket. Limiters are evicted after an hour of
// inactivity.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiters := gocache.New(time.Hour, 10*time.Minute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			var limiter *rate.Limiter
			if v, ok := limiters.Get(ip); ok {
				limiter = v.(*rate.Limiter)
			} else {
				limiter = rate.NewLimiter(rate.Limit(rps), burst)
				limiters.SetDefault(ip, limiter)
			}
			if !limiter.Allow() {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
