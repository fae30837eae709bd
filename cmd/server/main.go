package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"beuhouse-backend/config"
	"beuhouse-backend/internal/auth"
	"beuhouse-backend/internal/content"
	"beuhouse-backend/internal/gateway"
	"beuhouse-backend/internal/logger"
	"beuhouse-backend/internal/marketdata/coingecko"
	"beuhouse-backend/internal/marketdata/poller"
	"beuhouse-backend/internal/metrics"
	"beuhouse-backend/internal/notification"
	"beuhouse-backend/internal/store/redis"
	"beuhouse-backend/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("beuhouse", slog.LevelInfo)
	log.Println("[server] starting...")

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	health := metrics.NewHealthStatus()

	// Content store. A dead SQLite is fatal: auth and posts cannot work
	// without it.
	db, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[server] sqlite open failed: %v", err)
	}
	defer db.Close()
	health.CheckSQLite(ctx, db.DB())

	// Warm store. A dead Redis only costs the warm start and snapshot
	// persistence, so the server comes up without it.
	var warm *redis.Store
	if cfg.RedisEnabled {
		warm, err = redis.New(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[server] redis unavailable, running without warm store: %v", err)
			warm = nil
		} else {
			defer warm.Close()
		}
	}

	authSvc, err := auth.NewService(db, auth.Config{
		JWTSecret: []byte(cfg.JWTSecret),
		TokenTTL:  cfg.TokenTTL,
	})
	if err != nil {
		log.Fatalf("[server] auth init failed: %v", err)
	}
	contentSvc := content.NewService(db)

	gecko := coingecko.New(coingecko.Config{
		BaseURL: cfg.CoinGeckoBaseURL,
		APIKey:  cfg.CoinGeckoAPIKey,
	})

	backends := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	var notifier notification.Notifier = backends

	hub := gateway.NewHub()
	sessions := gateway.NewSessions(hub, cfg.SimSessionTTL)

	// Warm start: serve the last persisted snapshot (flagged stale) until
	// the first live refresh lands.
	if warm != nil {
		if coins, err := warm.LoadSnapshot(ctx); err != nil {
			log.Printf("[server] warm start skipped: %v", err)
		} else {
			hub.Seed(coins)
		}
	}

	hub.OnRefresh(func(ctx context.Context, u poller.Update) {
		start := time.Now()
		sessions.RevalueAll(hub.SnapshotMap())
		m.RevalueDur.Observe(time.Since(start).Seconds())

		m.TrackedCoins.Set(float64(len(u.Coins)))
		m.FeedStale.Set(boolGauge(u.Stale))
		m.WSEnvelopesTotal.Inc()
		health.SetRefresh(u.At, u.Stale)
	})
	if warm != nil {
		hub.OnRefresh(func(ctx context.Context, u poller.Update) {
			if u.Stale {
				return
			}
			start := time.Now()
			if err := warm.SaveSnapshot(ctx, u.Coins); err != nil {
				log.Printf("[server] snapshot persist failed: %v", err)
			}
			m.SnapshotWriteDur.Observe(time.Since(start).Seconds())
		})
	}

	p := poller.New(gecko, poller.Config{
		Interval: cfg.PollInterval,
		PerPage:  cfg.MarketsPerPage,
		Notifier: notifier,
		OnFetch: func(d time.Duration, err error) {
			m.RefreshDur.Observe(d.Seconds())
			if err != nil {
				m.RefreshFailures.Inc()
			} else {
				m.RefreshesTotal.Inc()
			}
		},
	})
	go p.Run(ctx)
	go hub.Run(ctx, p.Updates())

	handlers := &gateway.Handlers{
		Hub:      hub,
		Sessions: sessions,
		Market:   gecko,
		Auth:     authSvc,
		Content:  contentSvc,
		OnSimOp: func(op string, err error) {
			if err != nil {
				m.SimOpsRejected.WithLabelValues(op).Inc()
			} else {
				m.SimOpsTotal.WithLabelValues(op).Inc()
			}
		},
	}

	// Slow-moving gauges and warm store recovery on one ticker.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		lastBreaker := redis.StateClosed
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ActiveSessions.Set(float64(sessions.Count()))
				m.WSClients.Set(float64(hub.ClientCount()))
				if warm != nil {
					state := warm.BreakerState()
					m.RedisBreakerState.Set(float64(state))
					if state == redis.StateOpen && lastBreaker != redis.StateOpen {
						m.RedisBreakerTrips.Inc()
					}
					lastBreaker = state
					warm.FlushPending(ctx)
				}
			}
		}
	}()

	if warm != nil {
		health.StartLivenessChecker(ctx, warm.Client(), db.DB(), 30*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, db.DB(), 30*time.Second)
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.NewRouter(handlers),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[server] serving at %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[server] listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[server] shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] http shutdown: %v", err)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Println("[server] stopped")
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
