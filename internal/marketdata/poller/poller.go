// Package poller drives the periodic market refresh: it pulls the top-of-market
// snapshot from the gateway on a fixed interval and publishes each result to
// a single consumer. The site never talks to the upstream API per request;
// everything reads from the latest published snapshot.
package poller

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"beuhouse-backend/internal/logger"
	"beuhouse-backend/internal/model"
	"beuhouse-backend/internal/notification"
)

// Fetcher is the slice of the gateway client the poller needs.
type Fetcher interface {
	Markets(ctx context.Context, page, perPage int) ([]model.Coin, error)
}

// Update is one published refresh. Stale marks a snapshot republished after
// consecutive upstream failures; consumers keep serving it rather than
// blocking, but can surface the staleness.
type Update struct {
	Coins []model.Coin
	Stale bool
	At    time.Time
}

type Config struct {
	Interval    time.Duration // default: 5m
	PerPage     int           // default: 50
	MaxFailures int           // consecutive failures before the feed is marked stale, default: 3
	Notifier    notification.Notifier
	OnFetch     func(d time.Duration, err error) // metrics hook, optional
}

type Poller struct {
	fetcher     Fetcher
	interval    time.Duration
	perPage     int
	maxFailures int
	notifier    notification.Notifier
	onFetch     func(time.Duration, error)

	out      chan Update
	last     []model.Coin
	failures int
	alerted  bool
}

func New(fetcher Fetcher, cfg Config) *Poller {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PerPage == 0 {
		cfg.PerPage = 50
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogNotifier()
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    cfg.Interval,
		perPage:     cfg.PerPage,
		maxFailures: cfg.MaxFailures,
		notifier:    cfg.Notifier,
		onFetch:     cfg.OnFetch,
		out:         make(chan Update, 1),
	}
}

// Updates returns the channel refreshes are published on. The channel has a
// buffer of one and stale results are dropped in favor of newer ones, so a
// slow consumer always sees the most recent snapshot.
func (p *Poller) Updates() <-chan Update {
	return p.out
}

// Run fetches immediately, then on every interval tick until the context is
// cancelled. It closes the updates channel on return.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.out)

	p.fetch(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[poller] stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			p.fetch(ctx)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("refresh", start))
	coins, err := p.fetcher.Markets(ctx, 1, p.perPage)
	if p.onFetch != nil {
		p.onFetch(time.Since(start), err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failures++
		slog.Warn("markets fetch failed",
			append([]any{slog.Int("consecutive", p.failures), slog.Any("err", err)},
				logger.LogWithTrace(ctx)...)...)
		if p.failures >= p.maxFailures {
			p.markStale(ctx, err)
		}
		return
	}

	if p.failures >= p.maxFailures && p.alerted {
		p.notify(ctx, notification.AlertInfo, "market data recovered",
			fmt.Sprintf("feed healthy again after %d failed refreshes", p.failures))
		p.alerted = false
	}
	p.failures = 0
	p.last = coins
	p.publish(Update{Coins: coins, At: time.Now().UTC()})
}

// markStale republishes the last good snapshot flagged stale and raises a
// one-shot outage alert.
func (p *Poller) markStale(ctx context.Context, cause error) {
	if !p.alerted {
		p.notify(ctx, notification.AlertWarning, "market data outage",
			fmt.Sprintf("%d consecutive refresh failures, serving stale data: %v", p.failures, cause))
		p.alerted = true
	}
	if len(p.last) > 0 {
		p.publish(Update{Coins: p.last, Stale: true, At: time.Now().UTC()})
	}
}

func (p *Poller) publish(u Update) {
	for {
		select {
		case p.out <- u:
			return
		default:
			// Drop the unconsumed older snapshot.
			select {
			case <-p.out:
			default:
			}
		}
	}
}

func (p *Poller) notify(ctx context.Context, level notification.AlertLevel, title, msg string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.notifier.Send(sendCtx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[poller] alert delivery failed: %v", err)
	}
}
