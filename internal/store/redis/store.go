// Package redis is the warm store for market snapshots. Every poll result is
// persisted so a restarted server can serve prices immediately instead of
// waiting for the first upstream refresh, and published for any sibling
// process that wants the feed. Writes go through a circuit breaker: a dead
// Redis degrades to in-memory only, it never blocks the refresh path.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"beuhouse-backend/internal/model"
)

const (
	keyMarketsLatest = "markets:latest"
	keyCoinPrefix    = "coin:latest:"
	channelMarkets   = "pub:markets"

	snapshotTTL = 30 * time.Minute
)

// Config configures the snapshot store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store persists the latest market snapshot.
type Store struct {
	client *goredis.Client
	cb     *CircuitBreaker

	mu      sync.Mutex
	pending []model.Coin // latest snapshot that failed to persist
}

// New creates a snapshot store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := &Store{
		client: client,
		cb:     NewCircuitBreaker(5, 10*time.Second),
	}
	s.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return s, nil
}

// Client returns the underlying client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// SaveSnapshot persists a market snapshot: the full list under one key plus
// one key per coin, then a pubsub notification, all in a single pipeline.
// While the breaker is open the snapshot is parked in memory and flushed on
// the next successful write; the caller never sees Redis downtime.
func (s *Store) SaveSnapshot(ctx context.Context, coins []model.Coin) error {
	err := s.cb.Execute(func() error {
		return s.write(ctx, coins)
	})
	if err != nil {
		s.mu.Lock()
		s.pending = coins
		s.mu.Unlock()
		if err == ErrCircuitOpen {
			return nil
		}
		return err
	}

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

// FlushPending retries the last unpersisted snapshot, if any. Called
// periodically by the owner so recovery does not wait for the next poll.
func (s *Store) FlushPending(ctx context.Context) {
	s.mu.Lock()
	coins := s.pending
	s.mu.Unlock()
	if coins == nil {
		return
	}
	if err := s.SaveSnapshot(ctx, coins); err != nil {
		log.Printf("[redis] pending snapshot flush failed: %v", err)
	}
}

func (s *Store) write(ctx context.Context, coins []model.Coin) error {
	full, err := json.Marshal(coins)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, keyMarketsLatest, full, snapshotTTL)
	for i := range coins {
		pipe.Set(ctx, keyCoinPrefix+coins[i].ID, coins[i].JSON(), snapshotTTL)
	}
	pipe.Publish(ctx, channelMarkets, full)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("snapshot pipeline (%d coins): %w", len(coins), err)
	}
	return nil
}

// LoadSnapshot reads the persisted market snapshot. Returns nil with no
// error when none exists (cold start).
func (s *Store) LoadSnapshot(ctx context.Context) ([]model.Coin, error) {
	raw, err := s.client.Get(ctx, keyMarketsLatest).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET %s: %w", keyMarketsLatest, err)
	}

	var coins []model.Coin
	if err := json.Unmarshal(raw, &coins); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return coins, nil
}

// Healthy reports whether Redis answers a ping and the breaker is closed.
func (s *Store) Healthy(ctx context.Context) bool {
	if s.cb.CurrentState() != StateClosed {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err() == nil
}

// BreakerState exposes the circuit state for metrics.
func (s *Store) BreakerState() State {
	return s.cb.CurrentState()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
