// Package ringbuf provides a fixed-capacity overwrite ring for price history.
// The hub keeps one ring per tracked coin so the site can chart recent
// observed prices without hitting the gateway. Old points are overwritten
// once capacity is reached.
package ringbuf

import (
	"sync"
	"time"

	"beuhouse-backend/internal/model"
)

// Ring is a bounded price-point history. Capacity is rounded up to the next
// power of two for fast bitwise modulo. Safe for concurrent use.
type Ring struct {
	mu   sync.RWMutex
	buf  []model.PricePoint
	mask uint64
	head uint64 // total points ever appended
}

// New creates a ring. Minimum capacity is 2.
func New(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.PricePoint, n),
		mask: uint64(n - 1),
	}
}

// Append records a point, overwriting the oldest once the ring is full.
func (r *Ring) Append(p model.PricePoint) {
	r.mu.Lock()
	r.buf[r.head&r.mask] = p
	r.head++
	r.mu.Unlock()
}

// Len returns the number of retained points.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.head > uint64(len(r.buf)) {
		return len(r.buf)
	}
	return int(r.head)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Points returns the retained history, oldest first.
func (r *Ring) Points() []model.PricePoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyLocked(0)
}

// Since returns the retained points at or after the given time, oldest first.
func (r *Ring) Since(t time.Time) []model.PricePoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.copyLocked(0)
	for i, p := range all {
		if !p.TS.Before(t) {
			return all[i:]
		}
	}
	return nil
}

func (r *Ring) copyLocked(from uint64) []model.PricePoint {
	size := uint64(len(r.buf))
	start := from
	if r.head > size && start < r.head-size {
		start = r.head - size
	}
	out := make([]model.PricePoint, 0, r.head-start)
	for i := start; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
