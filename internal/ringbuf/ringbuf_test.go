package ringbuf

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"beuhouse-backend/internal/model"
)

func point(sec int64) model.PricePoint {
	return model.PricePoint{
		TS:    time.Unix(sec, 0).UTC(),
		Price: decimal.NewFromInt(sec),
	}
}

func TestRing_AppendAndPoints(t *testing.T) {
	r := New(4)

	r.Append(point(1))
	r.Append(point(2))

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	pts := r.Points()
	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	if !pts[0].Price.Equal(decimal.NewFromInt(1)) || !pts[1].Price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("points out of order: %v", pts)
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	r := New(4)

	for i := int64(1); i <= 6; i++ {
		r.Append(point(i))
	}

	if r.Len() != 4 {
		t.Fatalf("expected len=4, got %d", r.Len())
	}
	pts := r.Points()
	for i, want := range []int64{3, 4, 5, 6} {
		if !pts[i].Price.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("at index %d: expected %d, got %s", i, want, pts[i].Price)
		}
	}
}

func TestRing_Since(t *testing.T) {
	r := New(8)
	for i := int64(1); i <= 5; i++ {
		r.Append(point(i * 100))
	}

	got := r.Since(time.Unix(300, 0).UTC())
	if len(got) != 3 {
		t.Fatalf("expected 3 points at or after t=300, got %d", len(got))
	}
	if got[0].TS.Unix() != 300 {
		t.Fatalf("first point at %d, want 300", got[0].TS.Unix())
	}

	if got := r.Since(time.Unix(10_000, 0)); got != nil {
		t.Fatalf("expected nil for future cutoff, got %v", got)
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	for round := int64(0); round < 5; round++ {
		for i := int64(0); i < 4; i++ {
			r.Append(point(round*10 + i))
		}
		pts := r.Points()
		if len(pts) != 4 {
			t.Fatalf("round %d: len=%d", round, len(pts))
		}
		for i := int64(0); i < 4; i++ {
			if want := round*10 + i; pts[i].TS.Unix() != want {
				t.Fatalf("round %d index %d: expected %d, got %d", round, i, want, pts[i].TS.Unix())
			}
		}
	}
}

func TestRing_ConcurrentAccess(t *testing.T) {
	r := New(64)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 10_000; i++ {
			r.Append(point(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1_000; i++ {
			pts := r.Points()
			for j := 1; j < len(pts); j++ {
				if pts[j].TS.Before(pts[j-1].TS) {
					t.Errorf("points out of order at %d", j)
					return
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent test timed out")
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
