package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n)
		if got, want := pool.Workers(), runtime.GOMAXPROCS(0); got != want {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want %d", n, got, want)
		}
		pool.Close()
	}
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestWorkerPool_DispatchRunsEveryGroupOnce(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		groups  int
	}{
		{"fewer groups than workers", 8, 3},
		{"many groups", 4, 1000},
		{"single worker", 1, 50},
		{"zero groups", 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()

			hits := make([]atomic.Int32, tt.groups)
			pool.Dispatch(tt.groups, func(g int) {
				hits[g].Add(1)
			})

			for g := range hits {
				if n := hits[g].Load(); n != 1 {
					t.Errorf("group %d ran %d times, want 1", g, n)
				}
			}
		})
	}
}

func TestWorkerPool_DispatchAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	var sum atomic.Int64
	pool.Dispatch(10, func(g int) { sum.Add(int64(g)) })

	if got := sum.Load(); got != 45 {
		t.Errorf("sum = %d, want 45", got)
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("pool should not be running after Close")
	}
}
