package batch

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}

	results := Map(context.Background(), Config{MaxConcurrency: 3}, items, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})

	got := make([]int, len(results))
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d: unexpected error %v", i, r.Err)
		}
		if r.Index != i {
			t.Errorf("results[%d].Index = %d", i, r.Index)
		}
		got[i] = r.Value
	}
	if want := []int{50, 10, 40, 20, 30}; !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 20)

	Map(context.Background(), Config{MaxConcurrency: 3}, items, func(_ context.Context, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestMap_ErrorsAreIsolated(t *testing.T) {
	boom := errors.New("boom")
	results := Map(context.Background(), DefaultConfig(), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})

	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("unrelated items failed: %+v", results)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want boom", results[1].Err)
	}
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results := Map(ctx, DefaultConfig(), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})

	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("Err = %v, want context.Canceled", r.Err)
		}
	}
}

func TestMap_Timeout(t *testing.T) {
	results := Map(context.Background(), Config{MaxConcurrency: 1, Timeout: 5 * time.Millisecond}, []int{1}, func(ctx context.Context, _ int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want DeadlineExceeded", results[0].Err)
	}
}

func TestMap_Empty(t *testing.T) {
	results := Map(context.Background(), DefaultConfig(), []int(nil), func(_ context.Context, n int) (int, error) {
		t.Fatal("fn should not be called")
		return 0, nil
	})
	if len(results) != 0 {
		t.Errorf("len = %d, want 0", len(results))
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"even", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3}, 2, [][]int{{1, 2}, {3}}},
		{"larger than input", []int{1, 2}, 10, [][]int{{1, 2}}},
		{"empty", nil, 3, nil},
		{"zero size", []int{1, 2}, 0, [][]int{{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Chunk(tt.items, tt.size); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk() = %v, want %v", got, tt.want)
			}
		})
	}
}
