package fetchmap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesInputOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	got, err := Map(context.Background(), items, 8, func(_ context.Context, n int) (string, error) {
		// Finish out of order on purpose.
		time.Sleep(time.Duration(50-n) * time.Microsecond)
		return fmt.Sprintf("r%d", n), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range got {
		if want := fmt.Sprintf("r%d", i); r != want {
			t.Fatalf("result[%d] = %q, want %q", i, r, want)
		}
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var active, peak int32
	items := make([]int, 40)

	_, err := Map(context.Background(), items, 4, func(_ context.Context, _ int) (int, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak > 4 {
		t.Errorf("observed %d concurrent tasks, limit was 4", peak)
	}
}

func TestMapFirstErrorFailsAll(t *testing.T) {
	boom := errors.New("boom")
	items := []int{0, 1, 2, 3}

	got, err := Map(context.Background(), items, 2, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got != nil {
		t.Errorf("partial results returned on error: %v", got)
	}
}

func TestMapEmptyInput(t *testing.T) {
	got, err := Map(context.Background(), nil, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v for empty input", got)
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten([][]int{{1, 2}, nil, {3}, {4, 5}})
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Flatten = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Flatten = %v, want %v", got, want)
		}
	}
}
