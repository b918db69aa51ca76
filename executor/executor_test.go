package executor

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestExecutorRunsInSubmissionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := New(8)
	defer e.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		e.Spawn(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order execution: %v", order)
		}
	}
}

func TestExecutorCloseDrainsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := New(4)
	ran := make(chan struct{}, 1)
	e.Spawn(func() { ran <- struct{}{} })
	e.Close()

	select {
	case <-ran:
	default:
		t.Fatal("queued task never ran before Close returned")
	}
}
