package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nevindra/vtrt"
)

func TestScheduler_PriorityOrder(t *testing.T) {
	s := New(0)
	var order []int

	s.Enqueue(vtrt.Priority{Level: 0, Value: 0}, func() { order = append(order, 3) })
	s.Enqueue(vtrt.Priority{Level: 2, Value: 0}, func() { order = append(order, 1) })
	s.Enqueue(vtrt.Priority{Level: 1, Value: 0}, func() { order = append(order, 2) })

	ctx := context.Background()
	if err := s.RunWhile(ctx, func() bool { return s.QueueLen() > 0 }); err != nil {
		t.Fatalf("RunWhile: %v", err)
	}
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestScheduler_FIFOWithinLevel(t *testing.T) {
	s := New(0)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Enqueue(vtrt.Priority{Level: 0, Value: 0}, func() { order = append(order, i) })
	}
	ctx := context.Background()
	if err := s.RunWhile(ctx, func() bool { return s.QueueLen() > 0 }); err != nil {
		t.Fatalf("RunWhile: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

type countingProgressable struct {
	calls int
	done  chan struct{}
}

func (p *countingProgressable) Progress(ctx context.Context) (bool, error) {
	p.calls++
	if p.calls == 3 {
		close(p.done)
	}
	return false, nil
}

func TestScheduler_IsIdlePollsProgressables(t *testing.T) {
	s := New(0)
	p := &countingProgressable{done: make(chan struct{})}
	s.Register(p)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	i := 0
	err := s.RunWhile(ctx, func() bool {
		i++
		return i <= 3
	})
	if err != nil {
		t.Fatalf("RunWhile: %v", err)
	}
	if p.calls == 0 {
		t.Errorf("Progress was never called")
	}

	before := p.calls
	idle, err := s.IsIdle(ctx)
	if err != nil {
		t.Fatalf("IsIdle: %v", err)
	}
	if !idle {
		t.Errorf("IsIdle() = false with an empty queue and no progress made")
	}
	if p.calls != before+1 {
		t.Errorf("IsIdle polled Progress %d times, want 1", p.calls-before)
	}
}

func TestScheduler_Fiber_SuspendResume(t *testing.T) {
	s := New(0)
	fiber := NewFiber(s)

	var ran bool
	susp := fiber.Suspend("waiting for reply", func() { ran = true })
	if ran {
		t.Fatalf("continuation ran before Resume")
	}
	susp.Resume()

	ctx := context.Background()
	if err := s.RunWhile(ctx, func() bool { return s.QueueLen() > 0 }); err != nil {
		t.Fatalf("RunWhile: %v", err)
	}
	if !ran {
		t.Errorf("continuation never ran after Resume")
	}
}

func TestScheduler_Fiber_ReleaseIsNoop(t *testing.T) {
	s := New(0)
	fiber := NewFiber(s)

	var ran bool
	susp := fiber.Suspend("abandoned", func() { ran = true })
	susp.Release()
	susp.Resume() // must be a no-op after Release

	ctx := context.Background()
	if err := s.RunWhile(ctx, func() bool { return s.QueueLen() > 0 }); err != nil {
		t.Fatalf("RunWhile: %v", err)
	}
	if ran {
		t.Errorf("continuation ran after Release")
	}
}
