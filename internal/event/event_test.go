package event

import "testing"

func TestAdvanceFiresInDeadlineOrder(t *testing.T) {
	s := New(1, 0, 0)
	var order []int
	s.Schedule(1000, nil, 0, func(data any, code uint32) { order = append(order, 1) }, "a")
	s.Schedule(500, nil, 0, func(data any, code uint32) { order = append(order, 2) }, "b")
	s.Advance(int((1010 + NsPerCycle - 1) / NsPerCycle)) // 1000ns plus up to 1% jitter
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected [2 1], got %v", order)
	}
}

func TestQueueMonotoneAndSorted(t *testing.T) {
	s := New(2, 0, 0)
	last := int64(-1)
	fired := 0
	for i := 0; i < 10; i++ {
		s.Schedule(int64(100*(10-i)), nil, 0, func(data any, code uint32) { fired++ }, "x")
	}
	for _, ev := range s.events {
		if ev.deadline < last {
			t.Fatalf("queue not sorted ascending")
		}
		last = ev.deadline
	}
	s.Advance(1_000_000)
	if fired != 10 {
		t.Fatalf("expected all 10 events to fire, got %d", fired)
	}
}

func TestVirtualNowMonotone(t *testing.T) {
	s := New(3, 0, 0)
	prev := s.Now()
	for i := 0; i < 5; i++ {
		s.Advance(100)
		if s.Now() < prev {
			t.Fatal("virtual_now went backwards")
		}
		prev = s.Now()
	}
}

func TestMaxCyclesCappedAndZeroWhenDue(t *testing.T) {
	s := New(4, 0, 0)
	if got := s.MaxCyclesUntilNextEvent(); got != SoftCeilingCycles {
		t.Fatalf("expected soft ceiling with no events, got %d", got)
	}
	s.Schedule(0, nil, 0, func(any, uint32) {}, "due-now")
	if got := s.MaxCyclesUntilNextEvent(); got != 0 {
		t.Fatalf("expected 0 cycles when event already due, got %d", got)
	}
}

func TestEventPoolExhaustionPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on pool exhaustion")
		}
	}()
	s := New(5, 0, 0)
	for i := 0; i < maxEvents+1; i++ {
		s.Schedule(int64(i+1), nil, 0, func(any, uint32) {}, "overflow")
	}
}

func TestJitterWithinOnePercent(t *testing.T) {
	s := New(6, 0, 0)
	const delay = 1_000_000
	for i := 0; i < 100; i++ {
		j := s.jitter(delay)
		if j < 0 || j > delay*jitterFraction {
			t.Fatalf("jitter %d out of bounds for delay %d", j, delay)
		}
	}
}
