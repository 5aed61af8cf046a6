package selectloop

import (
	"testing"
	"time"
)

func TestWaitFiresOnReady(t *testing.T) {
	d := New()
	ready := make(chan struct{}, 1)
	fired := false
	d.Register(Source{Name: "x", Ready: ready, OnReady: func() { fired = true }})
	ready <- struct{}{}
	if !d.Wait(time.Second) {
		t.Fatal("expected Wait to report activity")
	}
	if !fired {
		t.Fatal("expected OnReady to run")
	}
}

func TestWaitTimesOutWithNoSources(t *testing.T) {
	d := New()
	start := time.Now()
	if d.Wait(10 * time.Millisecond) {
		t.Fatal("expected no activity")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected Wait to actually sleep for the timeout")
	}
}

func TestPollDoesNotBlockWhenIdle(t *testing.T) {
	d := New()
	ready := make(chan struct{})
	d.Register(Source{Name: "idle", Ready: ready})
	start := time.Now()
	d.Poll()
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("Poll should not block when nothing is ready")
	}
}
