package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestMonitor(heap *uint64) *Monitor {
	m := NewMonitor(Config{
		LimitBytes:        1000,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Millisecond,
	})
	m.readHeap = func() uint64 { return *heap }
	return m
}

func TestMonitorPausesAndResumes(t *testing.T) {
	heap := uint64(100)
	m := newTestMonitor(&heap)

	m.check()
	if m.IsPaused() {
		t.Fatal("paused at 10% usage")
	}

	heap = 900
	m.check()
	if !m.IsPaused() {
		t.Fatal("not paused at 90% usage")
	}

	// between the marks the state holds
	heap = 800
	m.check()
	if !m.IsPaused() {
		t.Fatal("resumed above the high water mark")
	}

	heap = 600
	m.check()
	if m.IsPaused() {
		t.Fatal("still paused at 60% usage")
	}

	current, limit, usage := m.Stats()
	if current != 600 || limit != 1000 || usage != 0.6 {
		t.Errorf("Stats() = %d, %d, %v", current, limit, usage)
	}
}

func TestMonitorWait(t *testing.T) {
	heap := uint64(900)
	m := newTestMonitor(&heap)

	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() before any sample = %v", err)
	}

	m.check()
	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	heap = 100
	m.check()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after recovery")
	}
}

func TestMonitorWaitCancelled(t *testing.T) {
	heap := uint64(900)
	m := newTestMonitor(&heap)
	m.check()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
}

func TestMonitorStopReleasesWaiters(t *testing.T) {
	heap := uint64(900)
	m := newTestMonitor(&heap)
	m.check()

	m.Stop()
	m.Stop()
	if err := m.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after Stop = %v", err)
	}
}

func TestMonitorStartSamples(t *testing.T) {
	heap := uint64(950)
	m := newTestMonitor(&heap)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for !m.IsPaused() {
		if time.Now().After(deadline) {
			t.Fatal("background sampling never paused the monitor")
		}
		time.Sleep(time.Millisecond)
	}
}
