package handlers

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePinger struct {
	mu        sync.Mutex
	pings     chan struct{}
	failAfter int
	count     int
}

func (f *fakePinger) WritePing() error {
	f.mu.Lock()
	f.count++
	n := f.count
	f.mu.Unlock()
	if f.failAfter > 0 && n > f.failAfter {
		return errors.New("connection gone")
	}
	select {
	case f.pings <- struct{}{}:
	default:
	}
	return nil
}

func TestPingLoopSendsPeriodicPings(t *testing.T) {
	p := &fakePinger{pings: make(chan struct{}, 8)}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		pingLoop(p, time.Millisecond, stop)
		close(done)
	}()

	// idle connections stay alive only if the server keeps pinging
	for i := 0; i < 2; i++ {
		select {
		case <-p.pings:
		case <-time.After(2 * time.Second):
			t.Fatal("expected a ping frame")
		}
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ping loop must stop when told to")
	}
}

func TestPingLoopStopsOnWriteFailure(t *testing.T) {
	p := &fakePinger{pings: make(chan struct{}, 8), failAfter: 1}
	done := make(chan struct{})
	go func() {
		pingLoop(p, time.Millisecond, make(chan struct{}))
		close(done)
	}()

	select {
	case <-p.pings:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the first ping")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ping loop must exit once the transport fails")
	}
}
