package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoSerializes(t *testing.T) {
	p := New(1)
	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				cur := atomic.AddInt32(&running, 1)
				for {
					prev := atomic.LoadInt32(&maxRunning)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Fatalf("max concurrent runs = %d, want 1", got)
	}
}

func TestDoCancelledWhileQueuedNeverRuns(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			<-block
			return nil
		})
	}()
	// Wait for the first job to hold the slot.
	deadline := time.Now().Add(time.Second)
	for p.InUse() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first job never acquired the slot")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			ran = true
			return nil
		})
	}()
	cancel()
	err := <-done
	close(block)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatalf("queued fn ran despite cancellation")
	}
}

func TestDoPropagatesError(t *testing.T) {
	p := New(1)
	sentinel := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want %v", err, sentinel)
	}
}

func TestNewClampsCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != 1 {
		t.Fatalf("New(0).Capacity() = %d, want 1", got)
	}
}
