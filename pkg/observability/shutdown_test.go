package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	server := &http.Server{}

	t.Run("with custom timeout", func(t *testing.T) {
		sm := NewShutdownManager(logger, 10*time.Second, server)
		if sm == nil {
			t.Fatal("Expected non-nil shutdown manager")
		}
		if sm.timeout != 10*time.Second {
			t.Errorf("Expected timeout 10s, got %v", sm.timeout)
		}
		if len(sm.servers) != 1 {
			t.Errorf("Expected 1 server, got %d", len(sm.servers))
		}
	})

	t.Run("zero timeout uses default", func(t *testing.T) {
		sm := NewShutdownManager(logger, 0)
		if sm.timeout != 30*time.Second {
			t.Errorf("Expected default timeout 30s, got %v", sm.timeout)
		}
	})
}

func TestShutdownManager_Register(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, time.Second)

	sm.Register("first", func(ctx context.Context) error { return nil })
	sm.Register("second", func(ctx context.Context) error { return nil })

	if len(sm.closers) != 2 {
		t.Fatalf("Expected 2 closers, got %d", len(sm.closers))
	}
	if sm.closers[0].name != "first" || sm.closers[1].name != "second" {
		t.Error("Closers not recorded in registration order")
	}
}

func TestShutdownManager_RegisterConcurrent(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Register("closer", func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if len(sm.closers) != 10 {
		t.Errorf("Expected 10 closers, got %d", len(sm.closers))
	}
}

func TestShutdownManager_Wait(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})

	t.Run("closers run in reverse order on signal", func(t *testing.T) {
		sm := NewShutdownManager(logger, 5*time.Second)

		var mu sync.Mutex
		var order []string
		record := func(name string) CloserFunc {
			return func(ctx context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, name)
				return nil
			}
		}
		sm.Register("database", record("database"))
		sm.Register("redis", record("redis"))

		done := make(chan error, 1)
		go func() { done <- sm.Wait() }()

		// Give Wait a moment to install its signal handler.
		time.Sleep(50 * time.Millisecond)
		if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
			t.Fatalf("Failed to send signal: %v", err)
		}

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Expected clean shutdown, got %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Wait did not return after signal")
		}

		mu.Lock()
		defer mu.Unlock()
		if len(order) != 2 || order[0] != "redis" || order[1] != "database" {
			t.Errorf("Expected reverse order [redis database], got %v", order)
		}
	})

	t.Run("closer errors are reported", func(t *testing.T) {
		sm := NewShutdownManager(logger, 5*time.Second)
		sm.Register("broken", func(ctx context.Context) error {
			return errors.New("close failed")
		})

		done := make(chan error, 1)
		go func() { done <- sm.Wait() }()

		time.Sleep(50 * time.Millisecond)
		if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
			t.Fatalf("Failed to send signal: %v", err)
		}

		select {
		case err := <-done:
			if err == nil {
				t.Error("Expected an error from failed closer")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Wait did not return after signal")
		}
	})
}
