package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CloserFunc releases a resource during shutdown
type CloserFunc func(context.Context) error

type namedCloser struct {
	name string
	fn   CloserFunc
}

// ShutdownManager drains the HTTP servers and then releases registered
// resources when SIGINT or SIGTERM arrives.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	closers []namedCloser
	timeout time.Duration
	mu      sync.Mutex
}

// NewShutdownManager creates a shutdown manager for the given servers
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
	}
}

// Register adds a named resource to release after the servers drain
func (sm *ShutdownManager) Register(name string, fn CloserFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, fn: fn})
}

// Wait blocks until a shutdown signal is received, then performs the
// graceful shutdown sequence.
func (sm *ShutdownManager) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error

	for _, srv := range sm.servers {
		sm.logger.Infof("Draining HTTP server on %s", srv.Addr)
		if err := srv.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Errorf("HTTP server %s shutdown error", srv.Addr)
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Addr, err))
		}
	}

	sm.mu.Lock()
	closers := sm.closers
	sm.mu.Unlock()

	// Closers run in reverse registration order so dependents release
	// before their dependencies.
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		select {
		case <-ctx.Done():
			sm.logger.Warn("Shutdown timeout reached before all closers ran")
			return fmt.Errorf("shutdown timeout reached")
		default:
		}

		sm.logger.Infof("Closing %s", c.name)
		if err := c.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Failed to close %s", c.name)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors", len(errs))
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
