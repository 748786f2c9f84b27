// Package shutdown runs registered cleanup functions when the process is
// asked to stop.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/hpoprun/pkg/logging"
)

// Func is a cleanup step. It must return once ctx is done.
type Func func(context.Context) error

// Manager handles graceful shutdown
type Manager struct {
	funcs   []namedFunc
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
	signals []os.Signal
}

type namedFunc struct {
	name string
	fn   Func
}

// New creates a shutdown manager. Cleanup gets at most timeout in total.
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger.Named("shutdown"),
		done:    make(chan struct{}),
		signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// Register adds a cleanup step. Steps run in reverse order (LIFO).
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Done is closed when shutdown starts
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Shutdown runs every registered step once and returns the first error.
// Later calls are no-ops.
func (m *Manager) Shutdown() error {
	var first error
	m.once.Do(func() {
		close(m.done)

		m.mu.Lock()
		defer m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(m.funcs) - 1; i >= 0; i-- {
			f := m.funcs[i]
			m.logger.Debug("Stopping", map[string]interface{}{"component": f.name})
			if err := f.fn(ctx); err != nil {
				m.logger.Error("Shutdown step failed", map[string]interface{}{"component": f.name, "err": err})
				if first == nil {
					first = fmt.Errorf("%s: %w", f.name, err)
				}
			}
		}

		m.logger.Info("Graceful shutdown complete")
	})
	return first
}

// WaitWithContext blocks until SIGINT/SIGTERM or ctx is done, then shuts
// down. It returns ctx.Err() when the context ended the wait.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, m.signals...)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
		return m.Shutdown()
	case <-ctx.Done():
		m.Shutdown()
		return ctx.Err()
	}
}

// StopHTTPServer wraps http.Server.Shutdown
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) Func {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
		return nil
	}
}

// CloseResource wraps an io.Closer
func CloseResource(closer interface{ Close() error }) Func {
	return func(context.Context) error {
		return closer.Close()
	}
}

// WaitFor polls check until it reports true or ctx ends. Used to let an
// in-flight child finish before the server exits.
func WaitFor(check func() bool, pollInterval time.Duration) Func {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if check() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
