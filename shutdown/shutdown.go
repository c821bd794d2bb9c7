package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/logging"
)

// DefaultTimeout bounds a coordinated shutdown when no explicit timeout
// is given.
const DefaultTimeout = 30 * time.Second

// Common phases. Lower phases close first; handlers in the same phase
// close concurrently.
const (
	PhaseFrontend = 10 // stop accepting new lifecycle operations
	PhaseEngines  = 20 // drain checkpoint and snapshot work
	PhaseStorage  = 30 // close registries, indexes, lock tables
)

// Handler closes one component. Implementations should stop accepting
// new work, finish what is in flight while the context allows, and
// release resources.
type Handler func(ctx context.Context) error

type registration struct {
	name    string
	phase   int
	seq     int
	handler Handler
}

// Coordinator runs registered handlers in phase order during shutdown.
type Coordinator struct {
	logger  *logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	handlers []registration
	seq      int

	once sync.Once
	done chan struct{}
	err  error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger.WithComponent("shutdown")
		}
	}
}

// WithTimeout overrides the default shutdown timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:  logging.Nop(),
		timeout: DefaultTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a handler at the given phase.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.handlers = append(c.handlers, registration{
		name:    name,
		phase:   phase,
		seq:     c.seq,
		handler: handler,
	})
}

// Shutdown runs every handler, phase by phase. Handler failures are
// collected but never stop the remaining phases. Repeat calls return
// the first run's result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			c.ShutdownWithTimeout()
		case <-c.done:
		}
	}()
}

// Done is closed once shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.Slice(handlers, func(i, j int) bool {
		if handlers[i].phase != handlers[j].phase {
			return handlers[i].phase < handlers[j].phase
		}
		return handlers[i].seq < handlers[j].seq
	})

	var failed []string
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}
		failed = append(failed, c.runPhase(ctx, handlers[start:end])...)
		start = end
	}

	if len(failed) > 0 {
		return errors.Newf(errors.ErrCodeInternal, "shutdown handlers failed: %v", failed)
	}
	return nil
}

// runPhase closes one phase's handlers concurrently and returns the
// names of those that failed.
func (c *Coordinator) runPhase(ctx context.Context, phase []registration) []string {
	results := make([]error, len(phase))
	var wg sync.WaitGroup
	for i, reg := range phase {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			started := time.Now()
			results[i] = reg.handler(ctx)
			if results[i] != nil {
				c.logger.Warn("component close failed", map[string]interface{}{
					"component": reg.name,
					"err":       results[i].Error(),
				})
				return
			}
			c.logger.Debug("component closed", map[string]interface{}{
				"component": reg.name,
				"took":      time.Since(started).String(),
			})
		}(i, reg)
	}
	wg.Wait()

	var failed []string
	for i, err := range results {
		if err != nil {
			failed = append(failed, phase[i].name)
		}
	}
	return failed
}
