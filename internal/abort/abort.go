// Package abort turns process signals into cooperative cancellation.
//
// The signal handler never touches resources.  It logs once, raises an
// atomic flag and cancels the run context; the orchestrator observes
// the flag at its next checkpoint and unwinds through its normal
// release path.
package abort

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"openfd/util"
)

// ErrInterrupted is returned by Checkpoint once a signal was received.
var ErrInterrupted = errors.New("interrupted by signal")

// Controller owns the signal subscription for a single run.
type Controller struct {
	logger      *util.Logger
	interrupted atomic.Bool
	signal      atomic.Value // os.Signal

	mu     sync.Mutex
	cancel context.CancelFunc
	sigCh  chan os.Signal
	done   chan struct{}
}

// New returns an idle controller.
func New(logger *util.Logger) *Controller {
	return &Controller{logger: logger}
}

// Start subscribes to SIGINT and SIGTERM and returns a context that is
// cancelled when either arrives.  Call Stop when the run is over.
func (c *Controller) Start(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.sigCh = make(chan os.Signal, 1)
	c.done = make(chan struct{})
	sigCh, done := c.sigCh, c.done
	c.mu.Unlock()

	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			c.Trigger(sig)
		case <-done:
		}
	}()
	return ctx
}

// Trigger records an interruption as if sig had been delivered.
func (c *Controller) Trigger(sig os.Signal) {
	if !c.interrupted.CompareAndSwap(false, true) {
		return
	}
	c.signal.Store(sig)
	if c.logger != nil {
		c.logger.Warn("received %v, stopping after the current step", sig)
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop unsubscribes from signals and releases the run context.  It is
// safe to call more than once and on a controller that never started.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sigCh != nil {
		signal.Stop(c.sigCh)
		close(c.done)
		c.sigCh = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Interrupted reports whether a signal has been received.
func (c *Controller) Interrupted() bool {
	return c != nil && c.interrupted.Load()
}

// Signal returns the signal that interrupted the run, or nil.
func (c *Controller) Signal() os.Signal {
	if c == nil {
		return nil
	}
	sig, _ := c.signal.Load().(os.Signal)
	return sig
}

// Checkpoint returns ErrInterrupted once a signal has been received.
// Callers place it after every blocking step.
func (c *Controller) Checkpoint() error {
	if c.Interrupted() {
		return ErrInterrupted
	}
	return nil
}
