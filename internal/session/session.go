// Package session owns the console channel of a run.
//
// A Session binds an open transport to the monitor driver on top of
// it.  It is created only by Acquire, which guarantees the monitor
// answered a synchronization handshake, and it is closed by Release,
// which may be called any number of times from any exit path.
package session

import (
	"context"
	"io"
	"sync"
	"time"

	fderr "openfd/internal/errors"
	"openfd/internal/transport"
	"openfd/util"
)

// Console is what collaborators need from the bootloader monitor.
type Console interface {
	Sync(ctx context.Context, timeout time.Duration) error
	Cmd(ctx context.Context, line string, timeout time.Duration) (string, error)
	Expect(ctx context.Context, want string, timeout time.Duration) (string, error)
	CancelCmd(ctx context.Context) error
	GetEnv(ctx context.Context, name string) (string, error)
	SetEnv(ctx context.Context, name, value string) error
	SaveEnv(ctx context.Context) error
}

// ConsoleFactory builds the monitor driver for an open channel.  rw is
// nil in dry-run mode.
type ConsoleFactory func(rw io.ReadWriter) Console

// Options configure Acquire.
type Options struct {
	DryRun      bool
	SyncTimeout time.Duration
	Logger      *util.Logger
}

// Session is an open, synchronized console.
type Session struct {
	Console Console

	name   string
	dryRun bool
	logger *util.Logger

	mu    sync.Mutex
	conn  io.Closer
	alive bool
}

// Acquire opens the channel described by opener and synchronizes with
// the monitor.  On failure the channel is closed before the error is
// returned, so the caller has nothing to release.
func Acquire(ctx context.Context, opener transport.Opener, newConsole ConsoleFactory, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	s := &Session{name: opener.String(), dryRun: opts.DryRun, logger: logger}

	if opts.DryRun {
		logger.Info("[dryrun] console: would open %s", s.name)
		s.Console = newConsole(nil)
		s.alive = true
		return s, nil
	}

	logger.Verbose("console: opening %s", s.name)
	conn, err := opener.Open(ctx)
	if err != nil {
		var te *fderr.TransportError
		if !fderr.As(err, &te) {
			err = fderr.WrapTransport("open", s.name, err)
		}
		return nil, err
	}

	s.conn = conn
	s.alive = true
	s.Console = newConsole(conn)

	if err := s.Console.Sync(ctx, opts.SyncTimeout); err != nil {
		s.Release() //nolint:errcheck
		return nil, err
	}
	logger.Verbose("console: synchronized with %s", s.name)
	return s, nil
}

// Release closes the channel.  It is safe on a nil, failed or already
// released session; only the first call on a live session closes.
func (s *Session) Release() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return nil
	}
	s.alive = false
	if c, ok := s.Console.(io.Closer); ok {
		c.Close() //nolint:errcheck
	}
	if s.conn == nil {
		return nil
	}
	s.logger.Verbose("console: closing %s", s.name)
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fderr.WrapTransport("close", s.name, err)
	}
	return nil
}

// Alive reports whether the session has not been released.
func (s *Session) Alive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// DryRun reports whether commands are only logged.
func (s *Session) DryRun() bool { return s != nil && s.dryRun }

// String names the underlying channel.
func (s *Session) String() string {
	if s == nil {
		return "<no console>"
	}
	return s.name
}
