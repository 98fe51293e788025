// Package sessiontest provides a scripted monitor console for tests of
// packages that drive the bootloader through session.Console.
package sessiontest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	fderr "openfd/internal/errors"
	"openfd/internal/session"
)

var _ session.Console = (*Console)(nil)

// Emission is a console line that shows up After some time.
type Emission struct {
	Line  string
	After time.Duration
}

// Console records every operation and answers from its maps.  The zero
// value is usable.
type Console struct {
	// Env is the board environment; SetEnv and GetEnv operate on it.
	Env map[string]string
	// Outputs maps a command prefix to the output Cmd returns.
	Outputs map[string]string
	// Emits maps an Expect pattern to the line that eventually matches
	// it.  Patterns not listed never appear.
	Emits map[string]Emission
	// OnCmd, when set, runs for each command before Outputs is consulted.
	OnCmd func(line string) error

	SyncErr error

	mu    sync.Mutex
	calls []string
}

func (c *Console) record(format string, args ...interface{}) {
	c.mu.Lock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

// Calls returns the operations issued so far, e.g. "setenv autostart yes".
func (c *Console) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Count returns how many recorded operations start with prefix.
func (c *Console) Count(prefix string) int {
	n := 0
	for _, call := range c.Calls() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (c *Console) Sync(ctx context.Context, timeout time.Duration) error {
	c.record("sync")
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.SyncErr
}

func (c *Console) Cmd(ctx context.Context, line string, timeout time.Duration) (string, error) {
	c.record("%s", line)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.OnCmd != nil {
		if err := c.OnCmd(line); err != nil {
			return "", err
		}
	}
	for prefix, out := range c.Outputs {
		if strings.HasPrefix(line, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (c *Console) Expect(ctx context.Context, want string, timeout time.Duration) (string, error) {
	c.record("expect %s", want)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e, ok := c.Emits[want]; ok && e.After <= timeout {
		return e.Line, nil
	}
	return "", fderr.Timeout(want, timeout)
}

func (c *Console) CancelCmd(ctx context.Context) error {
	c.record("cancel")
	return nil
}

func (c *Console) GetEnv(ctx context.Context, name string) (string, error) {
	c.record("printenv %s", name)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Env[name], nil
}

func (c *Console) SetEnv(ctx context.Context, name, value string) error {
	if value == "" {
		c.record("setenv %s", name)
	} else {
		c.record("setenv %s %s", name, value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	if value == "" {
		delete(c.Env, name)
	} else {
		c.Env[name] = value
	}
	return nil
}

func (c *Console) SaveEnv(ctx context.Context) error {
	c.record("saveenv")
	return ctx.Err()
}
