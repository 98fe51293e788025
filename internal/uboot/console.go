// Package uboot drives the U-Boot monitor shell over an already open
// console channel.
//
// All reads go through a single reader goroutine so every wait can be
// bounded by both a deadline and the run context, whatever the
// underlying channel supports.
package uboot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	fderr "openfd/internal/errors"
	"openfd/internal/metrics"
	"openfd/internal/retry"
	"openfd/util"
)

const (
	ctrlC = "\x03"

	// DefaultCmdTimeout bounds ordinary monitor commands.
	DefaultCmdTimeout = 5 * time.Second
	// SaveEnvTimeout bounds saveenv, which erases a flash sector.
	SaveEnvTimeout = 15 * time.Second
)

// Options configure a Console.
type Options struct {
	Prompt  string // monitor prompt, e.g. "DM365 LEOPARD #"
	DryRun  bool
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Console is a line-oriented driver for the monitor shell.
type Console struct {
	rw      io.ReadWriter
	prompt  string
	dryRun  bool
	logger  *util.Logger
	metrics *metrics.Collector

	data      chan []byte
	readErr   chan error
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
	pending   string
	syncSeq atomic.Int64
}

// New starts reading from rw.  The reader goroutine exits when rw
// returns an error, which is what closing the channel does.
func New(rw io.ReadWriter, opts Options) *Console {
	c := &Console{
		rw:      rw,
		prompt:  strings.TrimSpace(opts.Prompt),
		dryRun:  opts.DryRun,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		data:    make(chan []byte, 64),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = util.NewLogger(0)
	}
	if rw != nil && !c.dryRun {
		go c.readLoop()
	} else {
		close(c.stopped)
	}
	return c
}

// Close stops the reader goroutine even when nobody drains the output.
// The channel itself is closed by its owner.
func (c *Console) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Console) readLoop() {
	defer close(c.stopped)
	for {
		buf := make([]byte, 512)
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.metrics.BytesReceived(int64(n))
			select {
			case c.data <- buf[:n]:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.readErr <- err
			close(c.data)
			return
		}
	}
}

// ── Monitor operations ───────────────────────────────────────────────

// Sync brings the monitor to a known idle prompt.  It interrupts
// whatever is running, echoes a unique token and waits for it, resending
// until timeout elapses.
func (c *Console) Sync(ctx context.Context, timeout time.Duration) error {
	if c.dryRun {
		c.logger.Info("[dryrun] uboot: sync")
		return nil
	}
	token := fmt.Sprintf("openfd-sync-%d", c.syncSeq.Add(1))
	c.logger.Debug("uboot: synchronizing (%s)", token)

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := &retry.Backoff{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
	err := b.Do(sctx, func(attempt int) error {
		c.drain()
		if err := c.send(ctrlC + "echo " + token + "\n"); err != nil {
			return retry.Permanent(err)
		}
		_, err := c.waitFor(sctx, token, time.Second, lineEquals(token))
		if err != nil && !fderr.IsTimeout(err) {
			return retry.Permanent(err)
		}
		if err == nil {
			_, err = c.waitFor(sctx, c.prompt, time.Second, c.atPrompt)
		}
		if err != nil {
			c.logger.Debug("uboot: sync attempt %d: %v", attempt, err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if sctx.Err() != nil || fderr.IsTimeout(err) {
		return fderr.Timeout("bootloader prompt", timeout)
	}
	return err
}

// Cmd sends line and, when timeout is positive, waits for the prompt to
// come back and returns the command's output.  A zero timeout sends
// without waiting (go, bootm, reset).
func (c *Console) Cmd(ctx context.Context, line string, timeout time.Duration) (string, error) {
	c.metrics.CommandSent()
	if c.dryRun {
		c.logger.Info("[dryrun] uboot: %s", line)
		return "", nil
	}
	c.logger.Debug("uboot: %s", line)
	if err := c.send(line + "\n"); err != nil {
		return "", err
	}
	if timeout <= 0 {
		return "", nil
	}
	out, err := c.waitFor(ctx, line, timeout, c.promptAfter(line))
	if err != nil {
		return "", err
	}
	if i := strings.Index(out, line); i >= 0 {
		out = out[i:]
	}
	return commandOutput(out, line, c.prompt), nil
}

// Expect waits until a line containing want is received and returns it.
func (c *Console) Expect(ctx context.Context, want string, timeout time.Duration) (string, error) {
	if c.dryRun {
		c.logger.Info("[dryrun] uboot: expect %q", want)
		return "", nil
	}
	out, err := c.waitFor(ctx, want, timeout, contains(want))
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(out, "\r\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// CancelCmd interrupts the running command with Ctrl-C.
func (c *Console) CancelCmd(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("[dryrun] uboot: cancel")
		return nil
	}
	c.logger.Debug("uboot: cancelling running command")
	if err := c.send(ctrlC); err != nil {
		return err
	}
	_, err := c.waitFor(ctx, c.prompt, DefaultCmdTimeout, c.atPrompt)
	return err
}

// GetEnv returns the value of an environment variable, or "" when it is
// not defined.
func (c *Console) GetEnv(ctx context.Context, name string) (string, error) {
	out, err := c.Cmd(ctx, "printenv "+name, DefaultCmdTimeout)
	if err != nil {
		return "", err
	}
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if v, ok := strings.CutPrefix(l, name+"="); ok {
			return v, nil
		}
	}
	return "", nil
}

// SetEnv sets an environment variable in the running monitor.  An empty
// value deletes the variable.
func (c *Console) SetEnv(ctx context.Context, name, value string) error {
	line := "setenv " + name
	if value != "" {
		line += " " + value
	}
	_, err := c.Cmd(ctx, line, DefaultCmdTimeout)
	return err
}

// SaveEnv persists the environment to flash.
func (c *Console) SaveEnv(ctx context.Context) error {
	_, err := c.Cmd(ctx, "saveenv", SaveEnvTimeout)
	return err
}

// ── I/O plumbing ─────────────────────────────────────────────────────

func (c *Console) send(s string) error {
	n, err := io.WriteString(c.rw, s)
	c.metrics.BytesSent(int64(n))
	if err != nil {
		return fderr.WrapTransport("write", "console", err)
	}
	return nil
}

// drain discards everything received so far.
func (c *Console) drain() {
	c.pending = ""
	for {
		select {
		case _, ok := <-c.data:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// matcher returns the end offset of a match in buf, or -1.
type matcher func(buf string) int

// waitFor accumulates console output until match succeeds, consuming it
// up to the match end.  what names the awaited text in timeout errors.
func (c *Console) waitFor(ctx context.Context, what string, timeout time.Duration, match matcher) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if end := match(c.pending); end >= 0 {
			out := c.pending[:end]
			c.pending = c.pending[end:]
			return out, nil
		}
		select {
		case chunk, ok := <-c.data:
			if !ok {
				err := <-c.readErr
				c.readErr <- err
				return "", fderr.WrapTransport("read", "console", err)
			}
			c.pending += string(chunk)
		case <-c.done:
			return "", fderr.WrapTransport("read", "console", fderr.ErrNotConnected)
		case <-timer.C:
			return "", fderr.Timeout(what, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// atPrompt matches when the buffered output ends with the prompt.
func (c *Console) atPrompt(buf string) int {
	trimmed := strings.TrimRight(buf, " \t")
	if c.prompt != "" && strings.HasSuffix(trimmed, c.prompt) {
		return len(buf)
	}
	return -1
}

// promptAfter matches a prompt that follows the echo of line, so a
// prompt left behind by an earlier command is not taken for this one.
func (c *Console) promptAfter(line string) matcher {
	return func(buf string) int {
		i := strings.Index(buf, line)
		if i < 0 {
			return -1
		}
		if c.atPrompt(buf[i+len(line):]) < 0 {
			return -1
		}
		return len(buf)
	}
}

func contains(want string) matcher {
	return func(buf string) int {
		i := strings.Index(buf, want)
		if i < 0 {
			return -1
		}
		if nl := strings.IndexByte(buf[i:], '\n'); nl >= 0 {
			return i + nl + 1
		}
		return len(buf)
	}
}

func lineEquals(want string) matcher {
	return func(buf string) int {
		off := 0
		for {
			nl := strings.IndexByte(buf[off:], '\n')
			if nl < 0 {
				return -1
			}
			if strings.TrimSpace(buf[off:off+nl]) == want {
				return off + nl + 1
			}
			off += nl + 1
		}
	}
}

// commandOutput strips the echoed command and the trailing prompt.
func commandOutput(raw, line, prompt string) string {
	raw = strings.ReplaceAll(raw, "\r", "")
	raw = strings.TrimRight(raw, " \t")
	raw = strings.TrimSuffix(raw, prompt)
	var out []string
	for i, l := range strings.Split(raw, "\n") {
		if i == 0 && strings.Contains(l, line) {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
