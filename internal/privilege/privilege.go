// Package privilege obtains the administrative rights that storage
// modes need before they touch a block device.
package privilege

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"openfd/config"
	fderr "openfd/internal/errors"
	"openfd/util"
)

// Required reports whether mode mutates local block devices and so
// must pass the gate before any collaborator runs.
func Required(mode config.Mode) bool {
	switch mode {
	case config.ModeSD, config.ModeSDImage,
		config.ModeSDScript, config.ModeSDScriptImage, config.ModeUSBScript:
		return true
	}
	return false
}

// RunFunc executes name with args, feeding stdin when non-nil.
type RunFunc func(ctx context.Context, stdin io.Reader, name string, args ...string) error

// Gate performs privilege elevation at most once per run.
type Gate struct {
	DryRun bool
	Logger *util.Logger

	// Prompt reads the sudo password.  Defaults to a no-echo terminal
	// read on stdin.
	Prompt func() ([]byte, error)
	// Run executes sudo.  Defaults to os/exec.
	Run RunFunc
	// Euid returns the effective user id.  Defaults to unix.Geteuid.
	Euid func() int

	once     sync.Once
	err      error
	attempts int
	elevated bool
	viaSudo  bool
}

// NewGate returns a Gate wired to the real terminal and sudo.
func NewGate(logger *util.Logger, dryRun bool) *Gate {
	return &Gate{DryRun: dryRun, Logger: logger}
}

// Elevate obtains privileges.  Only the first call does any work; later
// calls return the first call's result.
func (g *Gate) Elevate(ctx context.Context) error {
	g.once.Do(func() {
		g.attempts++
		g.err = g.elevate(ctx)
		g.elevated = g.err == nil
	})
	return g.err
}

// Elevated reports whether a previous Elevate succeeded.
func (g *Gate) Elevated() bool { return g.elevated }

// Attempts returns how many times elevation actually ran (0 or 1).
func (g *Gate) Attempts() int { return g.attempts }

// ViaSudo reports whether privileges come from sudo credentials, in
// which case host commands must be prefixed with sudo.
func (g *Gate) ViaSudo() bool { return g.elevated && g.viaSudo }

func (g *Gate) elevate(ctx context.Context) error {
	euid := g.Euid
	if euid == nil {
		euid = unix.Geteuid
	}
	if euid() == 0 {
		g.debug("running as root, no elevation needed")
		return nil
	}
	if g.DryRun {
		g.debug("dryrun: skipping sudo validation")
		return nil
	}

	run := g.Run
	if run == nil {
		run = execRun
	}

	// Cached credentials need no password.
	if err := run(ctx, nil, "sudo", "-n", "true"); err == nil {
		g.debug("sudo credentials already cached")
		g.viaSudo = true
		return nil
	}

	prompt := g.Prompt
	if prompt == nil {
		prompt = terminalPrompt
	}
	pass, err := prompt()
	if err != nil {
		return &fderr.PrivilegeError{Op: "prompt", Err: err}
	}

	stdin := bytes.NewReader(append(pass, '\n'))
	if err := run(ctx, stdin, "sudo", "-S", "-p", "", "-v"); err != nil {
		return &fderr.PrivilegeError{Op: "validate", Err: fderr.ErrAuthFailed}
	}
	g.debug("sudo credentials validated")
	g.viaSudo = true
	return nil
}

func (g *Gate) debug(format string, args ...interface{}) {
	if g.Logger != nil {
		g.Logger.Debug("privilege: "+format, args...)
	}
}

func terminalPrompt() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("administrator password needed but stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "[sudo] password: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return pass, nil
}

func execRun(ctx context.Context, stdin io.Reader, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	return cmd.Run()
}
