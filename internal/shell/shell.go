// Package shell runs the host tools that partition, format and populate
// removable media.  In dry-run mode commands are logged and never
// started.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"openfd/util"
)

// Runner is the subset of Executer that collaborators depend on.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	RunInput(ctx context.Context, stdin, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
	DryRun() bool
}

// Executer starts host commands, optionally through sudo.
type Executer struct {
	dryRun bool
	sudo   bool
	logger *util.Logger
}

// New returns an Executer.  When sudo is true every command is
// prefixed with "sudo"; the privilege gate has already validated the
// credentials by the time it runs.
func New(logger *util.Logger, dryRun, sudo bool) *Executer {
	return &Executer{dryRun: dryRun, sudo: sudo, logger: logger}
}

// DryRun reports whether commands are only logged.
func (e *Executer) DryRun() bool { return e.dryRun }

// Run executes name and waits for it to finish.
func (e *Executer) Run(ctx context.Context, name string, args ...string) error {
	_, err := e.run(ctx, nil, name, args...)
	return err
}

// RunInput executes name with stdin as its standard input.
func (e *Executer) RunInput(ctx context.Context, stdin, name string, args ...string) error {
	_, err := e.run(ctx, strings.NewReader(stdin), name, args...)
	return err
}

// Output executes name and returns its trimmed standard output.
func (e *Executer) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := e.run(ctx, nil, name, args...)
	return strings.TrimSpace(out), err
}

func (e *Executer) run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	if e.sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	line := name + " " + strings.Join(args, " ")

	if e.dryRun {
		e.logger.Info("[dryrun] %s", line)
		return "", nil
	}
	e.logger.Debug("exec: %s", line)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.String(), fmt.Errorf("%s: %w", line, err)
		}
		return stdout.String(), fmt.Errorf("%s: %w: %s", line, err, msg)
	}
	return stdout.String(), nil
}
