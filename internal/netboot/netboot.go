// Package netboot configures the board's network from the monitor and
// moves files into board RAM over TFTP.
package netboot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"openfd/config"
	fderr "openfd/internal/errors"
	"openfd/internal/metrics"
	"openfd/internal/session"
	"openfd/util"
)

const (
	// dhcpFailure is printed by U-Boot when its third BOOTP request
	// went unanswered.
	dhcpFailure = "BOOTP broadcast 3"
	dhcpWindow  = 6 * time.Second

	secondsPerMiB = 10
)

// Network is the loader as seen by the orchestrator.
type Network interface {
	SetupNetwork(ctx context.Context) error
	LoadFileToRAM(ctx context.Context, file string, addr uint64) error
	LoadFileToRAMAndBoot(ctx context.Context, file string, addr uint64, bootLine string, timeout time.Duration) error
}

// Options configure a Loader.
type Options struct {
	Network config.Network
	DryRun  bool
	Logger  *util.Logger
	Metrics *metrics.Collector
	// Probe reports whether a TFTP server holds the port.  Defaults to
	// util.UDPPortInUse.
	Probe func(port int) bool
}

// Loader implements Network over a monitor console.
type Loader struct {
	console session.Console
	net     config.Network
	dryRun  bool
	logger  *util.Logger
	metrics *metrics.Collector
	probe   func(int) bool

	ready bool
}

// New returns a Loader driving console.
func New(console session.Console, opts Options) *Loader {
	l := &Loader{
		console: console,
		net:     opts.Network,
		dryRun:  opts.DryRun,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		probe:   opts.Probe,
	}
	if l.logger == nil {
		l.logger = util.NewLogger(0)
	}
	if l.probe == nil {
		l.probe = util.UDPPortInUse
	}
	return l
}

// SetupNetwork checks the host TFTP server and brings up the board's
// network in static or DHCP mode.  Calling it again repeats the setup,
// which is what a freshly started bootloader needs.
func (l *Loader) SetupNetwork(ctx context.Context) error {
	l.ready = false

	l.logger.Info("Checking TFTP settings")
	if !l.dryRun && !l.probe(l.net.TFTPPort) {
		return fmt.Errorf("no TFTP server seems to be listening on udp port %d, check your server settings", l.net.TFTPPort)
	}

	l.logger.Info("Configuring the board network (%s)", l.net.Mode)
	switch l.net.Mode {
	case config.NetStatic:
		if l.net.BoardIP == "" {
			return fmt.Errorf("no IP address specified for the board")
		}
		if err := l.console.SetEnv(ctx, "ipaddr", l.net.BoardIP); err != nil {
			return err
		}
	case config.NetDHCP:
		if err := l.dhcp(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown network mode %q", l.net.Mode)
	}

	if err := l.console.SetEnv(ctx, "serverip", l.net.HostIP); err != nil {
		return err
	}
	l.ready = true
	return nil
}

func (l *Loader) dhcp(ctx context.Context) error {
	if err := l.console.SetEnv(ctx, "autoload", "no"); err != nil {
		return err
	}
	if err := l.console.SetEnv(ctx, "autostart", "no"); err != nil {
		return err
	}
	if _, err := l.console.Cmd(ctx, "dhcp", 0); err != nil {
		return err
	}

	line, err := l.console.Expect(ctx, dhcpFailure, dhcpWindow)
	switch {
	case err == nil:
		if l.dryRun {
			return nil
		}
		l.console.CancelCmd(ctx) //nolint:errcheck
		return fmt.Errorf("DHCP failed, check that your network has a DHCP server and the board has a link (last line: %s)", line)
	case fderr.IsTimeout(err) && ctx.Err() == nil:
		return nil
	default:
		return err
	}
}

// LoadFileToRAM stages file in the TFTP directory and has the board
// fetch it to addr, checking the transferred size.
func (l *Loader) LoadFileToRAM(ctx context.Context, file string, addr uint64) error {
	if !l.ready {
		return fmt.Errorf("the board network must be set up before any TFTP transfer")
	}

	fi, err := os.Stat(file)
	if err != nil {
		return err
	}
	size := fi.Size()
	base := filepath.Base(file)

	if err := l.stage(file, filepath.Join(l.net.TFTPDir, base)); err != nil {
		return err
	}
	l.metrics.BytesStaged(size)

	timeout := time.Duration(size/(1<<20)+1) * secondsPerMiB * time.Second
	hexAddr := "0x" + strconv.FormatUint(addr, 16)
	l.logger.Debug("netboot: tftp %s to %s (timeout %s)", base, hexAddr, timeout)

	if _, err := l.console.Cmd(ctx, fmt.Sprintf("tftp %s %s", hexAddr, base), timeout); err != nil {
		if fderr.IsTimeout(err) && ctx.Err() == nil {
			l.console.CancelCmd(ctx) //nolint:errcheck
		}
		return fmt.Errorf("tftp transfer from %s failed: %w", util.FormatAddr(l.net.HostIP, l.net.TFTPPort), err)
	}

	if l.dryRun {
		return nil
	}
	got, err := l.console.GetEnv(ctx, "filesize")
	if err != nil {
		return err
	}
	n, _ := strconv.ParseInt(strings.TrimPrefix(got, "0x"), 16, 64)
	if n != size {
		return fmt.Errorf("transfer of %s incomplete: file has %d bytes, board received %d (filesize=%s)", base, size, n, got)
	}
	return nil
}

// LoadFileToRAMAndBoot loads file, boots it with bootm and waits for
// bootLine on the console.
func (l *Loader) LoadFileToRAMAndBoot(ctx context.Context, file string, addr uint64, bootLine string, timeout time.Duration) error {
	if err := l.LoadFileToRAM(ctx, file, addr); err != nil {
		return err
	}
	l.logger.Info("Booting from 0x%x, waiting up to %s for %q", addr, timeout, bootLine)
	if _, err := l.console.Cmd(ctx, fmt.Sprintf("bootm 0x%x", addr), 0); err != nil {
		return err
	}
	line, err := l.console.Expect(ctx, bootLine, timeout)
	if err != nil {
		return err
	}
	l.logger.Verbose("netboot: %s", line)
	return nil
}

func (l *Loader) stage(src, dst string) error {
	if l.dryRun {
		l.logger.Info("[dryrun] cp %s %s", src, dst)
		return nil
	}
	if same, _ := samePath(src, dst); same {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to stage %s for TFTP: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to stage %s for TFTP: %w", src, err)
	}
	return out.Close()
}

func samePath(a, b string) (bool, error) {
	fa, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(fa, fb), nil
}
