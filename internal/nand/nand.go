// Package nand installs firmware components to NAND flash through the
// bootloader monitor.  Images travel to board RAM over TFTP and are
// programmed from there with the board's erase and write commands.
package nand

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"openfd/config"
	"openfd/internal/board"
	"openfd/internal/session"
	"openfd/util"
)

const (
	cmdTimeout  = 5 * time.Second
	nandTimeout = 60 * time.Second
	resetWindow = 10 * time.Second

	// Extra blocks reserved past the image for bad-block skipping.
	KernelExtraBlocks = 3
	FSExtraBlocks     = 19
)

// Flasher is the installer as seen by the orchestrator.
type Flasher interface {
	ReadPartitions(path string) error
	LoadBootloaderToRAM(ctx context.Context, file string) error
	InstallIPL(ctx context.Context, force bool) error
	InstallBootloader(ctx context.Context, force bool) error
	InstallKernel(ctx context.Context, force bool) error
	InstallFS(ctx context.Context, force bool) error
}

// RAMLoader moves a host file into board RAM.
type RAMLoader interface {
	LoadFileToRAM(ctx context.Context, file string, addr uint64) error
}

// Options configure an Installer.  Zero geometry is probed from the
// monitor on first use.
type Options struct {
	Board       *board.Board
	BlockSize   int
	PageSize    int
	RAMLoadAddr uint64
	SyncTimeout time.Duration
	DryRun      bool
	Logger      *util.Logger
}

// Installer implements Flasher.
type Installer struct {
	console session.Console
	loader  RAMLoader
	board   *board.Board
	ramAddr uint64
	syncTO  time.Duration
	dryRun  bool
	logger  *util.Logger

	blockSize  int
	pageSize   int
	partitions []Partition
}

// New returns an Installer driving console and loading images with
// loader.
func New(console session.Console, loader RAMLoader, opts Options) *Installer {
	n := &Installer{
		console:   console,
		loader:    loader,
		board:     opts.Board,
		ramAddr:   opts.RAMLoadAddr,
		syncTO:    opts.SyncTimeout,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
		blockSize: opts.BlockSize,
		pageSize:  opts.PageSize,
	}
	if n.logger == nil {
		n.logger = util.NewLogger(0)
	}
	if n.syncTO <= 0 {
		n.syncTO = config.DefaultSyncTimeout
	}
	return n
}

var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadPartitions loads the NAND partition map.
func (n *Installer) ReadPartitions(path string) error {
	parts, err := ReadPartitions(path)
	if err != nil {
		return err
	}
	n.partitions = parts
	return nil
}

// ── Geometry ─────────────────────────────────────────────────────────

// Two monitor generations:
//
//	Device 0: Samsung K9K1208Q0C at 0x2000000 (64 MB, 16 kB sector)
//	Device 0: NAND 256MiB 1,8V 16-bit, sector size 128 KiB
var (
	sectorRe = regexp.MustCompile(`(?i)(\d+) (kb|kib)\b`)
	pageRe   = regexp.MustCompile(`Page 0000([0-9a-fA-F]{4})`)
)

// BlockSize returns the erase block size, asking the monitor once.
func (n *Installer) BlockSize(ctx context.Context) (int, error) {
	if n.blockSize != 0 {
		return n.blockSize, nil
	}
	out, err := n.console.Cmd(ctx, "nand info", cmdTimeout)
	if err != nil {
		return 0, err
	}
	if n.dryRun {
		n.blockSize = n.board.NAND.BlockSize
		return n.blockSize, nil
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Device 0") {
			continue
		}
		if m := sectorRe.FindStringSubmatch(line); m != nil {
			kb, _ := strconv.Atoi(m[1])
			n.blockSize = kb << 10
			n.logger.Verbose("nand: block size %d bytes", n.blockSize)
			return n.blockSize, nil
		}
	}
	return 0, fmt.Errorf("unable to determine the NAND block size from %q", out)
}

// PageSize returns the page size, probing out-of-band dumps at growing
// offsets until the reported page changes.
func (n *Installer) PageSize(ctx context.Context) (int, error) {
	if n.pageSize != 0 {
		return n.pageSize, nil
	}
	for _, off := range []string{"0200", "0400", "0800", "1000"} {
		out, err := n.console.Cmd(ctx, "nand dump.oob "+off, cmdTimeout)
		if err != nil {
			return 0, err
		}
		if n.dryRun {
			continue
		}
		m := pageRe.FindStringSubmatch(out)
		if m == nil {
			continue
		}
		if size, _ := strconv.ParseInt(m[1], 16, 32); size != 0 {
			n.pageSize = int(size)
			n.logger.Verbose("nand: page size %d bytes", n.pageSize)
			return n.pageSize, nil
		}
	}
	if n.dryRun {
		n.pageSize = n.board.NAND.PageSize
		return n.pageSize, nil
	}
	return 0, fmt.Errorf("unable to determine the NAND page size")
}

func (n *Installer) geometry(ctx context.Context) (int, error) {
	blk, err := n.BlockSize(ctx)
	if err != nil {
		return 0, err
	}
	page, err := n.PageSize(ctx)
	if err != nil {
		return 0, err
	}
	if page <= 0 || blk%page != 0 {
		return 0, fmt.Errorf("NAND block size %d is not a multiple of the page size %d", blk, page)
	}
	return blk, nil
}

// ── Layout ───────────────────────────────────────────────────────────

// Layout is where an image lands in flash, in bytes.
type Layout struct {
	Offset        int64
	ImageSize     int64 // image size rounded up to whole blocks
	PartitionSize int64
	Blocks        int
	// Overflow is set when the image needs more blocks than the
	// partition declares; the partition then grows to fit.
	Overflow bool
}

// Plan computes the layout of an image of size bytes in p.
func Plan(p Partition, size int64, blockSize, extraBlocks int) Layout {
	blk := int64(blockSize)
	blocks := int((size + blk - 1) / blk)
	blocks += extraBlocks
	l := Layout{
		Offset:    int64(p.StartBlk) * blk,
		ImageSize: int64(blocks) * blk,
		Blocks:    blocks,
	}
	l.PartitionSize = l.ImageSize
	if p.SizeBlks > 0 {
		if blocks > p.SizeBlks {
			l.Overflow = true
		} else {
			l.PartitionSize = int64(p.SizeBlks) * blk
		}
	}
	return l
}

// Hex formats v the way the monitor environment stores numbers.
func Hex(v int64) string { return "0x" + strconv.FormatInt(v, 16) }

// MD5File returns the hex md5 digest of a file.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ── Installation ─────────────────────────────────────────────────────

// envNick prefixes the environment variables that record where each
// component lives: <nick>offset, <nick>size, <nick>partitionsize and
// <nick>md5sum.
var envNick = map[config.Component]string{
	config.ComponentIPL:        "ipl",
	config.ComponentBootloader: "uboot",
	config.ComponentKernel:     "k",
	config.ComponentFS:         "fs",
}

var extraBlocks = map[config.Component]int{
	config.ComponentKernel: KernelExtraBlocks,
	config.ComponentFS:     FSExtraBlocks,
}

// InstallIPL programs the initial program loader.
func (n *Installer) InstallIPL(ctx context.Context, force bool) error {
	return n.install(ctx, config.ComponentIPL, force)
}

// InstallBootloader programs the bootloader and restarts into it.
func (n *Installer) InstallBootloader(ctx context.Context, force bool) error {
	if err := n.install(ctx, config.ComponentBootloader, force); err != nil {
		return err
	}
	return n.restart(ctx)
}

// InstallKernel programs the kernel image.
func (n *Installer) InstallKernel(ctx context.Context, force bool) error {
	return n.install(ctx, config.ComponentKernel, force)
}

// InstallFS programs the filesystem image.
func (n *Installer) InstallFS(ctx context.Context, force bool) error {
	return n.install(ctx, config.ComponentFS, force)
}

// Install dispatches to the Install method for c.
func Install(ctx context.Context, f Flasher, c config.Component, force bool) error {
	switch c {
	case config.ComponentIPL:
		return f.InstallIPL(ctx, force)
	case config.ComponentBootloader:
		return f.InstallBootloader(ctx, force)
	case config.ComponentKernel:
		return f.InstallKernel(ctx, force)
	case config.ComponentFS:
		return f.InstallFS(ctx, force)
	}
	return fmt.Errorf("unknown component %v", c)
}

func (n *Installer) install(ctx context.Context, c config.Component, force bool) error {
	bp := n.board.Part(c)
	part, ok := Find(n.partitions, bp.Name)
	if !ok {
		return fmt.Errorf("partition %q for %s not found in the NAND partition map", bp.Name, c)
	}
	if part.Image == "" {
		return fmt.Errorf("partition %q has no image", part.Name)
	}
	fi, err := os.Stat(part.Image)
	if err != nil {
		return err
	}
	blk, err := n.geometry(ctx)
	if err != nil {
		return err
	}
	sum, err := MD5File(part.Image)
	if err != nil {
		return err
	}

	nick := envNick[c]
	l := Plan(part, fi.Size(), blk, extraBlocks[c])

	if !force {
		needed, err := n.needsInstall(ctx, nick, sum, l.Offset)
		if err != nil {
			return err
		}
		if !needed {
			n.logger.Info("%s doesn't need to be installed", capitalize(c.String()))
			return nil
		}
	}
	if l.Overflow {
		n.logger.Warn("Using %d NAND blocks instead of %d for the %s partition", l.Blocks, part.SizeBlks, c)
	}

	n.logger.Info("Loading %s image to RAM", c)
	if err := n.loader.LoadFileToRAM(ctx, part.Image, n.ramAddr); err != nil {
		return err
	}

	ram := "0x" + strconv.FormatUint(n.ramAddr, 16)
	if err := n.run(ctx, "", bp.PreWrite); err != nil {
		return err
	}
	if bp.Erase != "" {
		line := fmt.Sprintf("%s %s %s", bp.Erase, Hex(l.Offset), Hex(l.PartitionSize))
		if err := n.run(ctx, "Erasing "+c.String()+" NAND space", line); err != nil {
			return err
		}
	}
	line := fmt.Sprintf("%s %s %s %s", bp.Write, ram, Hex(l.Offset), Hex(l.ImageSize))
	if err := n.run(ctx, "Writing "+c.String()+" image from RAM to NAND", line); err != nil {
		return err
	}
	if err := n.run(ctx, "", bp.PostWrite); err != nil {
		return err
	}

	env := []struct{ name, value string }{
		{nick + "size", Hex(l.ImageSize)},
		{nick + "partitionsize", Hex(l.PartitionSize)},
		{nick + "md5sum", sum},
		{nick + "offset", Hex(l.Offset)},
	}
	for _, e := range env {
		if err := n.console.SetEnv(ctx, e.name, e.value); err != nil {
			return err
		}
	}
	if err := n.console.SaveEnv(ctx); err != nil {
		return err
	}
	n.logger.Info("%s installation complete", capitalize(c.String()))
	return nil
}

// run issues one flash command; empty lines are skipped.
func (n *Installer) run(ctx context.Context, msg, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if msg != "" {
		n.logger.Info("%s", msg)
	}
	_, err := n.console.Cmd(ctx, line, nandTimeout)
	return err
}

// needsInstall compares the image digest and offset with what the
// board recorded at the last installation.
func (n *Installer) needsInstall(ctx context.Context, nick, sum string, offset int64) (bool, error) {
	n.logger.Debug("nand: verifying if %s installation is needed", nick)
	onBoard, err := n.console.GetEnv(ctx, nick+"md5sum")
	if err != nil {
		return false, err
	}
	off, err := n.console.GetEnv(ctx, nick+"offset")
	if err != nil {
		return false, err
	}
	return onBoard != sum || off != Hex(offset), nil
}

// restart resets the board into the freshly written bootloader.
func (n *Installer) restart(ctx context.Context) error {
	n.logger.Info("Restarting to use the bootloader in NAND")
	if _, err := n.console.Cmd(ctx, "reset", 0); err != nil {
		return err
	}
	if _, err := n.console.Expect(ctx, "U-Boot", resetWindow); err != nil {
		return fmt.Errorf("failed to detect the bootloader in NAND restarting: %w", err)
	}
	if err := sleep(ctx, 4*time.Second); err != nil {
		return err
	}
	if err := n.console.Sync(ctx, n.syncTO); err != nil {
		return fmt.Errorf("failed synchronizing with the bootloader in NAND: %w", err)
	}
	return nil
}

// LoadBootloaderToRAM runs file as the bootloader driving the rest of
// the installation.  The previous bootcmd is cleared while the
// intermediate bootloader runs and restored afterwards.
func (n *Installer) LoadBootloaderToRAM(ctx context.Context, file string) error {
	if err := n.console.Sync(ctx, n.syncTO); err != nil {
		return err
	}

	out, err := n.console.Cmd(ctx, "icache", cmdTimeout)
	if err != nil {
		return err
	}
	if !n.dryRun && !strings.Contains(out, "Instruction Cache is") {
		return fmt.Errorf("the running bootloader has no icache command; refusing to continue " +
			"due to the risk of hanging, update the bootloader by other means like an SD card")
	}

	n.logger.Info("Storing the current bootcmd")
	prev, err := n.console.GetEnv(ctx, "bootcmd")
	if err != nil {
		return err
	}
	if err := n.console.SetEnv(ctx, "bootcmd", ""); err != nil {
		return err
	}
	if err := n.console.SaveEnv(ctx); err != nil {
		return err
	}

	n.logger.Info("Loading the new bootloader to RAM")
	if err := n.loader.LoadFileToRAM(ctx, file, n.ramAddr); err != nil {
		return err
	}

	n.logger.Info("Running the new bootloader")
	if _, err := n.console.Cmd(ctx, "icache off", cmdTimeout); err != nil {
		return err
	}
	if _, err := n.console.Cmd(ctx, fmt.Sprintf("go 0x%x", n.ramAddr), 0); err != nil {
		return err
	}
	if err := sleep(ctx, 2*time.Second); err != nil {
		return err
	}
	if err := n.console.Sync(ctx, n.syncTO); err != nil {
		return fmt.Errorf("failed to detect the new bootloader starting: %w", err)
	}

	if prev != "" {
		n.logger.Info("Restoring the previous bootcmd")
		if err := n.console.SetEnv(ctx, "bootcmd", prev); err != nil {
			return err
		}
	}
	return n.console.SaveEnv(ctx)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
