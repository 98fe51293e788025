// Package cmd wires up the CLI and hands the selected mode to the
// orchestrator.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"openfd/config"
	"openfd/internal/board"
	"openfd/internal/core"
	fderr "openfd/internal/errors"
	"openfd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X openfd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected mode.  The returned error
// carries the exit status, see core.ExitCode.
func Execute(ctx context.Context, args []string) error {
	root := newRoot(append([]string{"openfd"}, args...))
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// newRoot builds the command tree.  Defaults come from defaults.go,
// overlaid with OPENFD_* variables; flags win.
func newRoot(argv []string) *cobra.Command {
	raw := config.DefaultRaw()
	config.LoadFromEnv(raw)

	root := &cobra.Command{
		Use:   "openfd",
		Short: "Install firmware on embedded boards",
		Long: `openfd installs the IPL, bootloader, kernel and filesystem of an
embedded board on an SD card, a disk image or a USB stick, or flashes
them to NAND through the U-Boot console.

Every flag can also be set through an OPENFD_<FLAG> environment
variable, e.g. OPENFD_TFTP_DIR for --tftp-dir.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fderr.Invalid("flags", nil, "%v", err)
	})
	addGlobal(root.PersistentFlags(), raw)

	runMode := func(mode config.Mode) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			return run(c.Context(), mode, raw, argv)
		}
	}

	// ── media modes ──────────────────────────────────────────────
	sd := &cobra.Command{
		Use:   "sd",
		Short: "Partition an SD card and install the components on it",
		Args:  cobra.NoArgs,
		RunE:  runMode(config.ModeSD),
	}
	addMmap(sd.Flags(), raw, "SD card partition map (TOML)")
	addDevice(sd.Flags(), raw, "SD card")
	addSDComponents(sd.Flags(), raw)

	sdImg := &cobra.Command{
		Use:   "sd-img",
		Short: "Build an SD card disk image through a loop device",
		Args:  cobra.NoArgs,
		RunE:  runMode(config.ModeSDImage),
	}
	addMmap(sdImg.Flags(), raw, "SD card partition map (TOML)")
	addImage(sdImg.Flags(), raw)
	addSDComponents(sdImg.Flags(), raw)

	// ── console modes ────────────────────────────────────────────
	nand := &cobra.Command{
		Use:   "nand",
		Short: "Flash one component to NAND through the U-Boot console",
		Long: `Flash one component to NAND through the U-Boot console.

Components are skipped when the board environment shows the same image
already installed at the same offset; --force reinstalls.`,
	}
	addConsole(nand.PersistentFlags(), raw)
	addNetwork(nand.PersistentFlags(), raw)
	addMmap(nand.PersistentFlags(), raw, "NAND partition map (TOML)")
	addGeometry(nand.PersistentFlags(), raw)
	nand.PersistentFlags().StringVar(&raw.RAMLoadAddr, "ram-load-addr", raw.RAMLoadAddr, "RAM address images are loaded to before flashing")
	nand.PersistentFlags().StringVar(&raw.UbootFile, "uboot-file", raw.UbootFile, "Bootloader to run from RAM before flashing")
	for _, comp := range config.Components() {
		nand.AddCommand(componentCmd(comp, raw, argv))
	}

	ram := &cobra.Command{
		Use:   "ram",
		Short: "Load an image into RAM over TFTP and boot it",
		Args:  cobra.NoArgs,
		RunE:  runMode(config.ModeRAM),
	}
	addConsole(ram.Flags(), raw)
	addNetwork(ram.Flags(), raw)
	ram.Flags().StringVar(&raw.File, "file", raw.File, "Image to boot")
	ram.Flags().StringVar(&raw.LoadAddr, "load-addr", raw.LoadAddr, "RAM address to load the image to")
	ram.Flags().StringVar(&raw.BootLine, "boot-line", raw.BootLine, "Console line that marks a successful boot")
	ram.Flags().StringVar(&raw.BootTimeout, "boot-timeout", raw.BootTimeout, "Seconds to wait for the boot line")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Set a U-Boot environment variable",
		Args:  cobra.NoArgs,
		RunE:  runMode(config.ModeEnv),
	}
	addConsole(envCmd.Flags(), raw)
	envCmd.Flags().StringVar(&raw.Variable, "variable", raw.Variable, "Variable name")
	envCmd.Flags().StringVar(&raw.Value, "value", raw.Value, "Variable value")
	envCmd.Flags().BoolVar(&raw.Force, "force", raw.Force, "Write even when the board already holds the value")

	root.AddCommand(sd, sdImg, nand, ram, envCmd)

	// ── installer script modes ───────────────────────────────────
	for _, mode := range config.Modes() {
		if mode.IsScript() {
			root.AddCommand(scriptCmd(mode, raw, runMode(mode)))
		}
	}

	return root
}

func componentCmd(comp config.Component, raw *config.Raw, argv []string) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   comp.String(),
		Short: "Flash the " + comp.String(),
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			raw.Component = comp.String()
			raw.Force = force
			return run(c.Context(), config.ModeNAND, raw, argv)
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Install the "+comp.String()+" even if it is unchanged")
	return c
}

var scriptShort = map[config.Mode]string{
	config.ModeSDScript:      "Make a bootable SD card that flashes NAND on the board",
	config.ModeSDScriptImage: "Make an SD card image that flashes NAND on the board",
	config.ModeUSBScript:     "Make a USB stick that flashes NAND from U-Boot",
}

func scriptCmd(mode config.Mode, raw *config.Raw, runE func(*cobra.Command, []string) error) *cobra.Command {
	c := &cobra.Command{
		Use:   mode.String(),
		Short: scriptShort[mode],
		Args:  cobra.NoArgs,
		RunE:  runE,
	}
	fs := c.Flags()
	fs.StringVar(&raw.NANDMmapFile, "nand-mmap-file", raw.NANDMmapFile, "NAND partition map (TOML)")
	fs.StringVar(&raw.Template, "template", raw.Template, "Installer script template")
	fs.StringVar(&raw.Output, "output", raw.Output, "Rendered installer script")
	fs.StringVar(&raw.NandBlkSize, "nand-blk-size", raw.NandBlkSize, "NAND block size in bytes (board default when unset)")
	addMmap(fs, raw, "Partition map of the destination (TOML)")
	switch mode {
	case config.ModeSDScriptImage:
		addImage(fs, raw)
	case config.ModeUSBScript:
		addDevice(fs, raw, "USB")
	default:
		addDevice(fs, raw, "SD card")
	}
	addSDComponents(fs, raw)
	return c
}

// run builds the run context for one invocation and executes mode.
func run(ctx context.Context, mode config.Mode, raw *config.Raw, argv []string) error {
	logger := util.NewLogger(raw.Verbosity())

	cat, err := board.Load(raw.BoardFile)
	if err != nil {
		return fderr.Invalid("board-file", raw.BoardFile, "%v", err)
	}
	b, err := cat.Lookup(raw.Board)
	if err != nil {
		return fderr.Invalid("board", raw.Board, "%v", err)
	}

	rc := core.NewRunContext(core.Options{
		DryRun:      raw.DryRun,
		AssumeYes:   raw.AssumeYes,
		Logger:      logger,
		Board:       b,
		MetricsFile: raw.MetricsFile,
	})
	if raw.LogFile != "" {
		if err := logger.AttachFile(raw.LogFile, rc.ID, argv); err != nil {
			return err
		}
		defer logger.Close() //nolint:errcheck
	}
	if raw.DryRun {
		logger.Info("Dry run: nothing will be written")
	}

	_, err = rc.Run(ctx, mode, raw)
	return err
}
