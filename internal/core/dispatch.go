package core

import (
	"context"
	"fmt"

	"openfd/config"
	"openfd/internal/nand"
	"openfd/internal/script"
	"openfd/internal/storage"
)

// handler runs the sequence of one mode.  Resources it acquires are
// registered with rc.hold and released by the orchestrator.
type handler func(ctx context.Context, rc *RunContext, cfg config.Config) error

// handlers is the dispatch table.
var handlers = map[config.Mode]handler{
	config.ModeSD:            typed(runSD),
	config.ModeSDImage:       typed(runSDImage),
	config.ModeNAND:          typed(runNAND),
	config.ModeRAM:           typed(runRAM),
	config.ModeEnv:           typed(runEnv),
	config.ModeSDScript:      typed(runScript),
	config.ModeSDScriptImage: typed(runScript),
	config.ModeUSBScript:     typed(runScript),
}

func typed[C config.Config](fn func(context.Context, *RunContext, C) error) handler {
	return func(ctx context.Context, rc *RunContext, cfg config.Config) error {
		c, ok := cfg.(C)
		if !ok {
			return fmt.Errorf("%s: unexpected configuration %T", cfg.Mode(), cfg)
		}
		return fn(ctx, rc, c)
	}
}

// ── media modes ──────────────────────────────────────────────────────

func runSD(ctx context.Context, rc *RunContext, cfg *config.SDConfig) error {
	dest := Destination{Kind: MediaSD, Device: cfg.Device}
	return installMedia(ctx, rc, dest, cfg.MmapFile, cfg.Components.WorkDir,
		storage.FromConfig(cfg.Components))
}

func runSDImage(ctx context.Context, rc *RunContext, cfg *config.SDImageConfig) error {
	dest := Destination{Kind: MediaLoop, Image: cfg.Image, SizeMB: cfg.ImageSizeMB}
	err := installMedia(ctx, rc, dest, cfg.MmapFile, cfg.Components.WorkDir,
		storage.FromConfig(cfg.Components))
	if err != nil {
		return err
	}
	imageGuidance(rc, cfg.Image)
	return nil
}

// installMedia is the storage sequence shared by every media mode.
func installMedia(ctx context.Context, rc *RunContext, dest Destination, mmap, workDir string, comps storage.Components) error {
	inst := rc.Deps.NewStorage(rc, dest)
	rc.hold("storage", inst.Release)

	if err := rc.step(ctx, "read-partitions", func(context.Context) error {
		return inst.ReadPartitions(mmap)
	}); err != nil {
		return err
	}
	if err := rc.step(ctx, "format", inst.Format); err != nil {
		return err
	}
	if err := rc.step(ctx, "mount", func(ctx context.Context) error {
		return inst.MountPartitions(ctx, workDir)
	}); err != nil {
		return err
	}
	return rc.step(ctx, "install-components", func(ctx context.Context) error {
		return inst.InstallComponents(ctx, comps)
	})
}

func imageGuidance(rc *RunContext, image string) {
	rc.Logger.Info("Image %s is ready", image)
	rc.Logger.Info("Write it to an SD card with:")
	rc.Logger.Info("  sudo dd if=%s of=/dev/<sd card> bs=4M conv=fsync", image)
	rc.Logger.Info("Double check the target device: everything on it will be overwritten")
}

// ── console modes ────────────────────────────────────────────────────

func runNAND(ctx context.Context, rc *RunContext, cfg *config.NANDConfig) error {
	s, err := rc.acquire(ctx, cfg.Console)
	if err != nil {
		return err
	}

	loader := rc.Deps.NewNetwork(rc, s.Console, cfg.Network)
	if rc.Board.NeedsNetwork(cfg.Component) || cfg.UbootFile != "" {
		if err := rc.step(ctx, "network-setup", loader.SetupNetwork); err != nil {
			return err
		}
	}

	flasher := rc.Deps.NewFlasher(rc, s.Console, loader, cfg)
	if err := rc.step(ctx, "read-partitions", func(context.Context) error {
		return flasher.ReadPartitions(cfg.MmapFile)
	}); err != nil {
		return err
	}

	if cfg.UbootFile != "" {
		if err := rc.step(ctx, "load-bootloader", func(ctx context.Context) error {
			return flasher.LoadBootloaderToRAM(ctx, cfg.UbootFile)
		}); err != nil {
			return err
		}
		// The bootloader now running from RAM starts with its own
		// network state.
		if err := rc.step(ctx, "network-resync", loader.SetupNetwork); err != nil {
			return err
		}
	}

	if err := rc.step(ctx, "install-"+cfg.Component.String(), func(ctx context.Context) error {
		return nand.Install(ctx, flasher, cfg.Component, cfg.Force)
	}); err != nil {
		return err
	}

	return rc.step(ctx, "autostart", func(ctx context.Context) error {
		_, err := rc.Deps.NewEnv(rc, s.Console).InstallVariable(ctx, "autostart", "yes", false)
		return err
	})
}

func runRAM(ctx context.Context, rc *RunContext, cfg *config.RAMConfig) error {
	s, err := rc.acquire(ctx, cfg.Console)
	if err != nil {
		return err
	}

	loader := rc.Deps.NewNetwork(rc, s.Console, cfg.Network)
	if err := rc.step(ctx, "network-setup", loader.SetupNetwork); err != nil {
		return err
	}
	return rc.step(ctx, "load-and-boot", func(ctx context.Context) error {
		return loader.LoadFileToRAMAndBoot(ctx, cfg.File, cfg.LoadAddr, cfg.BootLine, cfg.BootTimeout)
	})
}

func runEnv(ctx context.Context, rc *RunContext, cfg *config.EnvConfig) error {
	s, err := rc.acquire(ctx, cfg.Console)
	if err != nil {
		return err
	}
	return rc.step(ctx, "set-variable", func(ctx context.Context) error {
		_, err := rc.Deps.NewEnv(rc, s.Console).InstallVariable(ctx, cfg.Variable, cfg.Value, cfg.Force)
		return err
	})
}

// ── installer script modes ───────────────────────────────────────────

func runScript(ctx context.Context, rc *RunContext, cfg *config.ScriptConfig) error {
	var bundle *script.Bundle
	if err := rc.step(ctx, "build-bundle", func(context.Context) error {
		parts, err := nand.ReadPartitions(cfg.NANDMmapFile)
		if err != nil {
			return err
		}
		bundle, err = script.Build(rc.Board, parts, cfg.BlockSize, rc.Logger)
		return err
	}); err != nil {
		return err
	}
	if err := rc.step(ctx, "render-script", func(context.Context) error {
		return bundle.Render(cfg.Template, cfg.Output)
	}); err != nil {
		return err
	}

	comps := storage.FromConfig(cfg.Components)
	comps.Files = append(bundle.Images(), cfg.Output)

	var dest Destination
	switch cfg.Mode() {
	case config.ModeSDScriptImage:
		dest = Destination{Kind: MediaLoop, Image: cfg.Image, SizeMB: cfg.ImageSizeMB}
	case config.ModeUSBScript:
		dest = Destination{Kind: MediaUSB, Device: cfg.Device}
	default:
		dest = Destination{Kind: MediaSD, Device: cfg.Device}
	}

	if err := installMedia(ctx, rc, dest, cfg.MmapFile, cfg.Components.WorkDir, comps); err != nil {
		return err
	}
	if dest.Kind == MediaLoop {
		imageGuidance(rc, cfg.Image)
	}
	return nil
}
