package storage

import (
	"context"
	"fmt"

	"openfd/internal/shell"
	"openfd/util"
)

// Removable installs to a physical SD card or USB stick.
type Removable struct {
	media
	kind     string
	bootable bool
}

// NewSDCard returns an installer for the SD card at device.  The board
// boots from it, so the bootloader is written too.
func NewSDCard(device string, run shell.Runner, prompt Prompter, logger *util.Logger) *Removable {
	return newRemovable("SD card", true, device, run, prompt, logger)
}

// NewUSB returns an installer for a USB stick, which the board reads
// from its running bootloader.
func NewUSB(device string, run shell.Runner, prompt Prompter, logger *util.Logger) *Removable {
	return newRemovable("USB device", false, device, run, prompt, logger)
}

func newRemovable(kind string, bootable bool, device string, run shell.Runner, prompt Prompter, logger *util.Logger) *Removable {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if prompt == nil {
		prompt = AssumeYes{Logger: logger}
	}
	return &Removable{
		media:    media{dev: device, run: run, prompt: prompt, logger: logger},
		kind:     kind,
		bootable: bootable,
	}
}

// ReadPartitions loads the partition map.
func (r *Removable) ReadPartitions(path string) error {
	return r.readPartitions(path)
}

// Format repartitions and formats the device after the checks and
// confirmations pass.
func (r *Removable) Format(ctx context.Context) error {
	if !r.run.DryRun() {
		if err := r.checkDevice(ctx, r.kind); err != nil {
			return err
		}
	}
	msg := fmt.Sprintf("You are about to repartition %s (all your data will be lost)", r.dev)
	if err := confirm(ctx, r.prompt, msg); err != nil {
		return err
	}

	r.logger.Info("Formatting %s (this may take a while)", r.dev)
	if err := r.partition(ctx, r.dev); err != nil {
		return err
	}
	return r.formatPartitions(ctx)
}

// MountPartitions mounts the formatted partitions under dir.
func (r *Removable) MountPartitions(ctx context.Context, dir string) error {
	return r.mount(ctx, dir)
}

// InstallComponents copies the components onto the partitions.
func (r *Removable) InstallComponents(ctx context.Context, c Components) error {
	return r.install(ctx, c, r.bootable)
}

// Release unmounts everything this installer mounted.
func (r *Removable) Release(ctx context.Context) error {
	if r == nil {
		return nil
	}
	released, err := r.releaseMounts(ctx)
	if released && err == nil {
		r.logger.Verbose("storage: released %s", r.dev)
	}
	return err
}
