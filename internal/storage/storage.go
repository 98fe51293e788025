// Package storage partitions, formats and populates removable media
// (SD cards, USB sticks) and loopback disk images.
//
// All host tools run through a shell.Runner, so dry-run mode logs the
// whole sequence without touching a device.  Destructive steps are
// confirmed through a Prompter; a declined prompt surfaces as
// errors.ErrUserCancelled.
package storage

import (
	"context"

	"openfd/config"
)

// WarnDeviceSizeGB is the size above which the target is probably not
// the card the operator meant.
const WarnDeviceSizeGB = 128

// Installer is the removable-media installer as seen by the
// orchestrator.  Calls run in declaration order; Release is safe at any
// point and more than once.
type Installer interface {
	ReadPartitions(path string) error
	Format(ctx context.Context) error
	MountPartitions(ctx context.Context, dir string) error
	InstallComponents(ctx context.Context, c Components) error
	Release(ctx context.Context) error
}

// Components is what gets written to the media.
type Components struct {
	Uflash         string
	IPLFile        string
	UbootFile      string
	UbootEntryAddr uint64
	UbootLoadAddr  uint64
	KernelFile     string
	Bootargs       string
	Rootfs         string
	// Files are copied to partitions carrying the installer role.
	Files []string
}

// FromConfig maps the validated SD inputs.
func FromConfig(c config.SDComponents) Components {
	return Components{
		Uflash:         c.Uflash,
		IPLFile:        c.IPLFile,
		UbootFile:      c.UbootFile,
		UbootEntryAddr: c.UbootEntryAddr,
		UbootLoadAddr:  c.UbootLoadAddr,
		KernelFile:     c.KernelFile,
		Bootargs:       c.Bootargs,
		Rootfs:         c.Rootfs,
	}
}
