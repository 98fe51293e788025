package storage

import (
	"context"
	"fmt"
	"strconv"

	fderr "openfd/internal/errors"
	"openfd/internal/shell"
	"openfd/util"
)

// dryRunLoop stands in for the loop device losetup would pick.
const dryRunLoop = "/dev/loopN"

// LoopImage installs to a disk image file through a loop device.
type LoopImage struct {
	media
	image    string
	sizeMB   int
	attached bool
}

// NewLoopImage returns an installer creating an image of sizeMB
// megabytes at image.
func NewLoopImage(image string, sizeMB int, run shell.Runner, logger *util.Logger) *LoopImage {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &LoopImage{
		media:  media{run: run, prompt: AssumeYes{}, logger: logger},
		image:  image,
		sizeMB: sizeMB,
	}
}

// ReadPartitions loads the partition map.
func (l *LoopImage) ReadPartitions(path string) error {
	return l.readPartitions(path)
}

// Device returns the loop device once attached.
func (l *LoopImage) Device() string { return l.dev }

// Format creates the image, partitions it and attaches it with its
// partitions.
func (l *LoopImage) Format(ctx context.Context) error {
	if need := minSizeMB(l.parts); !l.run.DryRun() && int64(l.sizeMB) < need {
		return fderr.WrapDevice("partition", l.image,
			fmt.Errorf("image of %d MB is too small for the partitions (%d MiB needed)", l.sizeMB, need))
	}

	l.logger.Info("Formatting %s (this may take a while)", l.image)
	err := l.run.Run(ctx, "dd", "if=/dev/zero", "of="+l.image, "bs=1M", "count="+strconv.Itoa(l.sizeMB))
	if err != nil {
		return fderr.WrapDevice("create", l.image, err)
	}
	if err := l.partition(ctx, l.image); err != nil {
		return err
	}

	dev, err := l.run.Output(ctx, "losetup", "--find", "--show", "--partscan", l.image)
	if err != nil {
		return fderr.WrapDevice("attach", l.image, err)
	}
	if dev == "" {
		if !l.run.DryRun() {
			return fderr.WrapDevice("attach", l.image, fmt.Errorf("losetup returned no device"))
		}
		dev = dryRunLoop
	}
	l.dev = dev
	l.attached = true
	l.logger.Verbose("storage: %s attached to %s", l.image, dev)

	return l.formatPartitions(ctx)
}

// MountPartitions mounts the formatted partitions under dir.
func (l *LoopImage) MountPartitions(ctx context.Context, dir string) error {
	return l.mount(ctx, dir)
}

// InstallComponents copies the components onto the partitions and
// writes the bootloader to the image.
func (l *LoopImage) InstallComponents(ctx context.Context, c Components) error {
	return l.install(ctx, c, true)
}

// Release unmounts the partitions and detaches the loop device.  The
// device stays attached while any of its partitions is still mounted.
func (l *LoopImage) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if _, err := l.releaseMounts(ctx); err != nil {
		return err
	}
	if !l.attached {
		return nil
	}
	l.attached = false
	if err := l.run.Run(ctx, "losetup", "-d", l.dev); err != nil {
		return fderr.WrapDevice("detach", l.dev, err)
	}
	return nil
}
