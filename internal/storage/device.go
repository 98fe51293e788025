package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	fderr "openfd/internal/errors"
	"openfd/internal/shell"
	"openfd/util"
)

// mountsFile lists the mounted filesystems.
var mountsFile = "/proc/mounts"

// media holds the steps shared by every installer: a block device, the
// partitions laid out on it and what is mounted where.
type media struct {
	dev    string
	run    shell.Runner
	prompt Prompter
	logger *util.Logger

	parts    []Partition
	mounts   []string
	released bool
}

func (m *media) readPartitions(path string) error {
	parts, err := ReadPartitions(path)
	if err != nil {
		return err
	}
	m.parts = parts
	return nil
}

// partitionName returns the device node of partition i (1-based):
// /dev/sdb1, but /dev/mmcblk0p1 and /dev/loop0p1.
func (m *media) partitionName(i int) string {
	if strings.Contains(m.dev, "mmcblk") || strings.Contains(m.dev, "loop") {
		return fmt.Sprintf("%sp%d", m.dev, i)
	}
	return fmt.Sprintf("%s%d", m.dev, i)
}

// sizeBytes asks the kernel for the device size.
func (m *media) sizeBytes(ctx context.Context) (int64, error) {
	out, err := m.run.Output(ctx, "blockdev", "--getsize64", m.dev)
	if err != nil {
		return 0, fderr.WrapDevice("size", m.dev, err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fderr.WrapDevice("size", m.dev, fmt.Errorf("unable to obtain the size: %q", out))
	}
	return n, nil
}

// mountedPartitions lists the mount points of the device's partitions.
func (m *media) mountedPartitions() ([]string, error) {
	data, err := os.ReadFile(mountsFile)
	if err != nil {
		return nil, err
	}
	var mps []string
	for _, line := range strings.Split(string(data), "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && m.owns(f[0]) {
			mps = append(mps, f[1])
		}
	}
	return mps, nil
}

// owns reports whether node is the device itself or one of its
// partitions.  /dev/sdb does not own /dev/sdba1, nor /dev/loop1
// /dev/loop10p1.
func (m *media) owns(node string) bool {
	if node == m.dev {
		return true
	}
	rest, ok := strings.CutPrefix(node, strings.TrimSuffix(m.partitionName(1), "1"))
	return ok && rest != "" && strings.Trim(rest, "0123456789") == ""
}

// unmount unmounts mps in reverse order.  Every mount point is tried;
// the ones still mounted afterwards are returned with the joined
// failures.
func (m *media) unmount(ctx context.Context, mps []string) ([]string, error) {
	var (
		left []string
		errs []error
	)
	for i := len(mps) - 1; i >= 0; i-- {
		if err := m.run.Run(ctx, "sync"); err != nil {
			errs = append(errs, fderr.WrapDevice("sync", m.dev, err))
		}
		if err := m.run.Run(ctx, "umount", mps[i]); err != nil {
			errs = append(errs, fderr.WrapDevice("umount", mps[i], err))
			left = append([]string{mps[i]}, left...)
		}
	}
	return left, fderr.Join(errs...)
}

// checkDevice verifies the device before it is repartitioned and asks
// for the confirmations.
func (m *media) checkDevice(ctx context.Context, kind string) error {
	if _, err := os.Stat(m.dev); err != nil {
		return fderr.WrapDevice("open", m.dev, fmt.Errorf("no disk on %s", m.dev))
	}

	mps, err := m.mountedPartitions()
	if err != nil {
		return err
	}
	if len(mps) > 0 {
		msg := fmt.Sprintf("The following partitions from device %s will be unmounted:\n%s",
			m.dev, strings.Join(mps, "\n"))
		if err := confirm(ctx, m.prompt, msg); err != nil {
			return err
		}
		if _, err := m.unmount(ctx, mps); err != nil {
			return err
		}
	}

	size, err := m.sizeBytes(ctx)
	if err != nil {
		return err
	}
	if size == 0 {
		return fderr.WrapDevice("size", m.dev, fmt.Errorf("%s size is 0", m.dev))
	}
	if need := minSizeMB(m.parts) << 20; size < need {
		return fderr.WrapDevice("partition", m.dev,
			fmt.Errorf("size of partitions is too large to fit in %s (%d MiB needed)", m.dev, need>>20))
	}
	if gb := size >> 30; gb > WarnDeviceSizeGB {
		msg := fmt.Sprintf("%s %s has %d gigabytes, are you sure this is the right device?", kind, m.dev, gb)
		if err := confirm(ctx, m.prompt, msg); err != nil {
			return err
		}
	}
	return nil
}

// partition writes the partition table to target, which may be the
// device or an image file.
func (m *media) partition(ctx context.Context, target string) error {
	if err := m.run.RunInput(ctx, sfdiskScript(m.parts), "sfdisk", target); err != nil {
		return fderr.WrapDevice("partition", target, err)
	}
	return nil
}

func (m *media) formatPartitions(ctx context.Context) error {
	for i, p := range m.parts {
		node := m.partitionName(i + 1)
		var args []string
		switch p.Filesystem {
		case FSVfat:
			args = []string{"mkfs.vfat", "-F", "32", "-n", strings.ToUpper(p.Name), node}
		case FSExt3, FSExt4:
			args = []string{"mkfs." + p.Filesystem, "-F", "-q", "-L", p.Name, node}
		default:
			continue
		}
		m.logger.Verbose("storage: formatting %s as %s", node, p.Filesystem)
		if err := m.run.Run(ctx, args[0], args[1:]...); err != nil {
			return fderr.WrapDevice("format", node, err)
		}
	}
	return nil
}

// mount mounts every formatted partition at dir/<name>.
func (m *media) mount(ctx context.Context, dir string) error {
	for i, p := range m.parts {
		if p.Filesystem == "" {
			continue
		}
		node := m.partitionName(i + 1)
		mnt := filepath.Join(dir, p.Name)
		if err := m.run.Run(ctx, "mkdir", "-p", mnt); err != nil {
			return fderr.WrapDevice("mount", mnt, err)
		}
		if err := m.run.Run(ctx, "mount", "-t", p.Filesystem, node, mnt); err != nil {
			return fderr.WrapDevice("mount", node, fmt.Errorf("failed to mount in %s: %w", mnt, err))
		}
		m.mounts = append(m.mounts, mnt)
	}
	return nil
}

// mountPoint returns where partition p was mounted.
func (m *media) mountPoint(p Partition) (string, bool) {
	for _, mnt := range m.mounts {
		if filepath.Base(mnt) == p.Name {
			return mnt, true
		}
	}
	return "", false
}

// install copies the components to the partitions that carry them.
// withBootloader is false for media the board does not boot from.
func (m *media) install(ctx context.Context, c Components, withBootloader bool) error {
	flashed := false
	for _, p := range m.parts {
		if p.Carries(RoleBootloader) && !flashed {
			if !withBootloader {
				m.logger.Warn("Ignoring bootloader on %s: this media is not bootable by the board", p.Name)
			} else if err := m.uflash(ctx, c); err != nil {
				return err
			}
			flashed = true
		}

		mnt, ok := m.mountPoint(p)
		if !ok {
			continue
		}
		if p.Carries(RoleKernel) && c.KernelFile != "" {
			m.logger.Info("Installing kernel on %s", p.Name)
			if err := m.run.Run(ctx, "cp", c.KernelFile, filepath.Join(mnt, "uImage")); err != nil {
				return fderr.WrapDevice("install", mnt, err)
			}
			if c.Bootargs != "" {
				env := "bootargs=" + c.Bootargs + "\n"
				if err := m.run.RunInput(ctx, env, "tee", filepath.Join(mnt, "uEnv.txt")); err != nil {
					return fderr.WrapDevice("install", mnt, err)
				}
			}
		}
		if p.Carries(RoleRootfs) && c.Rootfs != "" {
			m.logger.Info("Installing root filesystem on %s (this may take a while)", p.Name)
			if err := m.run.Run(ctx, "cp", "-a", filepath.Clean(c.Rootfs)+"/.", mnt+"/"); err != nil {
				return fderr.WrapDevice("install", mnt, err)
			}
		}
		if p.Carries(RoleInstaller) {
			for _, f := range c.Files {
				m.logger.Verbose("storage: copying %s to %s", filepath.Base(f), p.Name)
				if err := m.run.Run(ctx, "cp", f, mnt+"/"); err != nil {
					return fderr.WrapDevice("install", mnt, err)
				}
			}
		}
	}
	return nil
}

func (m *media) uflash(ctx context.Context, c Components) error {
	m.logger.Info("Installing bootloader on %s", m.dev)
	err := m.run.Run(ctx, c.Uflash,
		"-d", m.dev,
		"-u", c.IPLFile,
		"-b", c.UbootFile,
		"-e", fmt.Sprintf("0x%x", c.UbootEntryAddr),
		"-l", fmt.Sprintf("0x%x", c.UbootLoadAddr),
	)
	if err != nil {
		return fderr.WrapDevice("uflash", m.dev, err)
	}
	return nil
}

// releaseMounts unmounts what this installer mounted.  Mount points
// that fail to unmount are kept for the next call; once everything is
// unmounted later calls do nothing.
func (m *media) releaseMounts(ctx context.Context) (bool, error) {
	if m.released {
		return false, nil
	}
	left, err := m.unmount(ctx, m.mounts)
	m.mounts = left
	if err != nil {
		return false, err
	}
	m.released = true
	return true, nil
}
