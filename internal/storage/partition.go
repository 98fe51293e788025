package storage

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Filesystems the installers can create and mount.
const (
	FSVfat = "vfat"
	FSExt3 = "ext3"
	FSExt4 = "ext4"
)

// What a partition may carry.
const (
	RoleBootloader = "bootloader" // IPL and bootloader written by uflash
	RoleKernel     = "kernel"
	RoleRootfs     = "rootfs"
	RoleInstaller  = "installer" // NAND installer script and images
)

// Partition is one entry of a removable-media partition map:
//
//	[[partition]]
//	name = "boot"
//	start_mb = 4
//	size_mb = 64
//	filesystem = "vfat"
//	bootable = true
//	components = ["bootloader", "kernel"]
//
// Only the first partition's StartMB is honoured; the rest follow each
// other.  A zero SizeMB on the last partition takes the rest of the
// device.
type Partition struct {
	Name       string   `toml:"name"`
	StartMB    int      `toml:"start_mb"`
	SizeMB     int      `toml:"size_mb"`
	Type       string   `toml:"type"`
	Filesystem string   `toml:"filesystem"`
	Bootable   bool     `toml:"bootable"`
	Components []string `toml:"components"`
}

// Carries reports whether the partition holds role.
func (p Partition) Carries(role string) bool {
	for _, c := range p.Components {
		if c == role {
			return true
		}
	}
	return false
}

func (p Partition) sfdiskType() string {
	if p.Type != "" {
		return p.Type
	}
	if p.Filesystem == FSVfat {
		return "c"
	}
	return "83"
}

type partitionFile struct {
	Partitions []Partition `toml:"partition"`
}

// ReadPartitions parses a removable-media partition map.
func ReadPartitions(path string) ([]Partition, error) {
	var f partitionFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("load partition map: %w", err)
	}
	if len(f.Partitions) == 0 {
		return nil, fmt.Errorf("%s: no [[partition]] entries", path)
	}
	for i := range f.Partitions {
		p := &f.Partitions[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("%s: partition %d has no name", path, i+1)
		}
		if p.SizeMB < 0 || p.StartMB < 0 {
			return nil, fmt.Errorf("%s: partition %q has a negative size", path, p.Name)
		}
		if p.SizeMB == 0 && i != len(f.Partitions)-1 {
			return nil, fmt.Errorf("%s: only the last partition may fill the device", path)
		}
		switch p.Filesystem {
		case "", FSVfat, FSExt3, FSExt4:
		default:
			return nil, fmt.Errorf("%s: partition %q: unsupported filesystem %q", path, p.Name, p.Filesystem)
		}
		for _, role := range p.Components {
			switch role {
			case RoleBootloader, RoleKernel, RoleRootfs, RoleInstaller:
			default:
				return nil, fmt.Errorf("%s: partition %q: unknown component %q", path, p.Name, role)
			}
		}
	}
	if f.Partitions[0].StartMB == 0 {
		f.Partitions[0].StartMB = 1
	}
	return f.Partitions, nil
}

// minSizeMB is the smallest device the map fits on.  A partition that
// fills the device counts as one megabyte.
func minSizeMB(parts []Partition) int64 {
	if len(parts) == 0 {
		return 0
	}
	total := int64(parts[0].StartMB)
	for _, p := range parts {
		if p.SizeMB == 0 {
			total++
		} else {
			total += int64(p.SizeMB)
		}
	}
	return total
}

// sfdiskScript renders the map as sfdisk input.
func sfdiskScript(parts []Partition) string {
	var b strings.Builder
	b.WriteString("label: dos\n")
	for i, p := range parts {
		var fields []string
		if i == 0 {
			fields = append(fields, fmt.Sprintf("start=%dMiB", p.StartMB))
		}
		if p.SizeMB > 0 {
			fields = append(fields, fmt.Sprintf("size=%dMiB", p.SizeMB))
		}
		fields = append(fields, "type="+p.sfdiskType())
		if p.Bootable {
			fields = append(fields, "bootable")
		}
		b.WriteString(strings.Join(fields, ", "))
		b.WriteByte('\n')
	}
	return b.String()
}
