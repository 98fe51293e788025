package nand

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Partition is one entry of a NAND partition map:
//
//	[[partition]]
//	name = "kernel"
//	start_blk = 32
//	size_blks = 48
//	image = "images/kernel.uImage"
//
// A zero SizeBlks sizes the partition after its image.
type Partition struct {
	Name     string `toml:"name"`
	StartBlk int    `toml:"start_blk"`
	SizeBlks int    `toml:"size_blks"`
	Image    string `toml:"image"`
}

type partitionFile struct {
	Partitions []Partition `toml:"partition"`
}

// ReadPartitions parses a NAND partition map.  Relative image paths are
// resolved against the map's directory.
func ReadPartitions(path string) ([]Partition, error) {
	var f partitionFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("load nand partition map: %w", err)
	}
	if len(f.Partitions) == 0 {
		return nil, fmt.Errorf("%s: no [[partition]] entries", path)
	}

	dir := filepath.Dir(path)
	seen := map[string]bool{}
	for i := range f.Partitions {
		p := &f.Partitions[i]
		p.Name = strings.TrimSpace(p.Name)
		switch {
		case p.Name == "":
			return nil, fmt.Errorf("%s: partition %d has no name", path, i+1)
		case seen[p.Name]:
			return nil, fmt.Errorf("%s: partition %q defined twice", path, p.Name)
		case p.StartBlk < 0 || p.SizeBlks < 0:
			return nil, fmt.Errorf("%s: partition %q has a negative block count", path, p.Name)
		}
		seen[p.Name] = true
		if p.Image != "" && !filepath.IsAbs(p.Image) {
			p.Image = filepath.Join(dir, p.Image)
		}
	}
	return f.Partitions, nil
}

// Find returns the partition called name.
func Find(parts []Partition, name string) (Partition, bool) {
	for _, p := range parts {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}
