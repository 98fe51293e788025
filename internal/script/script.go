// Package script prepares the installer that flashes NAND from a
// bootable SD card or USB stick.  A Bundle collects, for every
// component, the flash layout and commands as ${name} substitutions;
// Render applies them to a template to produce the installer script
// that runs on the board.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"openfd/config"
	"openfd/internal/board"
	"openfd/internal/nand"
	"openfd/util"
)

// prefixes name each component in the substitution keys.
var prefixes = map[config.Component]string{
	config.ComponentIPL:        "ipl",
	config.ComponentBootloader: "bootloader",
	config.ComponentKernel:     "kernel",
	config.ComponentFS:         "filesystem",
}

// Bundle is the set of substitutions and the images they describe.
type Bundle struct {
	subs   map[string]string
	images []string
	logger *util.Logger
}

// Build computes the bundle for b from a NAND partition map.  Every
// component must have a partition with an image.
func Build(b *board.Board, parts []nand.Partition, blockSize int, logger *util.Logger) (*Bundle, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if blockSize <= 0 {
		blockSize = b.NAND.BlockSize
	}
	bn := &Bundle{subs: map[string]string{}, logger: logger}

	logger.Debug("Board substitutions")
	bn.set("mach_desc", b.MachDescription)

	for _, c := range config.Components() {
		bp := b.Part(c)
		p, ok := nand.Find(parts, bp.Name)
		if !ok {
			return nil, fmt.Errorf("partition %q for %s not found in the NAND partition map", bp.Name, c)
		}
		if p.Image == "" {
			return nil, fmt.Errorf("partition %q has no image", p.Name)
		}
		if err := bn.add(c, bp, p, blockSize); err != nil {
			return nil, err
		}
	}
	return bn, nil
}

func (bn *Bundle) add(c config.Component, bp board.Part, p nand.Partition, blockSize int) error {
	fi, err := os.Stat(p.Image)
	if err != nil {
		return err
	}
	sum, err := nand.MD5File(p.Image)
	if err != nil {
		return err
	}
	l := nand.Plan(p, fi.Size(), blockSize, 0)
	if l.Overflow {
		bn.logger.Warn("Using %d NAND blocks instead of %d for the %s partition", l.Blocks, p.SizeBlks, c)
	}

	pre := prefixes[c]
	bn.logger.Debug("%s substitutions", pre)
	bn.set(pre+"_name", bp.Name)
	bn.set(pre+"_image", filepath.Base(p.Image))
	bn.set(pre+"_erase_cmd", bp.Erase)
	bn.set(pre+"_erase_offset", nand.Hex(l.Offset))
	bn.set(pre+"_erase_size", nand.Hex(l.PartitionSize))
	bn.set(pre+"_pre_write_cmd", bp.PreWrite)
	bn.set(pre+"_write_cmd", bp.Write)
	bn.set(pre+"_write_offset", nand.Hex(l.Offset))
	bn.set(pre+"_write_size", nand.Hex(l.ImageSize))
	bn.set(pre+"_post_write_cmd", bp.PostWrite)
	bn.set(pre+"_md5sum", sum)
	bn.set(pre+"_offset", nand.Hex(l.Offset))
	bn.set(pre+"_size", nand.Hex(l.ImageSize))
	bn.set(pre+"_partitionsize", nand.Hex(l.PartitionSize))
	bn.images = append(bn.images, p.Image)
	return nil
}

func (bn *Bundle) set(key, value string) {
	bn.logger.Debug("  %-30s = %s", "${"+key+"}", value)
	bn.subs[key] = value
}

// Subs returns a copy of the substitutions.
func (bn *Bundle) Subs() map[string]string {
	out := make(map[string]string, len(bn.subs))
	for k, v := range bn.subs {
		out[k] = v
	}
	return out
}

// Images lists the component image paths in flash order.
func (bn *Bundle) Images() []string {
	return append([]string(nil), bn.images...)
}

// Render writes the template at in, with the bundle substituted, to
// out.
func (bn *Bundle) Render(in, out string) error {
	bn.logger.Info("Writing script")
	bn.logger.Info("  Template: %s", in)
	bn.logger.Info("  Output: %s", out)

	tmpl, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	if err := os.WriteFile(out, []byte(Expand(string(tmpl), bn.subs)), 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\$(?:(\$)|\{([_a-zA-Z][_a-zA-Z0-9]*)\}|([_a-zA-Z][_a-zA-Z0-9]*))`)

// Expand replaces $name and ${name} with values from subs.  "$$" is a
// literal dollar; placeholders without a value are left as written.
func Expand(s string, subs map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		g := placeholderRe.FindStringSubmatch(m)
		if g[1] != "" {
			return "$"
		}
		name := g[2] + g[3]
		if v, ok := subs[name]; ok {
			return v
		}
		return m
	})
}
