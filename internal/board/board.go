// Package board describes the target boards openfd knows how to flash:
// the monitor prompt, NAND geometry and the per-component commands used
// to erase and program flash.
package board

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"openfd/config"
)

//go:embed boards.yaml
var builtin []byte

// Commands are the monitor commands used to program one component.
type Commands struct {
	Erase     string `yaml:"erase_cmd"`
	PreWrite  string `yaml:"pre_write_cmd"`
	Write     string `yaml:"write_cmd"`
	PostWrite string `yaml:"post_write_cmd"`
}

// Part binds a component to its partition name in the maps.
type Part struct {
	Name     string `yaml:"name"`
	Commands `yaml:",inline"`
}

// Geometry is the default NAND geometry of a board.
type Geometry struct {
	BlockSize int `yaml:"block_size"`
	PageSize  int `yaml:"page_size"`
}

// Board is one catalog entry.
type Board struct {
	Name            string          `yaml:"name"`
	MachDescription string          `yaml:"mach_description"`
	Prompt          string          `yaml:"prompt"`
	NAND            Geometry        `yaml:"nand"`
	Netboot         []string        `yaml:"netboot"`
	Parts           map[string]Part `yaml:"components"`
}

// Part returns the partition binding for c.
func (b *Board) Part(c config.Component) Part {
	return b.Parts[c.String()]
}

// NeedsNetwork reports whether installing c loads its image over TFTP.
func (b *Board) NeedsNetwork(c config.Component) bool {
	for _, n := range b.Netboot {
		if n == c.String() {
			return true
		}
	}
	return false
}

func (b *Board) validate() error {
	if b.Name == "" {
		return fmt.Errorf("board entry without a name")
	}
	if strings.TrimSpace(b.Prompt) == "" {
		return fmt.Errorf("board %s: prompt is empty", b.Name)
	}
	for _, c := range config.Components() {
		p, ok := b.Parts[c.String()]
		if !ok || p.Name == "" {
			return fmt.Errorf("board %s: no partition name for %s", b.Name, c)
		}
		if p.Write == "" {
			return fmt.Errorf("board %s: no write command for %s", b.Name, c)
		}
	}
	for _, n := range b.Netboot {
		if _, err := config.ParseComponent(n); err != nil {
			return fmt.Errorf("board %s: netboot: %w", b.Name, err)
		}
	}
	// The NAND installer stages every image in RAM over TFTP.
	for _, c := range config.Components() {
		if !b.NeedsNetwork(c) {
			return fmt.Errorf("board %s: netboot must list %s, NAND images are loaded over TFTP", b.Name, c)
		}
	}
	return nil
}

type catalogFile struct {
	Boards []*Board `yaml:"boards"`
}

// Catalog holds the known boards by name.
type Catalog struct {
	boards map[string]*Board
}

// Load reads the built-in catalog and, when path is not empty, overlays
// the boards defined in that file.
func Load(path string) (*Catalog, error) {
	c := &Catalog{boards: map[string]*Board{}}
	if err := c.add(builtin); err != nil {
		return nil, fmt.Errorf("built-in catalog: %w", err)
	}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}
	if err := c.add(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) add(data []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	for _, b := range f.Boards {
		if err := b.validate(); err != nil {
			return err
		}
		c.boards[b.Name] = b
	}
	return nil
}

// Lookup returns the board called name.
func (c *Catalog) Lookup(name string) (*Board, error) {
	b, ok := c.boards[name]
	if !ok {
		return nil, fmt.Errorf("unknown board %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return b, nil
}

// Names lists the catalog in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.boards))
	for n := range c.boards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
