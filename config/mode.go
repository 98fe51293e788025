package config

import "fmt"

// Mode selects which installation flow a run executes.
type Mode int

const (
	ModeSD Mode = iota + 1
	ModeSDImage
	ModeNAND
	ModeRAM
	ModeEnv
	ModeSDScript
	ModeSDScriptImage
	ModeUSBScript
)

var modeNames = map[Mode]string{
	ModeSD:            "sd",
	ModeSDImage:       "sd-img",
	ModeNAND:          "nand",
	ModeRAM:           "ram",
	ModeEnv:           "env",
	ModeSDScript:      "sd-script",
	ModeSDScriptImage: "sd-script-img",
	ModeUSBScript:     "usb-script",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a CLI mode name to a Mode.
func ParseMode(name string) (Mode, error) {
	for m, s := range modeNames {
		if s == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeSD, ModeSDImage, ModeNAND, ModeRAM, ModeEnv,
		ModeSDScript, ModeSDScriptImage, ModeUSBScript}
}

// IsScript reports whether m produces an external installer bundle.
func (m Mode) IsScript() bool {
	return m == ModeSDScript || m == ModeSDScriptImage || m == ModeUSBScript
}

// Component is one of the four firmware pieces a board boots from.
type Component int

const (
	ComponentIPL Component = iota + 1
	ComponentBootloader
	ComponentKernel
	ComponentFS
)

var componentNames = map[Component]string{
	ComponentIPL:        "ipl",
	ComponentBootloader: "bootloader",
	ComponentKernel:     "kernel",
	ComponentFS:         "fs",
}

func (c Component) String() string {
	if s, ok := componentNames[c]; ok {
		return s
	}
	return fmt.Sprintf("component(%d)", int(c))
}

// ParseComponent maps a CLI component name to a Component.
func ParseComponent(name string) (Component, error) {
	for c, s := range componentNames {
		if s == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown component %q", name)
}

// Components returns the components in flash order.
func Components() []Component {
	return []Component{ComponentIPL, ComponentBootloader, ComponentKernel, ComponentFS}
}

// NetMode selects how the board obtains its IP address.
type NetMode string

const (
	NetStatic NetMode = "static"
	NetDHCP   NetMode = "dhcp"
)
