// Package config defines the raw operator input for openfd, the typed
// per-mode configurations derived from it, and the validation pipeline
// that is the only way to obtain a typed configuration.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Raw holds every operator-supplied value exactly as given on the
// command line or in the environment.  Numeric and address fields stay
// strings until Validate normalises them.
type Raw struct {
	// ── Global ───────────────────────────────────────────────────────
	AssumeYes   bool
	Verbose     bool
	Quiet       bool
	LogFile     string
	DryRun      bool
	Board       string
	BoardFile   string
	MetricsFile string

	// ── Partition maps ───────────────────────────────────────────────
	MmapFile     string // SD layout, or NAND layout in nand mode
	NANDMmapFile string // NAND layout consumed by script modes

	// ── Media destination ────────────────────────────────────────────
	Device      string
	Image       string
	ImageSizeMB string

	// ── SD components ────────────────────────────────────────────────
	WorkDir        string
	KernelFile     string
	IPLFile        string
	UbootFile      string
	Uflash         string
	UbootEntryAddr string
	UbootLoadAddr  string
	UbootBootargs  string
	Rootfs         string

	// ── Console ──────────────────────────────────────────────────────
	SerialPort     string
	SerialBaud     string
	TelnetHost     string
	TelnetPort     string
	ConsoleTunnel  string // [user@]host[:port] of an SSH jump host
	SSHKeyPath     string
	SSHPassword    bool
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	SyncTimeout    string // seconds

	// ── Network bootstrap ────────────────────────────────────────────
	BoardNetMode string
	BoardIP      string
	HostIP       string
	TFTPDir      string
	TFTPPort     string

	// ── NAND ─────────────────────────────────────────────────────────
	Component    string
	Force        bool
	NandBlkSize  string
	NandPageSize string
	RAMLoadAddr  string

	// ── RAM ──────────────────────────────────────────────────────────
	File        string
	LoadAddr    string
	BootLine    string
	BootTimeout string // seconds

	// ── ENV ──────────────────────────────────────────────────────────
	Variable string
	Value    string

	// ── Scripts ──────────────────────────────────────────────────────
	Template string
	Output   string
}

// DefaultRaw returns a Raw populated with the defaults from defaults.go.
func DefaultRaw() *Raw {
	return &Raw{
		Board:        DefaultBoard,
		ImageSizeMB:  strconv.Itoa(DefaultImageSizeMB),
		WorkDir:      DefaultWorkDir,
		SerialBaud:   strconv.Itoa(DefaultSerialBaud),
		TelnetPort:   strconv.Itoa(DefaultTelnetPort),
		SyncTimeout:  strconv.Itoa(int(DefaultSyncTimeout / time.Second)),
		BoardNetMode: string(DefaultNetMode),
		TFTPDir:      DefaultTFTPDir,
		TFTPPort:     strconv.Itoa(DefaultTFTPPort),
		RAMLoadAddr:  fmt.Sprintf("0x%x", DefaultRAMLoadAddr),
		BootLine:     DefaultBootLine,
		BootTimeout:  strconv.Itoa(int(DefaultBootTimeout / time.Second)),
	}
}

// Verbosity maps the --quiet/--verbose pair to a util.Logger level.
func (r *Raw) Verbosity() int {
	switch {
	case r.Quiet:
		return 0
	case r.Verbose:
		return 3
	default:
		return 1
	}
}

// ── Typed configurations ─────────────────────────────────────────────

// Config is the immutable, validated input of one mode.  Only Validate
// constructs values of these types.
type Config interface {
	Mode() Mode
}

// Tunnel describes an SSH jump host in front of a telnet console relay.
type Tunnel struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
}

// Console selects and parameterises the bootloader console transport.
// Exactly one of SerialPort and TelnetHost is set.
type Console struct {
	SerialPort  string
	Baud        int
	TelnetHost  string
	TelnetPort  int
	Tunnel      *Tunnel // optional, telnet only
	SyncTimeout time.Duration
}

// IsSerial reports whether the console is a local serial port.
func (c Console) IsSerial() bool { return c.SerialPort != "" }

// Network configures the board-side network bootstrap.
type Network struct {
	Mode     NetMode
	BoardIP  string // static mode only
	HostIP   string
	TFTPDir  string
	TFTPPort int
}

// SDComponents are the inputs of the board's removable-media layout.
type SDComponents struct {
	WorkDir        string
	Uflash         string
	IPLFile        string
	UbootFile      string
	UbootEntryAddr uint64
	UbootLoadAddr  uint64
	KernelFile     string
	Rootfs         string // optional directory
	Bootargs       string
}

// SDConfig is the validated input of sd mode.
type SDConfig struct {
	MmapFile   string
	Device     string
	Components SDComponents
}

func (*SDConfig) Mode() Mode { return ModeSD }

// SDImageConfig is the validated input of sd-img mode.
type SDImageConfig struct {
	MmapFile    string
	Image       string
	ImageSizeMB int
	Components  SDComponents
}

func (*SDImageConfig) Mode() Mode { return ModeSDImage }

// NANDConfig is the validated input of nand mode.  BlockSize and
// PageSize are zero when the geometry should be probed.
type NANDConfig struct {
	Console     Console
	Network     Network
	MmapFile    string
	Component   Component
	Force       bool
	BlockSize   int
	PageSize    int
	RAMLoadAddr uint64
	UbootFile   string // optional intermediate bootloader
}

func (*NANDConfig) Mode() Mode { return ModeNAND }

// RAMConfig is the validated input of ram mode.
type RAMConfig struct {
	Console     Console
	Network     Network
	File        string
	LoadAddr    uint64
	BootLine    string
	BootTimeout time.Duration
}

func (*RAMConfig) Mode() Mode { return ModeRAM }

// EnvConfig is the validated input of env mode.
type EnvConfig struct {
	Console  Console
	Variable string
	Value    string
	Force    bool
}

func (*EnvConfig) Mode() Mode { return ModeEnv }

// ScriptConfig is the validated input of the three script modes.  The
// destination fields in use depend on the mode: Device for sd-script
// and usb-script, Image and ImageSizeMB for sd-script-img.
type ScriptConfig struct {
	mode         Mode
	NANDMmapFile string
	Template     string
	Output       string
	BlockSize    int
	MmapFile     string
	Device       string
	Image        string
	ImageSizeMB  int
	Components   SDComponents
}

func (c *ScriptConfig) Mode() Mode { return c.mode }

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = 22
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}
