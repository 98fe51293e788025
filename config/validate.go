package config

import (
	"fmt"
	"strings"

	fderr "openfd/internal/errors"
)

// ── Validation pipeline ──────────────────────────────────────────────

// Validate runs the ordered checks of mode against raw and returns the
// typed configuration.  The first failing check aborts the pipeline and
// is returned as a *errors.ValidationError; raw itself is never
// modified.
func Validate(mode Mode, raw *Raw) (Config, error) {
	if raw == nil {
		return nil, fderr.Invalid("mode", mode.String(), "no configuration supplied")
	}
	c := &checker{}

	var cfg Config
	switch mode {
	case ModeSD:
		cfg = validateSD(c, raw)
	case ModeSDImage:
		cfg = validateSDImage(c, raw)
	case ModeNAND:
		cfg = validateNAND(c, raw)
	case ModeRAM:
		cfg = validateRAM(c, raw)
	case ModeEnv:
		cfg = validateEnv(c, raw)
	case ModeSDScript, ModeSDScriptImage, ModeUSBScript:
		cfg = validateScript(c, mode, raw)
	default:
		return nil, fderr.Invalid("mode", mode.String(), "unknown installation mode")
	}

	if c.failed() {
		return nil, c.err
	}
	return cfg, nil
}

func validateSD(c *checker, r *Raw) *SDConfig {
	cfg := &SDConfig{}
	cfg.MmapFile = c.fileExists("mmap-file", r.MmapFile)
	cfg.Device = c.pathExists("device", r.Device)
	cfg.Components = sdComponents(c, r)
	return cfg
}

func validateSDImage(c *checker, r *Raw) *SDImageConfig {
	cfg := &SDImageConfig{}
	cfg.MmapFile = c.fileExists("mmap-file", r.MmapFile)
	if c.required("image", r.Image) {
		cfg.Image = c.parentExists("image", r.Image)
	}
	cfg.ImageSizeMB = c.positive("image-size-mb", r.ImageSizeMB)
	cfg.Components = sdComponents(c, r)
	return cfg
}

func sdComponents(c *checker, r *Raw) SDComponents {
	var s SDComponents
	s.WorkDir = c.dirExists("work-dir", r.WorkDir)
	s.Uflash = c.executable("uflash", r.Uflash)
	s.IPLFile = c.fileExists("ipl-file", r.IPLFile)
	s.UbootFile = c.fileExists("uboot-file", r.UbootFile)
	s.UbootEntryAddr = c.address("uboot-entry-addr", r.UbootEntryAddr)
	s.UbootLoadAddr = c.address("uboot-load-addr", r.UbootLoadAddr)
	s.KernelFile = c.fileExists("kernel-file", r.KernelFile)
	if r.Rootfs != "" {
		s.Rootfs = c.dirExists("rootfs", r.Rootfs)
	}
	s.Bootargs = strings.TrimSpace(r.UbootBootargs)
	return s
}

func validateNAND(c *checker, r *Raw) *NANDConfig {
	cfg := &NANDConfig{Force: r.Force}
	if c.required("component", r.Component) {
		comp, err := ParseComponent(r.Component)
		if err != nil {
			c.fail("component", r.Component, "must be one of ipl, bootloader, kernel, fs")
		}
		cfg.Component = comp
	}
	cfg.Console = console(c, r)
	cfg.Network = network(c, r)
	cfg.MmapFile = c.fileExists("mmap-file", r.MmapFile)
	cfg.BlockSize = c.optionalInt("nand-blk-size", r.NandBlkSize)
	cfg.PageSize = c.optionalInt("nand-page-size", r.NandPageSize)
	cfg.RAMLoadAddr = c.address("ram-load-addr", r.RAMLoadAddr)
	if r.UbootFile != "" {
		cfg.UbootFile = c.fileExists("uboot-file", r.UbootFile)
	}
	return cfg
}

func validateRAM(c *checker, r *Raw) *RAMConfig {
	cfg := &RAMConfig{}
	cfg.Console = console(c, r)
	cfg.Network = network(c, r)
	cfg.File = c.fileExists("file", r.File)
	cfg.LoadAddr = c.address("load-addr", r.LoadAddr)
	if c.required("boot-line", r.BootLine) {
		cfg.BootLine = r.BootLine
	}
	cfg.BootTimeout = c.seconds("boot-timeout", r.BootTimeout)
	return cfg
}

func validateEnv(c *checker, r *Raw) *EnvConfig {
	cfg := &EnvConfig{Force: r.Force}
	cfg.Console = console(c, r)
	if c.required("variable", r.Variable) {
		cfg.Variable = strings.TrimSpace(r.Variable)
	}
	if c.required("value", r.Value) {
		cfg.Value = strings.TrimSpace(r.Value)
	}
	return cfg
}

func validateScript(c *checker, mode Mode, r *Raw) *ScriptConfig {
	cfg := &ScriptConfig{mode: mode}
	cfg.NANDMmapFile = c.fileExists("nand-mmap-file", r.NANDMmapFile)
	cfg.Template = c.fileExists("template", r.Template)
	cfg.Output = c.parentExists("output", r.Output)
	cfg.BlockSize = c.optionalInt("nand-blk-size", r.NandBlkSize)
	cfg.MmapFile = c.fileExists("mmap-file", r.MmapFile)

	switch mode {
	case ModeSDScriptImage:
		if c.required("image", r.Image) {
			cfg.Image = c.parentExists("image", r.Image)
		}
		cfg.ImageSizeMB = c.positive("image-size-mb", r.ImageSizeMB)
	default:
		cfg.Device = c.pathExists("device", r.Device)
	}

	cfg.Components = sdComponents(c, r)
	return cfg
}

// ── shared groups ────────────────────────────────────────────────────

func console(c *checker, r *Raw) Console {
	var con Console
	if c.failed() {
		return con
	}

	switch {
	case r.SerialPort == "" && r.TelnetHost == "":
		c.fail("serial-port", nil, "a console is required: --serial-port or --telnet-host")
		return con
	case r.SerialPort != "" && r.TelnetHost != "":
		c.fail("telnet-host", r.TelnetHost, "--serial-port and --telnet-host are mutually exclusive")
		return con
	case r.SerialPort != "":
		con.SerialPort = c.pathExists("serial-port", r.SerialPort)
		con.Baud = c.positive("serial-baud", r.SerialBaud)
		if r.ConsoleTunnel != "" {
			c.fail("console-tunnel", r.ConsoleTunnel, "an SSH jump host only applies to --telnet-host")
		}
	default:
		con.TelnetHost = strings.TrimSpace(r.TelnetHost)
		con.TelnetPort = c.port("telnet-port", r.TelnetPort)
		if r.ConsoleTunnel != "" && !c.failed() {
			user, host, port, err := ParseTunnelSpec(r.ConsoleTunnel)
			if err != nil {
				c.fail("console-tunnel", r.ConsoleTunnel, "%v", err)
				break
			}
			con.Tunnel = &Tunnel{
				User:          user,
				Host:          host,
				Port:          port,
				KeyPath:       r.SSHKeyPath,
				PromptPass:    r.SSHPassword,
				UseAgent:      r.UseSSHAgent,
				StrictHostKey: r.StrictHostKey,
				KnownHosts:    r.KnownHostsPath,
			}
		}
	}
	con.SyncTimeout = c.seconds("sync-timeout", r.SyncTimeout)
	return con
}

func network(c *checker, r *Raw) Network {
	var n Network
	already := c.failed()
	mode := c.oneOf("board-net-mode", r.BoardNetMode, string(NetStatic), string(NetDHCP))
	if !already && c.failed() {
		c.hint(fmt.Sprintf("use --board-net-mode %s to let the board request an address", NetDHCP))
	}
	n.Mode = NetMode(mode)
	if n.Mode == NetStatic {
		n.BoardIP = c.ipv4("board-ip-addr", r.BoardIP)
	}
	n.HostIP = c.ipv4("host-ip-addr", r.HostIP)
	n.TFTPDir = c.dirExists("tftp-dir", r.TFTPDir)
	n.TFTPPort = c.port("tftp-port", r.TFTPPort)
	return n
}
