package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	fderr "openfd/internal/errors"
)

// fixture lays out the files a complete SD or console run refers to.
type fixture struct {
	dir    string
	mmap   string
	file   string
	uflash string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		mmap:   filepath.Join(dir, "mmap.toml"),
		file:   filepath.Join(dir, "uImage"),
		uflash: filepath.Join(dir, "uflash"),
	}
	for _, p := range []string{f.mmap, f.file} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(f.uflash, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f fixture) sdRaw() *Raw {
	r := DefaultRaw()
	r.MmapFile = f.mmap
	r.Device = f.file // any existing path stands in for a block device
	r.WorkDir = f.dir + "/"
	r.Uflash = f.uflash
	r.IPLFile = f.file
	r.UbootFile = f.file
	r.UbootEntryAddr = "0x81080000"
	r.UbootLoadAddr = "2164785152"
	r.KernelFile = f.file
	return r
}

func (f fixture) consoleRaw() *Raw {
	r := DefaultRaw()
	r.TelnetHost = "relay.lab"
	r.TelnetPort = "2001"
	r.HostIP = "192.168.1.1"
	r.TFTPDir = f.dir
	return r
}

func failedField(t *testing.T, err error) string {
	t.Helper()
	var ve *fderr.ValidationError
	if !fderr.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(ve.Failures) != 1 {
		t.Fatalf("expected exactly one failure, got %v", ve.Failures)
	}
	return ve.Failures[0].Field
}

func TestValidate_SD(t *testing.T) {
	f := newFixture(t)
	cfg, err := Validate(ModeSD, f.sdRaw())
	if err != nil {
		t.Fatal(err)
	}
	sd, ok := cfg.(*SDConfig)
	if !ok {
		t.Fatalf("expected *SDConfig, got %T", cfg)
	}
	if sd.Components.WorkDir != f.dir {
		t.Errorf("WorkDir = %q, trailing slash should be stripped", sd.Components.WorkDir)
	}
	if sd.Components.UbootEntryAddr != 0x81080000 {
		t.Errorf("UbootEntryAddr = %#x", sd.Components.UbootEntryAddr)
	}
	if sd.Components.UbootLoadAddr != 0x81080000 {
		t.Errorf("UbootLoadAddr = %#x, decimal form should parse", sd.Components.UbootLoadAddr)
	}
}

func TestValidate_FirstFailureWins(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		mode  Mode
		edit  func(*Raw)
		field string
	}{
		{"sd mmap before device", ModeSD, func(r *Raw) { r.MmapFile = ""; r.Device = "" }, "mmap-file"},
		{"sd missing device", ModeSD, func(r *Raw) { r.Device = "/dev/does-not-exist" }, "device"},
		{"sd uflash not executable", ModeSD, func(r *Raw) { r.Uflash = f.file }, "uflash"},
		{"sd bad address", ModeSD, func(r *Raw) { r.UbootEntryAddr = "0xZZ" }, "uboot-entry-addr"},
		{"sd rootfs not a dir", ModeSD, func(r *Raw) { r.Rootfs = f.file }, "rootfs"},
		{"sd-img size", ModeSDImage, func(r *Raw) { r.Image = filepath.Join(f.dir, "sd.img"); r.ImageSizeMB = "big" }, "image-size-mb"},
		{"sd-img missing image", ModeSDImage, func(r *Raw) { r.Image = "" }, "image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := f.sdRaw()
			tt.edit(raw)
			_, err := Validate(tt.mode, raw)
			if got := failedField(t, err); got != tt.field {
				t.Errorf("failed field = %q, want %q (%v)", got, tt.field, err)
			}
		})
	}
}

func TestValidate_Console(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		edit  func(*Raw)
		field string
	}{
		{"no console", func(r *Raw) { r.TelnetHost = "" }, "serial-port"},
		{"both consoles", func(r *Raw) { r.SerialPort = f.file }, "telnet-host"},
		{"bad telnet port", func(r *Raw) { r.TelnetPort = "70000" }, "telnet-port"},
		{"bad tunnel", func(r *Raw) { r.ConsoleTunnel = "user@host:notaport" }, "console-tunnel"},
		{"missing serial device", func(r *Raw) { r.TelnetHost = ""; r.SerialPort = "/dev/ttyNOPE" }, "serial-port"},
		{"bad sync timeout", func(r *Raw) { r.SyncTimeout = "0" }, "sync-timeout"},
		{"missing variable", func(r *Raw) { r.Variable = "" }, "variable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := f.consoleRaw()
			raw.Variable = "bootdelay"
			raw.Value = "3"
			tt.edit(raw)
			_, err := Validate(ModeEnv, raw)
			if got := failedField(t, err); got != tt.field {
				t.Errorf("failed field = %q, want %q (%v)", got, tt.field, err)
			}
		})
	}
}

func TestValidate_Env(t *testing.T) {
	f := newFixture(t)
	raw := f.consoleRaw()
	raw.Variable = " autostart "
	raw.Value = " yes\n"
	raw.ConsoleTunnel = "lab@bastion"

	cfg, err := Validate(ModeEnv, raw)
	if err != nil {
		t.Fatal(err)
	}
	env := cfg.(*EnvConfig)
	if env.Variable != "autostart" || env.Value != "yes" {
		t.Errorf("got %q=%q, want values stripped", env.Variable, env.Value)
	}
	if env.Console.TelnetPort != 2001 {
		t.Errorf("TelnetPort = %d", env.Console.TelnetPort)
	}
	if env.Console.Tunnel == nil || env.Console.Tunnel.Host != "bastion" || env.Console.Tunnel.Port != 22 {
		t.Errorf("Tunnel = %+v", env.Console.Tunnel)
	}
	if env.Console.SyncTimeout != DefaultSyncTimeout {
		t.Errorf("SyncTimeout = %v", env.Console.SyncTimeout)
	}
	if raw.Variable != " autostart " {
		t.Error("Validate must not modify the raw input")
	}
}

func TestValidate_StaticNetworkNeedsBoardIP(t *testing.T) {
	f := newFixture(t)
	raw := f.consoleRaw()
	raw.File = f.file
	raw.LoadAddr = "0x82000000"
	raw.BoardNetMode = "static"

	_, err := Validate(ModeRAM, raw)
	if got := failedField(t, err); got != "board-ip-addr" {
		t.Fatalf("failed field = %q, want board-ip-addr", got)
	}

	raw.BoardIP = "192.168.1.50"
	cfg, err := Validate(ModeRAM, raw)
	if err != nil {
		t.Fatal(err)
	}
	ram := cfg.(*RAMConfig)
	if ram.Network.BoardIP != "192.168.1.50" {
		t.Errorf("BoardIP = %q", ram.Network.BoardIP)
	}
	if ram.BootTimeout != 60*time.Second {
		t.Errorf("BootTimeout = %v", ram.BootTimeout)
	}
}

func TestValidate_DHCPIgnoresBoardIP(t *testing.T) {
	f := newFixture(t)
	raw := f.consoleRaw()
	raw.File = f.file
	raw.LoadAddr = "0x82000000"
	raw.BoardIP = "not-an-ip"

	if _, err := Validate(ModeRAM, raw); err != nil {
		t.Fatalf("board ip must not be checked in dhcp mode: %v", err)
	}
}

func TestValidate_NetModeHint(t *testing.T) {
	f := newFixture(t)
	raw := f.consoleRaw()
	raw.File = f.file
	raw.LoadAddr = "0x82000000"
	raw.BoardNetMode = "auto"

	_, err := Validate(ModeRAM, raw)
	var ve *fderr.ValidationError
	if !fderr.As(err, &ve) || ve.Hint == "" {
		t.Fatalf("expected a hinted validation error, got %v", err)
	}
}

func TestValidate_NAND(t *testing.T) {
	f := newFixture(t)
	raw := f.consoleRaw()
	raw.MmapFile = f.mmap
	raw.Component = "kernel"
	raw.Force = true

	cfg, err := Validate(ModeNAND, raw)
	if err != nil {
		t.Fatal(err)
	}
	n := cfg.(*NANDConfig)
	if n.Component != ComponentKernel || !n.Force {
		t.Errorf("component = %v force = %v", n.Component, n.Force)
	}
	if n.BlockSize != 0 || n.PageSize != 0 {
		t.Error("unset geometry should stay zero for probing")
	}
	if n.RAMLoadAddr != DefaultRAMLoadAddr {
		t.Errorf("RAMLoadAddr = %#x", n.RAMLoadAddr)
	}

	raw.Component = "dtb"
	if _, err := Validate(ModeNAND, raw); failedField(t, err) != "component" {
		t.Errorf("unknown component should fail first: %v", err)
	}
}

func TestValidate_Script(t *testing.T) {
	f := newFixture(t)
	raw := f.sdRaw()
	raw.NANDMmapFile = f.mmap
	raw.Template = f.file
	raw.Output = filepath.Join(f.dir, "install.sh")
	raw.Image = filepath.Join(f.dir, "sd.img")

	for _, mode := range []Mode{ModeSDScript, ModeSDScriptImage, ModeUSBScript} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg, err := Validate(mode, raw)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Mode() != mode {
				t.Errorf("Mode() = %v, want %v", cfg.Mode(), mode)
			}
		})
	}

	raw.Output = filepath.Join(f.dir, "missing", "install.sh")
	if _, err := Validate(ModeSDScript, raw); failedField(t, err) != "output" {
		t.Errorf("output in a missing dir should fail: %v", err)
	}
}

func TestValidate_UnknownMode(t *testing.T) {
	_, err := Validate(Mode(99), DefaultRaw())
	if failedField(t, err) != "mode" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x82000000", 0x82000000, false},
		{"0X10", 16, false},
		{"4096", 4096, false},
		{"", 0, true},
		{"0x", 0, true},
		{"-1", 0, true},
		{"0x100000000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		spec    string
		user    string
		host    string
		port    int
		wantErr bool
	}{
		{"admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"bastion", "", "bastion", 22, false},
		{"lab@relay", "lab", "relay", 22, false},
		{"host:99999", "", "", 0, true},
		{"", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if user != tt.user || host != tt.host || port != tt.port {
				t.Errorf("got %q %q %d", user, host, port)
			}
		})
	}
}

func TestParseModeAndComponent(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	for _, c := range Components() {
		got, err := ParseComponent(c.String())
		if err != nil || got != c {
			t.Errorf("ParseComponent(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseMode("usb"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
