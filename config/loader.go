package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strings"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the OPENFD_ prefix followed by the flag
// name upper-cased with dashes turned into underscores, so --tftp-dir
// is OPENFD_TFTP_DIR.  Boolean values accept "1", "true", "yes"
// (case-insensitive).

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "OPENFD_"

// EnvName returns the environment variable that defaults flag.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// LoadFromEnv overlays environment variables onto raw.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(raw *Raw) {
	for flag, dst := range stringFields(raw) {
		if v := os.Getenv(EnvName(flag)); v != "" {
			*dst = v
		}
	}
	for flag, dst := range boolFields(raw) {
		if envBool(EnvName(flag)) {
			*dst = true
		}
	}
}

func stringFields(r *Raw) map[string]*string {
	return map[string]*string{
		"log":              &r.LogFile,
		"board":            &r.Board,
		"board-file":       &r.BoardFile,
		"metrics-file":     &r.MetricsFile,
		"mmap-file":        &r.MmapFile,
		"nand-mmap-file":   &r.NANDMmapFile,
		"device":           &r.Device,
		"image":            &r.Image,
		"image-size-mb":    &r.ImageSizeMB,
		"work-dir":         &r.WorkDir,
		"kernel-file":      &r.KernelFile,
		"ipl-file":         &r.IPLFile,
		"uboot-file":       &r.UbootFile,
		"uflash":           &r.Uflash,
		"uboot-entry-addr": &r.UbootEntryAddr,
		"uboot-load-addr":  &r.UbootLoadAddr,
		"uboot-bootargs":   &r.UbootBootargs,
		"rootfs":           &r.Rootfs,
		"serial-port":      &r.SerialPort,
		"serial-baud":      &r.SerialBaud,
		"telnet-host":      &r.TelnetHost,
		"telnet-port":      &r.TelnetPort,
		"console-tunnel":   &r.ConsoleTunnel,
		"ssh-key":          &r.SSHKeyPath,
		"known-hosts":      &r.KnownHostsPath,
		"sync-timeout":     &r.SyncTimeout,
		"board-net-mode":   &r.BoardNetMode,
		"board-ip-addr":    &r.BoardIP,
		"host-ip-addr":     &r.HostIP,
		"tftp-dir":         &r.TFTPDir,
		"tftp-port":        &r.TFTPPort,
		"nand-blk-size":    &r.NandBlkSize,
		"nand-page-size":   &r.NandPageSize,
		"ram-load-addr":    &r.RAMLoadAddr,
		"file":             &r.File,
		"load-addr":        &r.LoadAddr,
		"boot-line":        &r.BootLine,
		"boot-timeout":     &r.BootTimeout,
		"variable":         &r.Variable,
		"value":            &r.Value,
		"template":         &r.Template,
		"output":           &r.Output,
	}
}

func boolFields(r *Raw) map[string]*bool {
	return map[string]*bool{
		"assume-yes":     &r.AssumeYes,
		"verbose":        &r.Verbose,
		"quiet":          &r.Quiet,
		"dryrun":         &r.DryRun,
		"ssh-password":   &r.SSHPassword,
		"ssh-agent":      &r.UseSSHAgent,
		"strict-hostkey": &r.StrictHostKey,
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}
