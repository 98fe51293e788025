package cmd

import (
	flag "github.com/spf13/pflag"

	"openfd/config"
)

// Flag groups.  Every group binds straight onto config.Raw; values stay
// strings until config.Validate normalises them, and the current field
// value (default or OPENFD_* overlay) is the flag default.

// ── global ───────────────────────────────────────────────────────────

func addGlobal(fs *flag.FlagSet, r *config.Raw) {
	fs.BoolVarP(&r.AssumeYes, "assume-yes", "y", r.AssumeYes, "Answer yes to every confirmation")
	fs.BoolVarP(&r.Verbose, "verbose", "v", r.Verbose, "Debug output")
	fs.BoolVarP(&r.Quiet, "quiet", "q", r.Quiet, "Errors only")
	fs.StringVar(&r.LogFile, "log", r.LogFile, "Append a debug log of the run to this file")
	fs.BoolVar(&r.DryRun, "dryrun", r.DryRun, "Log what would be done without touching devices or the board")
	fs.StringVar(&r.Board, "board", r.Board, "Target board")
	fs.StringVar(&r.BoardFile, "board-file", r.BoardFile, "YAML file with additional board definitions")
	fs.StringVar(&r.MetricsFile, "metrics-file", r.MetricsFile, "Write run metrics in Prometheus text format to this file")
}

// ── media ────────────────────────────────────────────────────────────

func addMmap(fs *flag.FlagSet, r *config.Raw, usage string) {
	fs.StringVar(&r.MmapFile, "mmap-file", r.MmapFile, usage)
}

func addDevice(fs *flag.FlagSet, r *config.Raw, what string) {
	fs.StringVarP(&r.Device, "device", "d", r.Device, what+" device, e.g. /dev/sdb")
}

func addImage(fs *flag.FlagSet, r *config.Raw) {
	fs.StringVar(&r.Image, "image", r.Image, "Disk image file to create")
	fs.StringVar(&r.ImageSizeMB, "image-size-mb", r.ImageSizeMB, "Size of the disk image in MB")
}

func addSDComponents(fs *flag.FlagSet, r *config.Raw) {
	fs.StringVar(&r.WorkDir, "work-dir", r.WorkDir, "Directory where partitions are mounted")
	fs.StringVar(&r.KernelFile, "kernel-file", r.KernelFile, "Kernel image (uImage)")
	fs.StringVar(&r.IPLFile, "ipl-file", r.IPLFile, "Initial program loader (UBL) image")
	fs.StringVar(&r.UbootFile, "uboot-file", r.UbootFile, "U-Boot image")
	fs.StringVar(&r.Uflash, "uflash", r.Uflash, "Path to the uflash tool")
	fs.StringVar(&r.UbootEntryAddr, "uboot-entry-addr", r.UbootEntryAddr, "U-Boot entry address")
	fs.StringVar(&r.UbootLoadAddr, "uboot-load-addr", r.UbootLoadAddr, "U-Boot load address")
	fs.StringVar(&r.UbootBootargs, "uboot-bootargs", r.UbootBootargs, "Kernel command line written to uEnv.txt")
	fs.StringVar(&r.Rootfs, "rootfs", r.Rootfs, "Directory copied to the root filesystem partition")
}

// ── console ──────────────────────────────────────────────────────────

func addConsole(fs *flag.FlagSet, r *config.Raw) {
	fs.StringVar(&r.SerialPort, "serial-port", r.SerialPort, "Serial port of the board console, e.g. /dev/ttyUSB0")
	fs.StringVar(&r.SerialBaud, "serial-baud", r.SerialBaud, "Serial console speed")
	fs.StringVar(&r.TelnetHost, "telnet-host", r.TelnetHost, "Host of a telnet console relay")
	fs.StringVar(&r.TelnetPort, "telnet-port", r.TelnetPort, "Port of the telnet console relay")
	fs.StringVar(&r.ConsoleTunnel, "console-tunnel", r.ConsoleTunnel, "Reach the relay through an SSH jump host [user@]host[:port]")
	fs.StringVar(&r.SSHKeyPath, "ssh-key", r.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&r.SSHPassword, "ssh-password", r.SSHPassword, "Prompt for the SSH password")
	fs.BoolVar(&r.UseSSHAgent, "ssh-agent", r.UseSSHAgent, "Use the SSH agent")
	fs.BoolVar(&r.StrictHostKey, "strict-hostkey", r.StrictHostKey, "Verify the SSH host key")
	fs.StringVar(&r.KnownHostsPath, "known-hosts", r.KnownHostsPath, "Custom known_hosts path")
	fs.StringVar(&r.SyncTimeout, "sync-timeout", r.SyncTimeout, "Seconds to wait for the bootloader prompt")
}

func addNetwork(fs *flag.FlagSet, r *config.Raw) {
	fs.StringVar(&r.BoardNetMode, "board-net-mode", r.BoardNetMode, "How the board gets its address: static or dhcp")
	fs.StringVar(&r.BoardIP, "board-ip-addr", r.BoardIP, "Board IP address (static mode)")
	fs.StringVar(&r.HostIP, "host-ip-addr", r.HostIP, "Host IP address serving TFTP")
	fs.StringVar(&r.TFTPDir, "tftp-dir", r.TFTPDir, "TFTP server root")
	fs.StringVar(&r.TFTPPort, "tftp-port", r.TFTPPort, "TFTP server port")
}

func addGeometry(fs *flag.FlagSet, r *config.Raw) {
	fs.StringVar(&r.NandBlkSize, "nand-blk-size", r.NandBlkSize, "NAND block size in bytes (board default or probed when unset)")
	fs.StringVar(&r.NandPageSize, "nand-page-size", r.NandPageSize, "NAND page size in bytes (board default or probed when unset)")
}
