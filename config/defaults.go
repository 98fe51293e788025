package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, environment variable loading and the collaborators.

const (
	// DefaultBoard is the board catalog entry used when --board is unset.
	DefaultBoard = "dm36x-leopard"

	// DefaultSerialBaud is the console speed of every supported board.
	DefaultSerialBaud = 115200

	// DefaultTelnetPort is the standard telnet port used by serial
	// console relays.
	DefaultTelnetPort = 23

	// DefaultSyncTimeout bounds the console synchronization handshake.
	DefaultSyncTimeout = 10 * time.Second

	// DefaultNetMode is how the board obtains its address.
	DefaultNetMode = NetDHCP

	// DefaultTFTPDir is where images are staged for the board to fetch.
	DefaultTFTPDir = "/srv/tftp"

	// DefaultTFTPPort is the standard TFTP port.
	DefaultTFTPPort = 69

	// DefaultRAMLoadAddr is the RAM address images are transferred to
	// before being written to NAND.
	DefaultRAMLoadAddr = 0x82000000

	// DefaultBootTimeout bounds how long ram mode waits for the boot line.
	DefaultBootTimeout = 60 * time.Second

	// DefaultBootLine is the console line that marks a successful boot.
	DefaultBootLine = "Starting kernel"

	// DefaultWorkDir is where SD partitions are mounted during install.
	DefaultWorkDir = "/tmp/openfd"

	// DefaultImageSizeMB is the size of a loopback SD image.
	DefaultImageSizeMB = 256
)
