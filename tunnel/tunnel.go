// Package tunnel reaches console relays that sit behind an SSH jump
// host.  The relay itself speaks plain telnet; the tunnel only carries
// the TCP stream.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted channel through which the console relay is
// dialled.
type Tunnel interface {
	// Connect authenticates against the jump host.
	Connect(ctx context.Context) error

	// Dial opens a TCP stream to address from the jump host's side.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears the jump-host session down.
	Close() error

	// IsAlive reports whether the SSH session is still up.
	IsAlive() bool
}
