package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"openfd/tunnel"
	"openfd/util"
)

// SSHDialer routes the relay connection through a jump host.  The SSH
// session is established lazily on the first Dial and torn down on
// Close.
type SSHDialer struct {
	tunnel    tunnel.Tunnel
	config    *tunnel.JumpConfig
	logger    *util.Logger
	mu        sync.Mutex
	connected bool
}

// NewSSHDialer creates a dialer bound to the given jump host.
func NewSSHDialer(cfg *tunnel.JumpConfig, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}
	d.logger.Verbose("connecting to jump host %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("jump host: %w", err)
	}
	d.connected = true
	return nil
}

// Dial connects to address through the jump host.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the SSH session.  Safe to call repeatedly.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false
	return d.tunnel.Close()
}
