package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	fderr "openfd/internal/errors"
	"openfd/util"
)

// JumpConfig holds everything needed to log into the jump host.
type JumpConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// SSHTunnel implements [Tunnel] with golang.org/x/crypto/ssh.
type SSHTunnel struct {
	config *JumpConfig
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
}

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *JumpConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the jump host and completes the SSH handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	auth, err := AuthMethods(t.config)
	if err != nil {
		return fderr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}
	hostKeys, err := hostKeyCallback(t.config)
	if err != nil {
		return fderr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	addr := util.FormatAddr(t.config.Host, t.config.Port)
	t.logger.Debug("ssh: dialing jump host %s as %s", addr, t.config.User)

	var dialer net.Dialer
	dialer.Timeout = t.config.ConnTimeout
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fderr.WrapTransport("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         t.config.ConnTimeout,
	})
	if err != nil {
		tcpConn.Close()
		return fderr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	t.mu.Lock()
	t.client = client
	t.alive = true
	t.mu.Unlock()

	go t.watch(client)
	return nil
}

// Dial opens a stream to the relay through the jump host.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client, alive := t.client, t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, fderr.ErrNotConnected
	}

	t.logger.Debug("ssh: forwarding to %s", address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("jump host dial %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.  Safe to call repeatedly.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// watch flips the alive flag once the SSH connection drops.
func (t *SSHTunnel) watch(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("ssh: jump host session ended: %v", err)
	}
}
