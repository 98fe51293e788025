// Package transport opens the byte channel to a board's bootloader
// console.  A channel is either a local serial port or a telnet relay
// (ser2net and similar), optionally reached through an SSH jump host.
// What travels over the channel is the uboot package's concern.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"openfd/config"
	fderr "openfd/internal/errors"
	"openfd/tunnel"
	"openfd/util"
)

// Opener opens a console channel.
type Opener interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	// String names the channel for logs and errors.
	String() string
}

// Dialer opens outbound network connections.  Implementations are a
// plain TCP dialer and an SSH-tunnelled dialer.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// NewOpener picks the channel kind from which console address is set.
func NewOpener(cfg config.Console, logger *util.Logger) Opener {
	if cfg.IsSerial() {
		return &Serial{Path: cfg.SerialPort, Baud: cfg.Baud}
	}

	var d Dialer = &TCPDialer{Timeout: cfg.SyncTimeout}
	if t := cfg.Tunnel; t != nil {
		d = NewSSHDialer(&tunnel.JumpConfig{
			User:          t.User,
			Host:          t.Host,
			Port:          t.Port,
			KeyPath:       t.KeyPath,
			PromptPass:    t.PromptPass,
			UseAgent:      t.UseAgent,
			StrictHostKey: t.StrictHostKey,
			KnownHosts:    t.KnownHosts,
		}, logger)
	}
	return &Telnet{Host: cfg.TelnetHost, Port: cfg.TelnetPort, Dialer: d}
}

// Telnet reaches the console through a TCP relay.
type Telnet struct {
	Host   string
	Port   int
	Dialer Dialer
}

func (t *Telnet) String() string {
	if _, ok := t.Dialer.(*SSHDialer); ok {
		return fmt.Sprintf("telnet://%s (via ssh)", util.FormatAddr(t.Host, t.Port))
	}
	return "telnet://" + util.FormatAddr(t.Host, t.Port)
}

// Open dials the relay.  Closing the returned channel also releases the
// dialer, so an SSH jump-host session never outlives its console.
func (t *Telnet) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	addr := util.FormatAddr(t.Host, t.Port)
	conn, err := t.Dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		t.Dialer.Close() //nolint:errcheck
		return nil, fderr.WrapTransport("open", addr, err)
	}
	return &dialedConn{Conn: conn, dialer: t.Dialer}, nil
}

type dialedConn struct {
	net.Conn
	dialer Dialer
}

func (c *dialedConn) Close() error {
	err := c.Conn.Close()
	if derr := c.dialer.Close(); err == nil {
		err = derr
	}
	return err
}
