package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"openfd/config"
	fderr "openfd/internal/errors"
	"openfd/tunnel"
	"openfd/util"
)

// countingDialer wraps TCPDialer and counts Close calls.
type countingDialer struct {
	TCPDialer
	closes int
}

func (d *countingDialer) Close() error { d.closes++; return nil }

func relay(t *testing.T, greeting string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(greeting)) //nolint:errcheck
		io.Copy(io.Discard, conn)    //nolint:errcheck
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestTelnet_Open(t *testing.T) {
	host, port := relay(t, "DM365 LEOPARD # ")
	d := &countingDialer{TCPDialer: TCPDialer{Timeout: 2 * time.Second}}
	tel := &Telnet{Host: host, Port: port, Dialer: d}

	conn, err := tel.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "DM365 LEOPARD # " {
		t.Errorf("got %q", got)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if d.closes != 1 {
		t.Errorf("dialer closes = %d, want 1", d.closes)
	}
}

func TestTelnet_OpenFailureReleasesDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := &countingDialer{TCPDialer: TCPDialer{Timeout: time.Second}}
	tel := &Telnet{Host: "127.0.0.1", Port: port, Dialer: d}

	_, err = tel.Open(context.Background())
	var te *fderr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if d.closes != 1 {
		t.Errorf("dialer closes = %d, want 1", d.closes)
	}
}

func TestTCPDialer_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &TCPDialer{Timeout: 5 * time.Second}
	if _, err := d.Dial(ctx, "tcp", "192.0.2.1:23"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestSerial_OpenMissing(t *testing.T) {
	s := &Serial{Path: "/dev/ttyOPENFD-missing", Baud: 115200}
	_, err := s.Open(context.Background())
	var te *fderr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.Addr != s.Path {
		t.Errorf("Addr = %q", te.Addr)
	}
}

func TestNewOpener(t *testing.T) {
	logger := util.NewLogger(0)

	tests := []struct {
		name string
		cfg  config.Console
		want string
	}{
		{
			name: "serial",
			cfg:  config.Console{SerialPort: "/dev/ttyUSB0", Baud: 115200},
			want: "serial:///dev/ttyUSB0@115200",
		},
		{
			name: "telnet",
			cfg:  config.Console{TelnetHost: "relay.lab", TelnetPort: 2001},
			want: "telnet://relay.lab:2001",
		},
		{
			name: "telnet via jump host",
			cfg: config.Console{
				TelnetHost: "relay.lab",
				TelnetPort: 2001,
				Tunnel:     &config.Tunnel{User: "lab", Host: "bastion", Port: 22},
			},
			want: "telnet://relay.lab:2001 (via ssh)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOpener(tt.cfg, logger)
			if got := o.String(); !strings.EqualFold(got, tt.want) {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSSHDialer_CloseWithoutConnect(t *testing.T) {
	d := NewSSHDialer(&tunnel.JumpConfig{Host: "bastion"}, util.NewLogger(0))
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
