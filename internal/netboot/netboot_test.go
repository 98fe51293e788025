package netboot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"openfd/config"
	fderr "openfd/internal/errors"
	"openfd/internal/metrics"
	"openfd/internal/session/sessiontest"
)

func serverUp(int) bool   { return true }
func serverDown(int) bool { return false }

func newLoader(t *testing.T, con *sessiontest.Console, mode config.NetMode, probe func(int) bool) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	return New(con, Options{
		Network: config.Network{
			Mode:     mode,
			BoardIP:  "10.0.0.7",
			HostIP:   "10.0.0.1",
			TFTPDir:  dir,
			TFTPPort: 69,
		},
		Probe:   probe,
		Metrics: metrics.New(),
	}), dir
}

func writeImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uImage")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSetupNetwork_Static(t *testing.T) {
	con := &sessiontest.Console{}
	l, _ := newLoader(t, con, config.NetStatic, serverUp)

	if err := l.SetupNetwork(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"setenv ipaddr 10.0.0.7", "setenv serverip 10.0.0.1"}
	if got := con.Calls(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestSetupNetwork_NoTFTPServer(t *testing.T) {
	con := &sessiontest.Console{}
	l, _ := newLoader(t, con, config.NetStatic, serverDown)

	err := l.SetupNetwork(context.Background())
	if err == nil || !strings.Contains(err.Error(), "udp port 69") {
		t.Fatalf("got %v", err)
	}
	if len(con.Calls()) != 0 {
		t.Errorf("console used without a TFTP server: %q", con.Calls())
	}
}

func TestSetupNetwork_DHCP(t *testing.T) {
	con := &sessiontest.Console{}
	l, _ := newLoader(t, con, config.NetDHCP, serverUp)

	if err := l.SetupNetwork(context.Background()); err != nil {
		t.Fatal(err)
	}
	if con.Count("dhcp") != 1 || con.Env["autoload"] != "no" || con.Env["serverip"] != "10.0.0.1" {
		t.Errorf("calls = %q env = %v", con.Calls(), con.Env)
	}
	if _, ok := con.Env["ipaddr"]; ok {
		t.Error("dhcp mode should not set ipaddr")
	}
}

func TestSetupNetwork_DHCPFailure(t *testing.T) {
	con := &sessiontest.Console{
		Emits: map[string]sessiontest.Emission{
			dhcpFailure: {Line: "BOOTP broadcast 3", After: 4 * time.Second},
		},
	}
	l, _ := newLoader(t, con, config.NetDHCP, serverUp)

	err := l.SetupNetwork(context.Background())
	if err == nil || !strings.Contains(err.Error(), "DHCP failed") {
		t.Fatalf("got %v", err)
	}
	if con.Count("cancel") != 1 {
		t.Error("running dhcp should be cancelled")
	}
	if con.Count("setenv serverip") != 0 {
		t.Error("serverip set after a DHCP failure")
	}
}

func TestLoadFileToRAM(t *testing.T) {
	img := writeImage(t, 3<<20+5)
	con := &sessiontest.Console{Env: map[string]string{"filesize": "300005"}}
	l, dir := newLoader(t, con, config.NetStatic, serverUp)
	ctx := context.Background()

	if err := l.LoadFileToRAM(ctx, img, 0x82000000); err == nil {
		t.Fatal("transfer before network setup should fail")
	}
	if err := l.SetupNetwork(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.LoadFileToRAM(ctx, img, 0x82000000); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "uImage")); err != nil {
		t.Errorf("image not staged: %v", err)
	}
	if con.Count("tftp 0x82000000 uImage") != 1 {
		t.Errorf("calls = %q", con.Calls())
	}
	if got := l.metrics.TotalBytesStaged(); got != 3<<20+5 {
		t.Errorf("staged = %d", got)
	}
}

func TestLoadFileToRAM_SizeMismatch(t *testing.T) {
	img := writeImage(t, 4096)
	con := &sessiontest.Console{Env: map[string]string{"filesize": "800"}}
	l, _ := newLoader(t, con, config.NetStatic, serverUp)
	ctx := context.Background()
	l.SetupNetwork(ctx) //nolint:errcheck

	err := l.LoadFileToRAM(ctx, img, 0x82000000)
	if err == nil || !strings.Contains(err.Error(), "incomplete") {
		t.Fatalf("got %v", err)
	}
}

func TestLoadFileToRAM_TransferTimeout(t *testing.T) {
	img := writeImage(t, 1024)
	con := &sessiontest.Console{
		OnCmd: func(line string) error {
			if strings.HasPrefix(line, "tftp") {
				return fderr.Timeout(line, 10*time.Second)
			}
			return nil
		},
	}
	l, _ := newLoader(t, con, config.NetStatic, serverUp)
	ctx := context.Background()
	l.SetupNetwork(ctx) //nolint:errcheck

	err := l.LoadFileToRAM(ctx, img, 0x82000000)
	var st *fderr.SyncTimeoutError
	if !errors.As(err, &st) {
		t.Fatalf("expected *SyncTimeoutError, got %v", err)
	}
	if con.Count("cancel") != 1 {
		t.Error("timed out transfer should be cancelled")
	}
}

func TestLoadFileToRAMAndBoot(t *testing.T) {
	tests := []struct {
		name    string
		after   time.Duration
		timeout time.Duration
		wantErr bool
	}{
		{"line within timeout", 5 * time.Second, 30 * time.Second, false},
		{"line too late", 45 * time.Second, 30 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := writeImage(t, 2048)
			con := &sessiontest.Console{
				Env: map[string]string{"filesize": "800"},
				Emits: map[string]sessiontest.Emission{
					"Linux version": {Line: "Linux version 2.6.32", After: tt.after},
				},
			}
			l, _ := newLoader(t, con, config.NetStatic, serverUp)
			ctx := context.Background()
			l.SetupNetwork(ctx) //nolint:errcheck

			err := l.LoadFileToRAMAndBoot(ctx, img, 0x82000000, "Linux version", tt.timeout)
			if tt.wantErr {
				if !fderr.IsTimeout(err) {
					t.Fatalf("expected timeout, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if con.Count("bootm 0x82000000") != 1 {
				t.Errorf("calls = %q", con.Calls())
			}
		})
	}
}
