package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fderr "openfd/internal/errors"
)

// fakeRunner records command lines and answers Output from a map keyed
// by command name.
type fakeRunner struct {
	dryRun  bool
	outputs map[string]string
	fail    map[string]error
	lines   []string
	stdin   map[string]string
}

func (f *fakeRunner) record(stdin, name string, args []string) error {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.lines = append(f.lines, line)
	if stdin != "" {
		if f.stdin == nil {
			f.stdin = map[string]string{}
		}
		f.stdin[name] = stdin
	}
	if err, ok := f.fail[line]; ok {
		return err
	}
	return f.fail[name]
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	return f.record("", name, args)
}

func (f *fakeRunner) RunInput(ctx context.Context, stdin, name string, args ...string) error {
	return f.record(stdin, name, args)
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	if err := f.record("", name, args); err != nil {
		return "", err
	}
	return f.outputs[name], nil
}

func (f *fakeRunner) DryRun() bool { return f.dryRun }

func (f *fakeRunner) count(line string) int {
	n := 0
	for _, l := range f.lines {
		if l == line {
			n++
		}
	}
	return n
}

func (f *fakeRunner) ran(prefix string) bool {
	for _, l := range f.lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// scripted answers prompts in order and records the questions.
type scripted struct {
	answers   []bool
	questions []string
}

func (s *scripted) Confirm(ctx context.Context, message string) (bool, error) {
	s.questions = append(s.questions, message)
	if len(s.answers) == 0 {
		return true, nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

const sdMap = `
[[partition]]
name = "boot"
start_mb = 4
size_mb = 64
filesystem = "vfat"
bootable = true
components = ["bootloader", "kernel"]

[[partition]]
name = "rootfs"
filesystem = "ext3"
components = ["rootfs"]
`

func writeMap(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sd-mmap.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeDevice creates a regular file standing in for a block device and
// an empty mounts table.
func fakeDevice(t *testing.T, mounts string) string {
	t.Helper()
	dir := t.TempDir()
	dev := filepath.Join(dir, "sdz")
	if err := os.WriteFile(dev, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	orig := mountsFile
	mountsFile = filepath.Join(dir, "mounts")
	t.Cleanup(func() { mountsFile = orig })
	if err := os.WriteFile(mountsFile, []byte(strings.ReplaceAll(mounts, "DEV", dev)), 0o644); err != nil {
		t.Fatal(err)
	}
	return dev
}

var components = Components{
	Uflash:         "/opt/bin/uflash",
	IPLFile:        "/images/ubl.bin",
	UbootFile:      "/images/u-boot.bin",
	UbootEntryAddr: 0x81080000,
	UbootLoadAddr:  0x81080000,
	KernelFile:     "/images/kernel.uImage",
	Bootargs:       "console=ttyS0,115200n8",
	Rootfs:         "/images/rootfs/",
}

func TestSDCard_FullFlow(t *testing.T) {
	dev := fakeDevice(t, "")
	run := &fakeRunner{outputs: map[string]string{"blockdev": "8010072064"}}
	p := &scripted{}
	sd := NewSDCard(dev, run, p, nil)
	ctx := context.Background()
	work := t.TempDir()

	if err := sd.ReadPartitions(writeMap(t, sdMap)); err != nil {
		t.Fatal(err)
	}
	if err := sd.Format(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sd.MountPartitions(ctx, work); err != nil {
		t.Fatal(err)
	}
	if err := sd.InstallComponents(ctx, components); err != nil {
		t.Fatal(err)
	}
	if err := sd.Release(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"blockdev --getsize64 " + dev,
		"sfdisk " + dev,
		"mkfs.vfat -F 32 -n BOOT " + dev + "1",
		"mkfs.ext3 -F -q -L rootfs " + dev + "2",
		"mount -t vfat " + dev + "1 " + filepath.Join(work, "boot"),
		"/opt/bin/uflash -d " + dev + " -u /images/ubl.bin -b /images/u-boot.bin -e 0x81080000 -l 0x81080000",
		"cp /images/kernel.uImage " + filepath.Join(work, "boot", "uImage"),
		"cp -a /images/rootfs/. " + filepath.Join(work, "rootfs") + "/",
		"umount " + filepath.Join(work, "rootfs"),
	}
	for _, w := range want {
		if !run.ran(w) {
			t.Errorf("missing %q", w)
		}
	}
	script := run.stdin["sfdisk"]
	if script != "label: dos\nstart=4MiB, size=64MiB, type=c, bootable\ntype=83\n" {
		t.Errorf("sfdisk script = %q", script)
	}
	if len(p.questions) != 1 || !strings.Contains(p.questions[0], "You are about to repartition "+dev) {
		t.Errorf("questions = %q", p.questions)
	}
}

func TestSDCard_Declined(t *testing.T) {
	dev := fakeDevice(t, "")
	run := &fakeRunner{outputs: map[string]string{"blockdev": "8010072064"}}
	sd := NewSDCard(dev, run, &scripted{answers: []bool{false}}, nil)
	sd.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	err := sd.Format(context.Background())
	if !errors.Is(err, fderr.ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if run.ran("sfdisk") {
		t.Error("device partitioned after the operator declined")
	}
	if err := sd.Release(context.Background()); err != nil {
		t.Errorf("Release after cancel: %v", err)
	}
}

func TestSDCard_LargeDevice(t *testing.T) {
	dev := fakeDevice(t, "")
	run := &fakeRunner{outputs: map[string]string{"blockdev": "256060514304"}}
	p := &scripted{answers: []bool{false}}
	sd := NewSDCard(dev, run, p, nil)
	sd.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	err := sd.Format(context.Background())
	if !errors.Is(err, fderr.ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if len(p.questions) != 1 || !strings.Contains(p.questions[0], "has 238 gigabytes") {
		t.Errorf("questions = %q", p.questions)
	}
}

func TestSDCard_UnmountsMounted(t *testing.T) {
	dev := fakeDevice(t, "DEV1 /media/boot vfat rw 0 0\nDEV2 /media/rootfs ext3 rw 0 0\n/dev/sda1 / ext4 rw 0 0\n")
	run := &fakeRunner{outputs: map[string]string{"blockdev": "8010072064"}}
	p := &scripted{}
	sd := NewSDCard(dev, run, p, nil)
	sd.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	if err := sd.Format(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(p.questions) != 2 || !strings.Contains(p.questions[0], "/media/boot\n/media/rootfs") {
		t.Errorf("questions = %q", p.questions)
	}
	if !run.ran("umount /media/rootfs") || !run.ran("umount /media/boot") {
		t.Errorf("lines = %q", run.lines)
	}
}

func TestSDCard_TooSmall(t *testing.T) {
	dev := fakeDevice(t, "")
	run := &fakeRunner{outputs: map[string]string{"blockdev": "33554432"}}
	sd := NewSDCard(dev, run, &scripted{}, nil)
	sd.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	err := sd.Format(context.Background())
	var de *fderr.DeviceError
	if !errors.As(err, &de) || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("got %v", err)
	}
}

func TestSDCard_DryRunSkipsChecks(t *testing.T) {
	run := &fakeRunner{dryRun: true}
	sd := NewSDCard("/dev/sdq", run, AssumeYes{}, nil)
	sd.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	if err := sd.Format(context.Background()); err != nil {
		t.Fatal(err)
	}
	if run.ran("blockdev") {
		t.Error("dry run probed the device")
	}
	if !run.ran("sfdisk /dev/sdq") {
		t.Errorf("lines = %q", run.lines)
	}
}

func TestUSB_SkipsBootloader(t *testing.T) {
	run := &fakeRunner{dryRun: true}
	usb := NewUSB("/dev/sdq", run, AssumeYes{}, nil)
	usb.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck
	ctx := context.Background()

	usb.Format(ctx)                     //nolint:errcheck
	usb.MountPartitions(ctx, "/mnt/fd") //nolint:errcheck
	c := components
	c.Files = []string{"/tmp/install.scr"}
	if err := usb.InstallComponents(ctx, c); err != nil {
		t.Fatal(err)
	}
	if run.ran("/opt/bin/uflash") {
		t.Error("uflash run on a USB stick")
	}
}

func TestLoopImage(t *testing.T) {
	run := &fakeRunner{outputs: map[string]string{"losetup": "/dev/loop3"}}
	img := NewLoopImage("/tmp/sd.img", 256, run, nil)
	ctx := context.Background()
	img.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	if err := img.Format(ctx); err != nil {
		t.Fatal(err)
	}
	if img.Device() != "/dev/loop3" {
		t.Fatalf("device = %q", img.Device())
	}
	if err := img.MountPartitions(ctx, "/mnt/fd"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := img.Release(ctx); err != nil {
			t.Fatal(err)
		}
	}

	for _, w := range []string{
		"dd if=/dev/zero of=/tmp/sd.img bs=1M count=256",
		"sfdisk /tmp/sd.img",
		"losetup --find --show --partscan /tmp/sd.img",
		"mkfs.vfat -F 32 -n BOOT /dev/loop3p1",
		"mount -t ext3 /dev/loop3p2 /mnt/fd/rootfs",
		"losetup -d /dev/loop3",
	} {
		if !run.ran(w) {
			t.Errorf("missing %q in %q", w, run.lines)
		}
	}
	detaches := 0
	for _, l := range run.lines {
		if l == "losetup -d /dev/loop3" {
			detaches++
		}
	}
	if detaches != 1 {
		t.Errorf("loop device detached %d times", detaches)
	}
}

func TestLoopImage_ReleaseRetriesBusyMount(t *testing.T) {
	run := &fakeRunner{
		outputs: map[string]string{"losetup": "/dev/loop3"},
		fail:    map[string]error{"umount /mnt/fd/rootfs": errors.New("target is busy")},
	}
	img := NewLoopImage("/tmp/sd.img", 256, run, nil)
	ctx := context.Background()
	img.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck
	if err := img.Format(ctx); err != nil {
		t.Fatal(err)
	}
	if err := img.MountPartitions(ctx, "/mnt/fd"); err != nil {
		t.Fatal(err)
	}

	err := img.Release(ctx)
	var de *fderr.DeviceError
	if !errors.As(err, &de) || de.Device != "/mnt/fd/rootfs" {
		t.Fatalf("got %v", err)
	}
	if !run.ran("umount /mnt/fd/boot") {
		t.Errorf("boot left mounted: %q", run.lines)
	}
	if run.ran("losetup -d") {
		t.Error("loop device detached with a partition still mounted")
	}

	delete(run.fail, "umount /mnt/fd/rootfs")
	for i := 0; i < 2; i++ {
		if err := img.Release(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := run.count("umount /mnt/fd/rootfs"); n != 2 {
		t.Errorf("rootfs unmounted %d times, want 2", n)
	}
	if n := run.count("umount /mnt/fd/boot"); n != 1 {
		t.Errorf("boot unmounted %d times, want 1", n)
	}
	if n := run.count("losetup -d /dev/loop3"); n != 1 {
		t.Errorf("loop device detached %d times", n)
	}
}

func TestMountedPartitions(t *testing.T) {
	dir := t.TempDir()
	orig := mountsFile
	mountsFile = filepath.Join(dir, "mounts")
	t.Cleanup(func() { mountsFile = orig })
	table := strings.Join([]string{
		"/dev/sdb1 /media/boot vfat rw 0 0",
		"/dev/sdba1 /media/other ext4 rw 0 0",
		"/dev/sdb /media/whole ext4 rw 0 0",
		"/dev/loop1p2 /mnt/rootfs ext3 rw 0 0",
		"/dev/loop10p1 /mnt/elsewhere ext3 rw 0 0",
		"/dev/mmcblk0p1 /media/sd vfat rw 0 0",
		"",
	}, "\n")
	if err := os.WriteFile(mountsFile, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		dev  string
		want []string
	}{
		{"/dev/sdb", []string{"/media/boot", "/media/whole"}},
		{"/dev/loop1", []string{"/mnt/rootfs"}},
		{"/dev/mmcblk0", []string{"/media/sd"}},
		{"/dev/sdc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.dev, func(t *testing.T) {
			m := &media{dev: tt.dev}
			got, err := m.mountedPartitions()
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoopImage_TooSmall(t *testing.T) {
	run := &fakeRunner{}
	img := NewLoopImage("/tmp/sd.img", 32, run, nil)
	img.ReadPartitions(writeMap(t, sdMap)) //nolint:errcheck

	if err := img.Format(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(run.lines) != 0 {
		t.Errorf("lines = %q", run.lines)
	}
}

func TestPartitionName(t *testing.T) {
	tests := []struct {
		dev  string
		want string
	}{
		{"/dev/sdb", "/dev/sdb1"},
		{"/dev/mmcblk0", "/dev/mmcblk0p1"},
		{"/dev/loop7", "/dev/loop7p1"},
	}
	for _, tt := range tests {
		m := media{dev: tt.dev}
		if got := m.partitionName(1); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.dev, got, tt.want)
		}
	}
}

func TestReadPartitions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "no [[partition]]"},
		{"fill not last", "[[partition]]\nname = \"a\"\n[[partition]]\nname = \"b\"\nsize_mb = 5\n", "only the last"},
		{"bad fs", "[[partition]]\nname = \"a\"\nfilesystem = \"zfs\"\n", "unsupported filesystem"},
		{"bad role", "[[partition]]\nname = \"a\"\ncomponents = [\"dtb\"]\n", "unknown component"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPartitions(writeMap(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAssumeYes(t *testing.T) {
	ok, err := AssumeYes{}.Confirm(context.Background(), "You are about to repartition /dev/sdz")
	if !ok || err != nil {
		t.Errorf("got %v, %v", ok, err)
	}
}
