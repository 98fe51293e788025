package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"openfd/internal/board"
	"openfd/internal/nand"
)

const nandMap = `
[[partition]]
name = "ubl"
start_blk = 1
image = "ubl.bin"

[[partition]]
name = "uboot"
start_blk = 25
size_blks = 4
image = "u-boot.bin"

[[partition]]
name = "kernel"
start_blk = 32
image = "kernel.uImage"

[[partition]]
name = "rootfs"
start_blk = 64
size_blks = 2
image = "rootfs.img"
`

func fixture(t *testing.T) (*board.Board, []nand.Partition) {
	t.Helper()
	dir := t.TempDir()
	for name, size := range map[string]int{
		"ubl.bin":       14000,
		"u-boot.bin":    190000,
		"kernel.uImage": 300000,
		"rootfs.img":    400000,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "nand-mmap.toml")
	if err := os.WriteFile(path, []byte(nandMap), 0o644); err != nil {
		t.Fatal(err)
	}
	parts, err := nand.ReadPartitions(path)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := board.Load("")
	if err != nil {
		t.Fatal(err)
	}
	b, err := cat.Lookup("dm36x-leopard")
	if err != nil {
		t.Fatal(err)
	}
	return b, parts
}

func TestBuild(t *testing.T) {
	b, parts := fixture(t)
	bn, err := Build(b, parts, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	subs := bn.Subs()

	want := map[string]string{
		"mach_desc":                 "Leopard Board DM36x",
		"ipl_name":                  "ubl",
		"ipl_write_cmd":             "nand write.ubl",
		"ipl_offset":                "0x20000",
		"bootloader_image":          "u-boot.bin",
		"bootloader_write_size":     "0x40000",
		"bootloader_partitionsize":  "0x80000",
		"kernel_erase_cmd":          "nand erase",
		"kernel_erase_offset":       "0x400000",
		"kernel_write_size":         "0x60000",
		"filesystem_name":           "rootfs",
		"filesystem_write_cmd":      "nand write",
		"filesystem_partitionsize":  "0x80000",
		"filesystem_post_write_cmd": "",
		"kernel_pre_write_cmd":      "",
		"bootloader_erase_size":     "0x80000",
		"filesystem_write_offset":   "0x800000",
		"ipl_size":                  "0x20000",
		"kernel_partitionsize":      "0x60000",
		"bootloader_post_write_cmd": "",
		"filesystem_erase_offset":   "0x800000",
		"ipl_erase_size":            "0x20000",
		"kernel_image":              "kernel.uImage",
		"bootloader_pre_write_cmd":  "",
	}
	for k, v := range want {
		got, ok := subs[k]
		if !ok || got != v {
			t.Errorf("%s = %q (set %v), want %q", k, got, ok, v)
		}
	}
	if len(subs) != 1+4*14 {
		t.Errorf("got %d substitutions", len(subs))
	}
	if sum := subs["kernel_md5sum"]; len(sum) != 32 {
		t.Errorf("kernel_md5sum = %q", sum)
	}
	if imgs := bn.Images(); len(imgs) != 4 || filepath.Base(imgs[3]) != "rootfs.img" {
		t.Errorf("images = %v", imgs)
	}
}

func TestBuild_MissingComponent(t *testing.T) {
	b, parts := fixture(t)
	_, err := Build(b, parts[1:], 0, nil)
	if err == nil || !strings.Contains(err.Error(), `partition "ubl"`) {
		t.Fatalf("got %v", err)
	}
}

func TestExpand(t *testing.T) {
	subs := map[string]string{"kernel_offset": "0x400000", "mach_desc": "Leopard Board DM36x"}
	tests := []struct {
		in, want string
	}{
		{"nand read ${kernel_offset}", "nand read 0x400000"},
		{"echo $mach_desc", "echo Leopard Board DM36x"},
		{"echo $$HOME", "echo $HOME"},
		{"echo ${fs_offset} $loadaddr", "echo ${fs_offset} $loadaddr"},
		{"cost: 5$", "cost: 5$"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, subs); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	b, parts := fixture(t)
	bn, err := Build(b, parts, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "install.tmpl")
	out := filepath.Join(dir, "install.scr")
	tmpl := "echo Installing on ${mach_desc}\n${kernel_erase_cmd} ${kernel_erase_offset} ${kernel_erase_size}\n"
	if err := os.WriteFile(in, []byte(tmpl), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := bn.Render(in, out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "echo Installing on Leopard Board DM36x\nnand erase 0x400000 0x60000\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}
}
