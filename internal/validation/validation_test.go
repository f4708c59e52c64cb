package validation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateContainerPath(t *testing.T) {
	dir := t.TempDir()

	image := filepath.Join(dir, "disk.img")
	if err := os.WriteFile(image, []byte("not really a disk"), 0644); err != nil {
		t.Fatal(err)
	}

	empty := filepath.Join(dir, "empty.img")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"regular file with content", image, false},
		{"empty path", "", true},
		{"missing file", filepath.Join(dir, "nope.img"), true},
		{"directory", dir, true},
		{"empty file", empty, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContainerPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestMountDirName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain image file", "/home/user/disk.img", "disk.img"},
		{"device node", "/dev/sdb", "sdb"},
		{"spaces replaced", "/mnt/my rescue image.img", "my_rescue_image.img"},
		{"shell metacharacters stripped", "/tmp/a$b;c.img", "a_b_c.img"},
		{"relative path", "disk.img", "disk.img"},
		{"root", "/", "destination"},
		{"dot", ".", "destination"},
		{"only unsafe characters", "/tmp/$$$", "destination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MountDirName(tt.input); got != tt.want {
				t.Errorf("MountDirName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMountDirNameStable(t *testing.T) {
	// The same image must always map to the same mount directory
	a := MountDirName("/home/user/disk.img")
	b := MountDirName("/home/user/disk.img")
	if a != b {
		t.Fatalf("MountDirName not stable: %q != %q", a, b)
	}
}
