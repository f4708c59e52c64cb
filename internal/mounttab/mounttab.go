// Package mounttab reads the kernel mount table and answers the two
// questions the mount engine keeps asking: where is this device
// mounted, and what occupies this mount point.
package mounttab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const procMountsPath = "/proc/mounts"

// Entry is one line of the mount table
type Entry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    string
}

// Table is a snapshot of the mount table
type Table []Entry

// Load reads and parses /proc/mounts
func Load() (Table, error) {
	file, err := os.Open(procMountsPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", procMountsPath, err)
	}
	defer file.Close()

	table, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procMountsPath, err)
	}
	return table, nil
}

// Parse parses mount table lines in /proc/mounts format
func Parse(r io.Reader) (Table, error) {
	var table Table
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}

		table = append(table, Entry{
			Device:     unescapeField(fields[0]),
			MountPoint: unescapeField(fields[1]),
			FSType:     fields[2],
			Options:    fields[3],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// MountPointOf returns where the given device is mounted, or an empty
// string. The device is also matched with symlinks resolved, so
// /dev/mapper names and their dm-N targets both work.
func (t Table) MountPointOf(device string) string {
	resolved, err := filepath.EvalSymlinks(device)
	if err != nil {
		resolved = device
	}

	for _, e := range t {
		if e.Device == device || e.Device == resolved {
			return e.MountPoint
		}
	}
	return ""
}

// DeviceAt returns the device mounted at the given mount point, or an
// empty string if nothing is mounted there.
func (t Table) DeviceAt(mountPoint string) string {
	for _, e := range t {
		if e.MountPoint == mountPoint {
			return e.Device
		}
	}
	return ""
}

// Has reports whether the given path appears in the table as either a
// device or a mount point.
func (t Table) Has(pathOrDevice string) bool {
	for _, e := range t {
		if e.Device == pathOrDevice || e.MountPoint == pathOrDevice {
			return true
		}
	}
	return false
}

// unescapeField unescapes special characters in mount fields.
// /proc/mounts escapes spaces as \040, tabs as \011, etc.
func unescapeField(s string) string {
	s = strings.ReplaceAll(s, "\\040", " ")
	s = strings.ReplaceAll(s, "\\011", "\t")
	s = strings.ReplaceAll(s, "\\012", "\n")
	s = strings.ReplaceAll(s, "\\134", "\\")
	return s
}
