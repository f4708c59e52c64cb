package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// mountDirPattern strips anything that is not safe to use as a
// directory name under the mount base.
var mountDirPattern = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// ValidateContainerPath validates that a path is something the engine
// can sensibly try to mount: an existing regular file with content, or
// a device node.
func ValidateContainerPath(path string) error {
	if path == "" {
		return fmt.Errorf("no output file or device given")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist", path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not an image file or device", path)
	}

	if info.Mode().IsRegular() && info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}

	return nil
}

// MountDirName derives the fixed mount directory name for a container
// path. The name is stable for a given path, so remounting the same
// image reuses the same mount point.
func MountDirName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	name := mountDirPattern.ReplaceAllString(base, "_")
	name = strings.Trim(name, "_")
	if name == "" || name == "." {
		return "destination"
	}
	return name
}
