// Package cmdrun executes the external commands the mount engine is
// built on. Everything the engine does to the host goes through a
// Runner, so tests can substitute a scripted one.
package cmdrun

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/diskrescue/imgmount/internal/log"
)

// Runner runs a shell command, optionally elevated, and returns its
// exit code and combined stdout/stderr. Commands block until the
// subprocess exits; there is no timeout.
type Runner interface {
	Run(command string, elevated bool) (int, string)
}

// ShellRunner runs commands through the shell with LC_ALL=C so tool
// output is parseable regardless of locale. Elevated commands are
// prefixed with ElevatePrefix and retried once if the elevation helper
// itself refuses or is cancelled.
type ShellRunner struct {
	// ElevatePrefix is prepended to elevated commands, e.g. "sudo -n"
	// or "pkexec". Empty means run elevated commands as-is.
	ElevatePrefix string
}

// NewShellRunner creates a runner that elevates through the given
// prefix command.
func NewShellRunner(elevatePrefix string) *ShellRunner {
	return &ShellRunner{ElevatePrefix: elevatePrefix}
}

// Run executes the command and returns its exit code and combined
// output. A spawn failure is reported as exit code -1.
func (r *ShellRunner) Run(command string, elevated bool) (int, string) {
	code, output := r.runOnce(command, elevated)

	// Exit 126/127 from the elevation helper means it refused or was
	// cancelled, not that the wrapped command failed. Retry once.
	if elevated && r.ElevatePrefix != "" && (code == 126 || code == 127) {
		log.Warn("elevation refused, retrying", "command", command, "code", code)
		code, output = r.runOnce(command, elevated)
	}

	return code, output
}

func (r *ShellRunner) runOnce(command string, elevated bool) (int, string) {
	argv := []string{"sh", "-c", "LC_ALL=C " + command}
	if elevated && r.ElevatePrefix != "" {
		argv = append(strings.Fields(r.ElevatePrefix), argv...)
	}

	log.Debug("running command", "argv", strings.Join(argv, " "))

	cmd := exec.Command(argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			log.Error("failed to start command", "command", command, "error", err)
			code = -1
		}
	}

	log.Debug("command finished", "command", command, "code", code)
	return code, string(output)
}
