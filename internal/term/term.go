// Package term implements the interactive selection prompt on the
// controlling terminal.
package term

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Prompter asks the user to pick from a numbered list of options.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a prompter reading from stdin and writing to
// stdout.
func NewPrompter() *Prompter {
	return &Prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
	}
}

// NewPrompterWith creates a prompter over the given streams.
func NewPrompterWith(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Choose presents the options and reads a selection. An empty line or
// closed input cancels; anything unparseable re-prompts.
func (p *Prompter) Choose(prompt string, options []string) (string, bool) {
	fmt.Fprintf(p.out, "\n%s\n", prompt)
	for i, option := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, option)
	}

	for {
		fmt.Fprintf(p.out, "Selection (1-%d, empty cancels): ", len(options))

		line, err := p.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			// Ctrl-D or a bare Enter both cancel
			return "", false
		}

		n, convErr := strconv.Atoi(line)
		if convErr == nil && n >= 1 && n <= len(options) {
			return options[n-1], true
		}

		fmt.Fprintf(p.out, "Invalid selection %q.\n", line)

		if err != nil {
			return "", false
		}
	}
}
