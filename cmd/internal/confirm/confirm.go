// Package confirm asks the operator to approve a transaction before it is
// handed to the wallet for signing.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter resolves approval from an environment variable or by asking on the
// terminal.
type Prompter struct {
	envVar     string
	in         io.Reader
	out        io.Writer
	isTerminal func() bool
}

// New returns a prompter reading stdin and writing to stderr. A boolean in
// envVar answers every prompt without asking.
func New(envVar string) *Prompter {
	return &Prompter{
		envVar: strings.TrimSpace(envVar),
		in:     os.Stdin,
		out:    os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// Confirm prints question and reports whether the operator answered yes.
func (p *Prompter) Confirm(question string) (bool, error) {
	if p.envVar != "" {
		if value, ok := os.LookupEnv(p.envVar); ok && strings.TrimSpace(value) != "" {
			yes, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return false, fmt.Errorf("%s: %w", p.envVar, err)
			}
			return yes, nil
		}
	}
	if p.isTerminal == nil || !p.isTerminal() {
		if p.envVar != "" {
			return false, fmt.Errorf("confirmation required; pass --yes or set %s", p.envVar)
		}
		return false, fmt.Errorf("confirmation required and no terminal available")
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
