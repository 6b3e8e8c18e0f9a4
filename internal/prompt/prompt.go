// Package prompt abstracts the two interactive questions the tool ever
// asks: a yes/no confirmation and a pick-one choice. Core logic depends
// only on the Prompter capability so headless runs inject Forced.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type Prompter interface {
	// Confirm asks a yes/no question; an empty answer yields def.
	Confirm(question string, def bool) (bool, error)
	// Choose asks to pick one of options and returns its index; an
	// empty or invalid answer yields def.
	Choose(question string, options []string, def int) (int, error)
}

// Forced answers every question with its default, for non-interactive
// and test execution.
type Forced struct{}

func (Forced) Confirm(_ string, def bool) (bool, error) { return def, nil }

func (Forced) Choose(_ string, _ []string, def int) (int, error) { return def, nil }

// Terminal prompts on an io pair, normally stdin/stderr.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal() *Terminal {
	return &Terminal{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func NewTerminalWith(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Confirm(question string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(t.out, "%s [%s]: ", question, hint)
	line, err := t.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *Terminal) Choose(question string, options []string, def int) (int, error) {
	fmt.Fprintln(t.out, question)
	for i, opt := range options {
		marker := " "
		if i == def {
			marker = "*"
		}
		fmt.Fprintf(t.out, " %s %d) %s\n", marker, i+1, opt)
	}
	fmt.Fprintf(t.out, "choice [%d]: ", def+1)
	line, err := t.readLine()
	if err != nil {
		return 0, err
	}
	if line == "" {
		return def, nil
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(options) {
		return def, nil
	}
	return n - 1, nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
