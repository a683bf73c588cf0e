// Package gaslimit turns operator input into an optional gas-limit override.
//
// Any input that is not a positive decimal integer means "no override": the
// deployment then falls back to the network's gas estimation. This includes
// blank input, "n"/"N", zero, negative numbers and values that overflow uint64.
package gaslimit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PromptText is shown before reading an override interactively.
const PromptText = "Custom gas limit? [number/N] "

// Parse returns the override encoded in input and whether one was given.
func Parse(input string) (uint64, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, false
	}

	limit, err := strconv.ParseUint(s, 10, 64)
	if err != nil || limit == 0 {
		return 0, false
	}
	return limit, true
}

// Prompter asks the operator for an override.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a Prompter reading from in and writing the prompt to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Ask prints the prompt and reads one line. End of input counts as no override.
func (p *Prompter) Ask() (uint64, bool, error) {
	if _, err := fmt.Fprint(p.out, PromptText); err != nil {
		return 0, false, fmt.Errorf("write prompt: %w", err)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, false, fmt.Errorf("read gas limit: %w", err)
	}

	limit, ok := Parse(line)
	return limit, ok, nil
}
