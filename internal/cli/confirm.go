package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// promptConfirmer asks y/n questions on the command's streams. With assumeYes
// set every question is answered yes without prompting.
type promptConfirmer struct {
	mu        sync.Mutex
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func newPromptConfirmer(in io.Reader, out io.Writer, assumeYes bool) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out, assumeYes: assumeYes}
}

// Confirm prints message and reads one answer line. Anything other than
// y or yes, including EOF, declines.
func (c *promptConfirmer) Confirm(ctx context.Context, message string) bool {
	if c.assumeYes {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	_, _ = fmt.Fprintf(c.out, "%s [y/N]: ", message)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		_, _ = fmt.Fprintln(c.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
