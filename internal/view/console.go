package view

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Console is a View that prints to a terminal. Page content goes to out
// uncoloured so it can be piped; notices go to notices.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	notices io.Writer
	content string
	rtl     bool
	quiet   bool

	status   *color.Color
	announce *color.Color
	info     *color.Color
	warn     *color.Color
	fail     *color.Color
}

func NewConsole(out, notices io.Writer, quiet bool) *Console {
	return &Console{
		out:      out,
		notices:  notices,
		quiet:    quiet,
		status:   color.New(color.FgCyan),
		announce: color.New(color.FgGreen),
		info:     color.New(color.FgBlue, color.Bold),
		warn:     color.New(color.FgYellow, color.Bold),
		fail:     color.New(color.FgRed, color.Bold),
	}
}

func (c *Console) SetContent(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = text
	fmt.Fprintln(c.out, text)
}

func (c *Console) ContentEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content == ""
}

func (c *Console) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

func (c *Console) SetTextDirection(rtl bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtl = rtl
}

func (c *Console) SetStatus(status string) {
	if c.quiet {
		return
	}
	c.status.Fprintf(c.notices, "[%s]\n", status)
}

func (c *Console) Announce(msg string, urgent bool) {
	if c.quiet && !urgent {
		return
	}
	c.announce.Fprintln(c.notices, msg)
}

func (c *Console) PlaySound(cue Cue) {}

func (c *Console) ShowMessage(kind MessageKind, title, msg string) {
	col := c.info
	switch kind {
	case MessageWarning:
		col = c.warn
	case MessageError:
		col = c.fail
	}
	col.Fprintf(c.notices, "%s: ", title)
	fmt.Fprintln(c.notices, msg)
}

func (c *Console) Focus() {}
