// Package cli implements line-oriented terminal prompts used by the
// talkto init wizard.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from In and writes questions to Out. The zero
// value is not usable; set both fields or use DefaultPrompter.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	r *bufio.Reader
}

// DefaultPrompter returns a Prompter bound to stdin and stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

// line reads the next input line, trimmed of surrounding whitespace.
// EOF and read errors yield an empty answer so every prompt falls back
// to its default.
func (p *Prompter) line() string {
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	s, err := p.r.ReadString('\n')
	if err != nil && s == "" {
		return ""
	}
	return strings.TrimSpace(s)
}

// Ask poses a question and returns the typed answer, or defaultVal when
// the user just presses Enter.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal == "" {
		_, _ = fmt.Fprintf(p.Out, "%s: ", question)
	} else {
		_, _ = fmt.Fprintf(p.Out, "%s [%s]: ", question, defaultVal)
	}
	if ans := p.line(); ans != "" {
		return ans
	}
	return defaultVal
}

// AskPassword reads an answer without echoing it. When In is not a
// terminal (piped input, tests) it degrades to a plain read.
func (p *Prompter) AskPassword(question string) string {
	_, _ = fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.line()
}

// AskInt keeps asking until the answer parses as a positive integer.
// Enter accepts the default.
func (p *Prompter) AskInt(question string, defaultVal int) int {
	for {
		ans := p.Ask(question, strconv.Itoa(defaultVal))
		if n, err := strconv.Atoi(ans); err == nil && n > 0 {
			return n
		}
		_, _ = fmt.Fprintln(p.Out, "  enter a positive number")
	}
}

// Choose renders a numbered menu and returns the chosen option. The
// default is marked with "*" and selected on Enter.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	_, _ = fmt.Fprintln(p.Out, question)
	for i, opt := range options {
		mark := " "
		if i == defaultIdx {
			mark = "*"
		}
		_, _ = fmt.Fprintf(p.Out, " %s %d) %s\n", mark, i+1, opt)
	}
	for {
		ans := p.Ask("Choice", strconv.Itoa(defaultIdx+1))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		_, _ = fmt.Fprintf(p.Out, "  enter a number between 1 and %d\n", len(options))
	}
}

// Confirm asks a yes/no question. Any answer starting with y or Y is
// yes; Enter keeps the default.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
