// Package cliapp is the menu-driven CLI surface (component G): it prompts
// for email/password/locker name/secret, routes the account and locker
// flows, translates taxonomy errors into user-facing messages, and retries
// once on a session-expiry Unauthorized. Grounded on original_source's
// main.rs menu loop, with hidden password input read the way
// shurlinet-shurli's cmd_relay_vault.go reads a passphrase.
package cliapp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads the inputs the menu needs. The terminal-backed
// implementation hides password input; a canned implementation backs
// tests.
type Prompter interface {
	Line(prompt string) (string, error)
	Secret(prompt string) (string, error)
}

// TerminalPrompter reads from stdin, hiding secret input when stdin is a
// real terminal and falling back to a plain line read otherwise (so tests
// and piped input still work).
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter constructs a TerminalPrompter over stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Line reads one line of visible input. A Ctrl-D with nothing left to read
// surfaces as io.EOF so the menu loop can exit the way main.rs's prompt
// loop does; a final line with no trailing newline still counts.
func (p *TerminalPrompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	return readLine(p.in)
}

// Secret reads one line of hidden input, falling back to a visible read
// when stdin is not a terminal.
func (p *TerminalPrompter) Secret(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		if len(bytes) == 0 {
			return "", io.EOF
		}
		return string(bytes), nil
	}
	return readLine(p.in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	trimmed := strings.TrimRight(line, "\r\n")
	if err != nil {
		if trimmed != "" {
			return trimmed, nil
		}
		return "", io.EOF
	}
	return trimmed, nil
}

// CannedPrompter replays a fixed script of answers, for tests driving the
// menu loop without a real terminal.
type CannedPrompter struct {
	answers []string
	pos     int
}

// NewCannedPrompter constructs a CannedPrompter that returns answers in
// order for every Line/Secret call.
func NewCannedPrompter(answers ...string) *CannedPrompter {
	return &CannedPrompter{answers: answers}
}

func (p *CannedPrompter) next() (string, error) {
	if p.pos >= len(p.answers) {
		return "", io.EOF
	}
	v := p.answers[p.pos]
	p.pos++
	return v, nil
}

// Line returns the next scripted answer.
func (p *CannedPrompter) Line(string) (string, error) { return p.next() }

// Secret returns the next scripted answer.
func (p *CannedPrompter) Secret(string) (string, error) { return p.next() }
