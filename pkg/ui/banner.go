// Package ui holds the terminal decoration shared by the lockscope commands.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	reset     = "\033[0m"
	bold      = "\033[1m"
	ember     = "\033[38;5;196m"
	flame     = "\033[38;5;208m"
	amber     = "\033[38;5;214m"
	straw     = "\033[38;5;226m"
	mint      = "\033[38;5;121m"
	seafoam   = "\033[38;5;49m"
	cobalt    = "\033[38;5;33m"
	indigo    = "\033[38;5;61m"
	fuchsia   = "\033[38;5;177m"
	slateGray = "\033[38;5;244m"
)

var wordmark = [][]string{
	{"██╗     ", "██║     ", "██║     ", "██║     ", "███████╗", "╚══════╝"},
	{" ██████╗ ", "██╔═══██╗", "██║   ██║", "██║   ██║", "╚██████╔╝", " ╚═════╝ "},
	{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
	{"██╗  ██╗", "██║ ██╔╝", "█████╔╝ ", "██╔═██╗ ", "██║  ██╗", "╚═╝  ╚═╝"},
	{"███████╗", "██╔════╝", "███████╗", "╚════██║", "███████║", "╚══════╝"},
	{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
	{" ██████╗ ", "██╔═══██╗", "██║   ██║", "██║   ██║", "╚██████╔╝", " ╚═════╝ "},
	{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
	{"███████╗", "██╔════╝", "█████╗  ", "██╔══╝  ", "███████╗", "╚══════╝"},
}

var gradient = []string{ember, flame, amber, straw, mint, seafoam, cobalt, indigo, fuchsia}

// Tagline follows the wordmark.
const Tagline = "lock contention & false sharing lens"

// Banner renders the lockscope wordmark, coloured when color is set.
func Banner(color bool) string {
	var b strings.Builder

	rows := make([]string, len(wordmark[0]))
	for i, letter := range wordmark {
		for row := range letter {
			if color {
				rows[row] += gradient[i%len(gradient)]
			}
			rows[row] += letter[row] + " "
		}
	}
	for _, line := range rows {
		if color {
			line = bold + line + reset
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	b.WriteString("\n")
	if color {
		b.WriteString(bold + ember + "lockscope" + reset + "  •  " + Tagline + "\n\n")
	} else {
		b.WriteString("lockscope  •  " + Tagline + "\n\n")
	}
	return b.String()
}

// isTerminal allows tests to force colour decisions.
var isTerminal = func(fd int) bool { return term.IsTerminal(fd) }

// ColorEnabled reports whether w is a terminal that should get ANSI colour.
// NO_COLOR disables colour everywhere.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isTerminal(int(f.Fd()))
}

// Level tags a status line.
type Level int

const (
	Info Level = iota
	Warn
	Success
	Error
)

func (l Level) tag() (string, string) {
	switch l {
	case Warn:
		return "WARN", amber
	case Success:
		return "OK", mint
	case Error:
		return "ERROR", ember
	default:
		return "INFO", cobalt
	}
}

// Printer writes tagged status lines such as "[WARN] ..." for the operator.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a status printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: ColorEnabled(w)}
}

// Printf writes one status line at level l.
func (p *Printer) Printf(l Level, format string, args ...any) {
	name, color := l.tag()
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	if p.color {
		fmt.Fprintf(p.w, "%s[%s]%s %s\n", color+bold, name, reset, msg)
		return
	}
	fmt.Fprintf(p.w, "[%s] %s\n", name, msg)
}

// Dim greys s out when colour is on.
func (p *Printer) Dim(s string) string {
	if !p.color {
		return s
	}
	return slateGray + s + reset
}
