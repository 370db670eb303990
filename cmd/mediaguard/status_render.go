package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"mediaguard/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// statusStyles is indexed by statusKind.
var statusStyles = [...]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func (k statusKind) style() (label, color string) {
	if k < 0 || int(k) >= len(statusStyles) {
		k = statusInfo
	}
	s := statusStyles[k]
	return s.label, s.color
}

// renderStatusLine formats "  <label>:   [KIND] message" with the label
// padded to a fixed column.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	name, color := kind.style()
	var b strings.Builder
	fmt.Fprintf(&b, "  %-24s [%s]", label+":", name)
	if message != "" {
		b.WriteByte(' ')
		b.WriteString(message)
	}
	if !colorize {
		return b.String()
	}
	return color + b.String() + ansiReset
}

// checkLine renders a preflight result. Failures of optional checks are
// warnings rather than errors.
func checkLine(result preflight.Result, optional bool, colorize bool) string {
	kind := statusOK
	switch {
	case result.Passed:
	case optional:
		kind = statusWarn
	default:
		kind = statusError
	}
	return renderStatusLine(result.Name, kind, result.Detail, colorize)
}

func renderSectionHeader(out io.Writer, title string, colorize bool) {
	heading := "== " + strings.TrimSpace(title) + " =="
	underline := strings.Repeat("-", len(heading))
	if colorize {
		heading, underline = ansiBlue+heading+ansiReset, ansiBlue+underline+ansiReset
	}
	fmt.Fprintf(out, "%s\n%s\n", heading, underline)
}

// shouldColorize reports whether w is a terminal and NO_COLOR is unset.
func shouldColorize(w io.Writer) bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
