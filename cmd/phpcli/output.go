package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"go-php-cli/server"
)

// colorScheme holds the colours used when printing a response.
type colorScheme struct {
	StatusOK    *color.Color
	StatusWarn  *color.Color
	StatusError *color.Color
	HeaderKey   *color.Color
	HeaderValue *color.Color
	Meta        *color.Color
}

func defaultColorScheme() *colorScheme {
	return &colorScheme{
		StatusOK:    color.New(color.FgGreen, color.Bold),
		StatusWarn:  color.New(color.FgYellow, color.Bold),
		StatusError: color.New(color.FgRed, color.Bold),
		HeaderKey:   color.New(color.FgCyan),
		HeaderValue: color.New(color.FgWhite),
		Meta:        color.New(color.FgMagenta),
	}
}

func noColorScheme() *colorScheme {
	s := defaultColorScheme()
	for _, c := range []*color.Color{s.StatusOK, s.StatusWarn, s.StatusError, s.HeaderKey, s.HeaderValue, s.Meta} {
		c.DisableColor()
	}
	return s
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// schemeFor colours output only when it goes to a terminal.
func schemeFor(w io.Writer, noColor bool) *colorScheme {
	if f, ok := w.(*os.File); ok && !noColor && isTerminal(f) {
		return defaultColorScheme()
	}
	return noColorScheme()
}

func (s *colorScheme) status(code int) *color.Color {
	switch {
	case code >= 500:
		return s.StatusError
	case code >= 400:
		return s.StatusWarn
	default:
		return s.StatusOK
	}
}

// printResponse writes the status line, headers, a blank line and the body.
func printResponse(w io.Writer, s *colorScheme, resp *server.Response, verbose bool) {
	code := resp.StatusCode()
	fmt.Fprintln(w, s.status(code).Sprintf("%d %s", code, http.StatusText(code)))
	for _, line := range resp.Headers() {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			fmt.Fprintln(w, s.HeaderValue.Sprint(line))
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", s.HeaderKey.Sprint(name), s.HeaderValue.Sprint(strings.TrimSpace(value)))
	}
	if verbose {
		fmt.Fprintln(w, s.Meta.Sprintf("# request %s exit=%d duration=%s", resp.RequestID(), resp.ExitCode(), resp.Duration()))
		if len(resp.Session()) > 0 {
			fmt.Fprintln(w, s.Meta.Sprintf("# session %v", resp.Session()))
		}
	}
	fmt.Fprintln(w)
	w.Write(resp.Content())
}
