// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a charmbracelet logger writing to w at the named level.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "echotab",
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps debug, info, warn, and error to a log level.
func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Setup installs a logger as the slog default and returns it.
func Setup(w io.Writer, level string) *slog.Logger {
	logger := slog.New(New(w, level))
	slog.SetDefault(logger)
	return logger
}
