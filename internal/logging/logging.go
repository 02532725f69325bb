// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the structured logger shared by all components.
package logging

import (
	"io"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at the named level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(w io.Writer, level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: false,
		Level:           lvl,
	})
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
