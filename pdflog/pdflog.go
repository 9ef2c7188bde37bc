// Package pdflog is the structured logging sink threaded explicitly
// through this module's Open/Start entry points. There is no
// package-level logger and no environment-variable configuration:
// every caller that wants diagnostic output passes an *slog.Logger (or
// nil, meaning discard) directly.
package pdflog

import (
	"io"
	"log/slog"
)

// New builds a logger writing structured text records to w. A nil w
// (or a nil *slog.Logger passed elsewhere in this module) is always
// treated as "discard everything" rather than a panic, since logging is
// diagnostic, never load-bearing.
func New(w io.Writer) *slog.Logger {
	if w == nil {
		return Discard()
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

// Discard returns a logger that drops every record, the default used
// wherever a caller passes a nil logger. Built from a text handler over
// io.Discard with its level raised above any record this module ever
// logs, rather than a specific slog.DiscardHandler constant, so this
// builds against slightly older toolchains too.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Or logs through l if l is non-nil, otherwise through a discard
// logger: the one-line guard every call site in this module uses
// instead of repeating a nil check.
func Or(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
