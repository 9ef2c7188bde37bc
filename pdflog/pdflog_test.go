package pdflog

import (
	"bytes"
	"testing"
)

func TestNewWritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Warn("hello", "n", 1)
	if buf.Len() == 0 {
		t.Fatal("expected a record to be written")
	}
}

func TestNewNilWriterDiscards(t *testing.T) {
	l := New(nil)
	l.Warn("should not panic")
}

func TestOrFallsBackToDiscard(t *testing.T) {
	l := Or(nil)
	if l == nil {
		t.Fatal("Or(nil) must never return nil")
	}
	l.Error("also should not panic")
}
