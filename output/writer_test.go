package output

import (
	"reflect"
	"strings"
	"testing"
)

func collectLines() (*LineWriter, *[]string) {
	var lines []string
	w := NewLineWriter(func(l string) { lines = append(lines, l) })
	return w, &lines
}

func TestLineWriterReassembles(t *testing.T) {
	w, lines := collectLines()

	for _, chunk := range []string{"hel", "lo\nwor", "ld\r\n", "tail"} {
		n, err := w.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("Write error: %v", err)
		}
		if n != len(chunk) {
			t.Errorf("Write returned %d, want %d", n, len(chunk))
		}
	}

	if want := []string{"hello", "world"}; !reflect.DeepEqual(*lines, want) {
		t.Errorf("lines = %q, want %q", *lines, want)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if want := []string{"hello", "world", "tail"}; !reflect.DeepEqual(*lines, want) {
		t.Errorf("lines after Close = %q, want %q", *lines, want)
	}
}

func TestLineWriterEmptyLines(t *testing.T) {
	w, lines := collectLines()
	w.Write([]byte("\n\na\n"))
	w.Close()

	if want := []string{"", "", "a"}; !reflect.DeepEqual(*lines, want) {
		t.Errorf("lines = %q, want %q", *lines, want)
	}
}

// TestLineWriterClose verifies Close is idempotent and later writes are
// discarded.
func TestLineWriterClose(t *testing.T) {
	w, lines := collectLines()
	w.Write([]byte("partial"))
	w.Close()
	w.Close()
	w.Write([]byte("late\n"))

	if want := []string{"partial"}; !reflect.DeepEqual(*lines, want) {
		t.Errorf("lines = %q, want %q", *lines, want)
	}
}

func TestLineWriterLongLine(t *testing.T) {
	w, lines := collectLines()
	long := strings.Repeat("x", MaxLineLength+10)
	w.Write([]byte(long))
	w.Close()

	if len(*lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(*lines))
	}
	if len((*lines)[0]) != MaxLineLength {
		t.Errorf("first piece = %d bytes, want %d", len((*lines)[0]), MaxLineLength)
	}
	if len((*lines)[1]) != 10 {
		t.Errorf("second piece = %d bytes, want 10", len((*lines)[1]))
	}
}
