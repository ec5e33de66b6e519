package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameReaderSplitsOnNUL(t *testing.T) {
	src := bytes.NewReader([]byte("abc\x00def\x00"))
	fr := NewFrameReader(src, 0)

	first, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	if string(first) != "abc" {
		t.Errorf("first = %q, want abc", first)
	}

	second, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if string(second) != "def" {
		t.Errorf("second = %q, want def", second)
	}

	if _, err := fr.ReadFrame(); err != io.EOF {
		t.Errorf("final ReadFrame err = %v, want io.EOF", err)
	}
}

func TestFrameReaderBuffersIncompleteTrailingFrame(t *testing.T) {
	src := bytes.NewReader([]byte("abc\x00partial"))
	fr := NewFrameReader(src, 0)

	first, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	if string(first) != "abc" {
		t.Errorf("first = %q, want abc", first)
	}

	if _, err := fr.ReadFrame(); err != io.ErrUnexpectedEOF {
		t.Errorf("trailing partial frame err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestFrameReaderRejectsOversizedFrame(t *testing.T) {
	src := bytes.NewReader([]byte("0123456789\x00"))
	fr := NewFrameReader(src, 5)

	if _, err := fr.ReadFrame(); err != ErrFrameTooLarge {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameWriterAppendsDelimiter(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	if err := fw.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := fw.WriteFrame([]byte("world")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if got, want := buf.String(), "hello\x00world\x00"; got != want {
		t.Errorf("buf = %q, want %q", got, want)
	}
}
