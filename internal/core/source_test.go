package core

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestSkipBOM(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("sku,name")...),
			expected: "sku,name",
		},
		{
			name:     "file without BOM",
			input:    []byte("sku,name"),
			expected: "sku,name",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(skipBOM(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "valid ASCII", input: []byte("red,blue"), expected: "red,blue"},
		{name: "valid multibyte", input: []byte("caf\xc3\xa9"), expected: "café"},
		{name: "invalid single byte replaced", input: []byte{'h', 'e', 0x80, 'l', 'o'}, expected: "he?lo"},
		{name: "truncated sequence at end", input: []byte{'a', 0xc3}, expected: "a?"},
		{name: "empty input", input: []byte{}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(newUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

// Reads into a 1-byte buffer must not split or drop multibyte runes.
func TestUTF8Sanitizer_TinyBuffer(t *testing.T) {
	s := newUTF8Sanitizer(strings.NewReader("añb"))
	var out []byte
	buf := make([]byte, 1)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if string(out) != "añb" {
		t.Errorf("got %q, want %q", out, "añb")
	}
}

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := NewCountingReader(strings.NewReader(input), int64(len(input)))

	buf := make([]byte, 100)
	totalRead := 0
	for {
		n, err := reader.Read(buf)
		totalRead += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if totalRead != len(input) {
		t.Errorf("total read = %d, want %d", totalRead, len(input))
	}
	if reader.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", reader.BytesRead(), len(input))
	}
	if reader.Percent() != 100 {
		t.Errorf("Percent = %d, want 100", reader.Percent())
	}
}

func TestWrapSource(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte{'h', 'e', 0x80, 'l', 'o'}...)

	r, counter, err := WrapSource(bytes.NewReader(input), "", int64(len(input)))
	if err != nil {
		t.Fatalf("WrapSource: %v", err)
	}
	result, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "he?lo" {
		t.Errorf("got %q, want %q", string(result), "he?lo")
	}
	if counter.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", counter.BytesRead(), len(input))
	}
}

func TestWrapSource_Latin1(t *testing.T) {
	// 0xE9 is e-acute in ISO-8859-1 and invalid on its own in UTF-8.
	input := []byte("caf\xe9")

	r, _, err := WrapSource(bytes.NewReader(input), "iso-8859-1", int64(len(input)))
	if err != nil {
		t.Fatalf("WrapSource: %v", err)
	}
	result, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "café" {
		t.Errorf("got %q, want %q", string(result), "café")
	}
}

func TestWrapSource_UnknownCharset(t *testing.T) {
	if _, _, err := WrapSource(strings.NewReader("x"), "klingon-1", 1); err == nil {
		t.Fatal("expected error for unknown charset label")
	}
}
