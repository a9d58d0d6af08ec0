package core

// source.go builds the reader chain a job decodes from. Every layer streams
// so memory stays bounded regardless of file size:
//
//   - CountingReader tracks raw bytes consumed for progress reporting
//   - charset decoding converts non UTF-8 labels via golang.org/x/net/html/charset
//   - skipBOM drops a leading UTF-8 byte order mark
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?'

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CountingReader wraps an io.Reader to track bytes read.
// BytesRead is safe to call from other goroutines.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// Percent returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Percent() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead() * 100 / r.Total)
}

// skipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer rewrites invalid UTF-8 bytes to '?' one rune at a time.
// A single-byte replacement keeps the output no longer than the input.
type utf8Sanitizer struct {
	r       *bufio.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	var enc [utf8.UTFMax]byte
	for n < len(p) {
		r, size, err := s.r.ReadRune()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			continue
		}
		m := utf8.EncodeRune(enc[:], r)
		c := copy(p[n:], enc[:m])
		n += c
		if c < m {
			s.pending = append([]byte(nil), enc[c:m]...)
		}
	}
	return n, nil
}

// isUTF8Label reports whether label names UTF-8 (or is empty).
func isUTF8Label(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// WrapSource applies charset decoding, BOM skipping, and UTF-8 sanitization
// to r. The returned CountingReader counts raw source bytes so progress can be
// compared against the file size.
func WrapSource(r io.Reader, charsetLabel string, totalSize int64) (io.Reader, *CountingReader, error) {
	counter := NewCountingReader(r, totalSize)

	var decoded io.Reader = counter
	if !isUTF8Label(charsetLabel) {
		cr, err := charset.NewReaderLabel(charsetLabel, counter)
		if err != nil {
			return nil, nil, fmt.Errorf("charset %q: %w", charsetLabel, err)
		}
		decoded = cr
	}

	return newUTF8Sanitizer(skipBOM(decoded)), counter, nil
}
