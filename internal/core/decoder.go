package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// AttributePrefix marks a column holding comma-separated attribute values.
const AttributePrefix = "attr_"

// Row is one decoded data record.
type Row struct {
	Line       int               // 1-based source line (sheet row for XLSX)
	Index      int               // 1-based data row ordinal, empty rows excluded
	Fields     map[string]string // normalized header -> cleaned cell
	Attributes []AttributeColumn
}

// Get returns the cleaned cell for a normalized column name.
func (r Row) Get(column string) string {
	return r.Fields[column]
}

// AttributeColumn is one attr_ cell of a row.
type AttributeColumn struct {
	Key  string // normalized header, e.g. attr_color
	Name string // display name, e.g. Color
	Raw  string
}

// DecoderOptions configures NewDecoder.
type DecoderOptions struct {
	Format          Format
	Charset         string
	Size            int64
	Skip            int      // data rows to discard before yielding
	RequiredColumns []string // normalized names that must be in the header
}

// Decoder yields rows in source order without buffering the whole source.
// Next returns io.EOF after the last row.
type Decoder interface {
	Header() []string
	Next() (Row, error)
	BytesRead() int64
	Close() error
}

// DecodeError reports a structurally broken record. The stream cannot continue.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HeaderError reports a header row the pipeline cannot work with.
type HeaderError struct {
	Empty     bool
	Missing   []string
	Duplicate []string
}

func (e *HeaderError) Error() string {
	if e.Empty {
		return "source has no header row"
	}
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required columns: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate columns: "+strings.Join(e.Duplicate, ", "))
	}
	return strings.Join(parts, "; ")
}

// DetectFormat picks the source format from a file name.
func DetectFormat(fileName string) (Format, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w %q: expected .csv or .xlsx", ErrUnsupportedFormat, filepath.Ext(fileName))
	}
}

// NewDecoder reads and validates the header of r and returns a row decoder.
func NewDecoder(r io.Reader, opts DecoderOptions) (Decoder, error) {
	var (
		src headerSource
		err error
	)
	switch opts.Format {
	case FormatXLSX:
		src, err = newXLSXSource(r, opts.Size)
	case FormatCSV, "":
		src, err = newCSVSource(r, opts.Charset, opts.Size)
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	raw, _, err := src.next()
	if err == io.EOF {
		src.close()
		return nil, &HeaderError{Empty: true}
	}
	if err != nil {
		src.close()
		return nil, err
	}

	d := &rowDecoder{src: src, skip: opts.Skip}
	if err := d.setHeader(raw, opts.RequiredColumns); err != nil {
		src.close()
		return nil, err
	}
	return d, nil
}

// CountRows streams the whole source and returns the number of non-empty data
// rows. A malformed record stops the count and is returned with the rows
// counted before it.
func CountRows(r io.Reader, opts DecoderOptions) (int, error) {
	opts.Skip = 0
	d, err := NewDecoder(r, opts)
	if err != nil {
		return 0, err
	}
	defer d.Close()

	n := 0
	for {
		_, err := d.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// headerSource is the format-specific record iterator under rowDecoder.
type headerSource interface {
	next() (record []string, line int, err error)
	bytesRead() int64
	close() error
}

type rowDecoder struct {
	src    headerSource
	header []string
	keys   []string
	attrs  map[int]string // column index -> display name
	skip   int
	index  int
}

func (d *rowDecoder) setHeader(raw []string, required []string) error {
	d.header = raw
	d.keys = make([]string, len(raw))
	d.attrs = make(map[int]string)

	seen := make(map[string]bool, len(raw))
	var dup []string
	for i, h := range raw {
		key := normalizeHeader(h)
		d.keys[i] = key
		if key == "" {
			continue
		}
		if seen[key] {
			dup = append(dup, key)
		}
		seen[key] = true
		if name := AttributeName(h); name != "" {
			d.attrs[i] = name
		}
	}

	var missing []string
	for _, col := range required {
		if !seen[col] {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 || len(dup) > 0 {
		sort.Strings(missing)
		return &HeaderError{Missing: missing, Duplicate: dup}
	}
	return nil
}

func (d *rowDecoder) Header() []string { return d.header }

func (d *rowDecoder) BytesRead() int64 { return d.src.bytesRead() }

func (d *rowDecoder) Close() error { return d.src.close() }

// Next returns the next non-empty data row, honoring the skip count.
func (d *rowDecoder) Next() (Row, error) {
	for {
		record, line, err := d.src.next()
		if err != nil {
			return Row{}, err
		}
		if isEmptyRecord(record) {
			continue
		}

		d.index++
		if d.skip > 0 {
			d.skip--
			continue
		}
		return d.build(record, line), nil
	}
}

func (d *rowDecoder) build(record []string, line int) Row {
	row := Row{
		Line:   line,
		Index:  d.index,
		Fields: make(map[string]string, len(d.keys)),
	}
	for i, key := range d.keys {
		if key == "" {
			continue
		}
		var v string
		if i < len(record) {
			v = CleanCell(record[i])
		}
		row.Fields[key] = v
		if name, ok := d.attrs[i]; ok {
			row.Attributes = append(row.Attributes, AttributeColumn{Key: key, Name: name, Raw: v})
		}
	}
	return row
}

// normalizeHeader lowercases a header cell and strips a trailing required marker.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(CleanCell(h))
	h = strings.TrimSpace(strings.TrimSuffix(h, "*"))
	return strings.ToLower(h)
}

// AttributeName returns the display name of an attr_ header, or "" if the
// header is not an attribute column.
func AttributeName(header string) string {
	h := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(CleanCell(header)), "*"))
	if len(h) <= len(AttributePrefix) || !strings.EqualFold(h[:len(AttributePrefix)], AttributePrefix) {
		return ""
	}
	name := strings.ReplaceAll(h[len(AttributePrefix):], "_", " ")
	return strings.Join(strings.Fields(name), " ")
}

// isEmptyRecord reports whether every cell is blank.
func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace and the Excel text-formula wrapper ="...".
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// csvSource reads delimited records through the streaming reader chain.
type csvSource struct {
	reader  *csv.Reader
	counter *CountingReader
}

func newCSVSource(r io.Reader, charsetLabel string, size int64) (*csvSource, error) {
	wrapped, counter, err := WrapSource(r, charsetLabel, size)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(wrapped)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &csvSource{reader: cr, counter: counter}, nil
}

func (s *csvSource) next() ([]string, int, error) {
	record, err := s.reader.Read()
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, 0, &DecodeError{Line: pe.StartLine, Err: pe.Err}
		}
		return nil, 0, &DecodeError{Err: err}
	}
	line, _ := s.reader.FieldPos(0)
	return record, line, nil
}

func (s *csvSource) bytesRead() int64 { return s.counter.BytesRead() }

func (s *csvSource) close() error { return nil }

// xlsxSource iterates the first worksheet with excelize's streaming row reader.
type xlsxSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	counter *CountingReader
	line    int
}

func newXLSXSource(r io.Reader, size int64) (*xlsxSource, error) {
	counter := NewCountingReader(r, size)
	f, err := excelize.OpenReader(counter)
	if err != nil {
		return nil, &DecodeError{Line: 0, Err: fmt.Errorf("open workbook: %w", err)}
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &HeaderError{Empty: true}
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, &DecodeError{Err: fmt.Errorf("read sheet %q: %w", sheets[0], err)}
	}
	return &xlsxSource{file: f, rows: rows, counter: counter}, nil
}

func (s *xlsxSource) next() ([]string, int, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, 0, &DecodeError{Line: s.line + 1, Err: err}
		}
		return nil, 0, io.EOF
	}
	s.line++
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, 0, &DecodeError{Line: s.line, Err: err}
	}
	return cols, s.line, nil
}

func (s *xlsxSource) bytesRead() int64 { return s.counter.BytesRead() }

func (s *xlsxSource) close() error {
	s.rows.Close()
	return s.file.Close()
}
