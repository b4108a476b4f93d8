package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// StripBOM decodes UTF-8 input, dropping a leading byte order mark. A UTF-16
// BOM switches decoding to UTF-16, which spreadsheet exports occasionally use.
func StripBOM(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// SourceRow is one data row of a dataset CSV.
type SourceRow struct {
	Index  int               // 1-based position among data rows; every row consumes one
	Line   int               // line in the file where the record starts
	Values map[string]string // keyed by the literal header cell
	// Err is set when the record cannot be read as a row (wrong field count,
	// broken quoting). Such rows are skipped by the importer.
	Err error
}

// Value returns the cell of column and whether it holds non-blank text.
func (r *SourceRow) Value(column string) (string, bool) {
	v, ok := r.Values[column]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// IsEmpty reports whether every cell is blank.
func (r *SourceRow) IsEmpty() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Source streams the rows of a dataset CSV in file order.
type Source struct {
	Header []string

	reader *csv.Reader
	closer io.Closer
	index  int
}

// OpenSource opens a dataset CSV and reads its header.
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSource(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.closer = f
	return s, nil
}

// NewSource reads the header from r. Header cells are kept verbatim,
// including leading and trailing whitespace.
func NewSource(r io.Reader) (*Source, error) {
	cr := csv.NewReader(StripBOM(r))
	cr.FieldsPerRecord = 0
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty: header row required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q in header", h)
		}
		seen[h] = true
	}

	return &Source{Header: header, reader: cr}, nil
}

// Next returns the next row, or io.EOF after the last one.
// Lines that are completely empty are not rows; the csv reader drops them.
func (s *Source) Next() (*SourceRow, error) {
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}

	s.index++
	row := &SourceRow{Index: s.index, Values: make(map[string]string, len(s.Header))}

	if err != nil {
		var pe *csv.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}
		row.Line = pe.StartLine
		row.Err = err
		return row, nil
	}

	row.Line, _ = s.reader.FieldPos(0)
	for i, h := range s.Header {
		row.Values[h] = record[i]
	}
	return row, nil
}

// Close releases the underlying file, if any.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
