// Package dataset reads fuzzy-hash records from CSV files.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMissingColumn is returned when the hash column is absent from the header.
var ErrMissingColumn = errors.New("missing column")

// Record is one CSV row. Size is carried for reporting only.
type Record struct {
	Row  int
	Key  string
	Hash string
	Size int64
}

// Columns names the header fields to read. Size and Key are optional; an
// empty Key makes the hash the record key.
type Columns struct {
	Hash string `toml:"hash_column"`
	Size string `toml:"size_column"`
	Key  string `toml:"key_column"`
}

func DefaultColumns() Columns {
	return Columns{Hash: "tlsh", Size: "size"}
}

// ReadFile loads every record of a CSV file.
func ReadFile(path string, cols Columns) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, cols)
}

// Read loads every record from r. The first row must be a header. Rows are
// numbered from 1, the header being row 0.
func Read(r io.Reader, cols Columns) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %q (empty file)", ErrMissingColumn, cols.Hash)
		}
		return nil, err
	}
	hashIdx := indexOf(header, cols.Hash)
	if hashIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, cols.Hash)
	}
	sizeIdx := indexOf(header, cols.Size)
	keyIdx := indexOf(header, cols.Key)
	if cols.Key != "" && keyIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, cols.Key)
	}

	var records []Record
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := Record{Row: row, Hash: strings.TrimSpace(field(fields, hashIdx))}
		rec.Key = rec.Hash
		if keyIdx >= 0 {
			rec.Key = strings.TrimSpace(field(fields, keyIdx))
		}
		if s := field(fields, sizeIdx); s != "" {
			rec.Size, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: size %q: %w", row, s, err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func indexOf(header []string, name string) int {
	if name == "" {
		return -1
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// Hashes returns the hash column in record order.
func Hashes(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Hash
	}
	return out
}
