// Package detect proposes column mappings for uploaded tabular files.
package detect

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/timmy/assetingest/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detector maps a list of column names to a partial role mapping.
// Implementations must be pure: same columns in, same guess out.
type Detector interface {
	Guess(columns []string) domain.Mapping
}

// IsCSV reports whether filename has a .csv extension.
func IsCSV(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}

// HeaderInfo describes the header row of a CSV stream.
type HeaderInfo struct {
	Columns []string
	// Offset is the byte offset of the first data row, BOM included.
	Offset int64
}

// ReadHeader reads the first CSV record from r. An empty stream yields an
// empty header at offset 0.
func ReadHeader(r io.Reader) (*HeaderInfo, error) {
	br := bufio.NewReader(r)

	var bomLen int64
	if peek, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(peek, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
		bomLen = int64(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	record, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &HeaderInfo{Columns: []string{}, Offset: bomLen}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]string, len(record))
	copy(columns, record)
	return &HeaderInfo{Columns: columns, Offset: bomLen + cr.InputOffset()}, nil
}

// Detect reads the header of a finalized file and guesses a mapping.
// Non-CSV files yield no columns and an all-empty guess.
func Detect(r io.Reader, filename string, d Detector) (*domain.MappingGuess, error) {
	columns := []string{}
	if IsCSV(filename) {
		hdr, err := ReadHeader(r)
		if err != nil {
			return nil, err
		}
		columns = hdr.Columns
	}
	return &domain.MappingGuess{
		Columns: columns,
		Guess:   d.Guess(columns).Normalize(),
	}, nil
}
