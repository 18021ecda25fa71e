// Package records loads purchase records from delimited text files.
package records

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Record maps a column name to the cell value of one source row.
type Record map[string]string

// Table is a loaded input file: the header in source order and one Record
// per data row.
type Table struct {
	Header []string
	Rows   []Record
}

// Load reads the CSV file at path and verifies that every required column is
// present in its header and that no column name repeats. A leading UTF-8
// byte-order mark is discarded; every other byte passes through as read.
func Load(ctx context.Context, path string, required []string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "records: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := transform.NewReader(f, unicode.BOMOverride(transform.Nop))
	rowCh, errCh := StreamCSV(ctx, r, StreamOptions{LazyQuotes: true})

	var table Table
	first := true
	for row := range rowCh {
		if first {
			first = false
			table.Header = normalizeHeader(row)
			if err := checkHeader(table.Header, required); err != nil {
				// Drain so the reader goroutine can exit.
				for range rowCh {
				}
				<-errCh
				return nil, eris.Wrapf(err, "records: %s", path)
			}
			continue
		}
		table.Rows = append(table.Rows, mapRow(table.Header, row))
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "records: parse %s", path)
	}

	if first {
		return nil, eris.Errorf("records: %s has no header row", path)
	}

	return &table, nil
}

// Columns returns the distinct non-empty column names in order of first
// appearance.
func Columns(groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, c := range g {
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func normalizeHeader(row []string) []string {
	header := make([]string, len(row))
	for i, h := range row {
		header[i] = strings.TrimSpace(h)
	}
	return header
}

func checkHeader(header, required []string) error {
	present := make(map[string]bool, len(header))
	var dups []string
	for _, h := range header {
		if present[h] {
			dups = append(dups, h)
		}
		present[h] = true
	}
	if len(dups) > 0 {
		return eris.Errorf("duplicate columns: %s", strings.Join(dups, ", "))
	}

	var missing []string
	for _, c := range required {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// mapRow pairs each header with the corresponding value in the row. Missing
// trailing values become empty strings; surplus values are dropped.
func mapRow(header, row []string) Record {
	rec := make(Record, len(header))
	for i, h := range header {
		if i < len(row) {
			rec[h] = row[i]
		} else {
			rec[h] = ""
		}
	}
	return rec
}
