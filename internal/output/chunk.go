// Package output buffers merged estimate rows and writes them to numbered CSV
// chunk files.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultChunkSize is the number of rows written per chunk file.
const DefaultChunkSize = 10000

// Row is one merged output row: the input record's fields plus the ranked
// candidate columns, and the number of ranks it carries.
type Row struct {
	Values map[string]string
	Ranks  int
}

// ChunkWriter accumulates rows and flushes them to "<base>-<suffix>.csv"
// files. It is not safe for concurrent use.
type ChunkWriter struct {
	base         string
	chunkSize    int
	inputColumns []string

	rows      []Row
	next      int
	lastIndex int
	files     []string
}

// NewChunkWriter creates a writer for the given output base path. A trailing
// ".csv" on base is dropped so suffixes land before the extension.
func NewChunkWriter(base string, chunkSize int, inputColumns []string) (*ChunkWriter, error) {
	if chunkSize < 1 {
		return nil, eris.Errorf("output: chunk size must be at least 1, got %d", chunkSize)
	}
	if strings.TrimSpace(base) == "" {
		return nil, eris.New("output: base path is required")
	}
	return &ChunkWriter{
		base:         strings.TrimSuffix(base, ".csv"),
		chunkSize:    chunkSize,
		inputColumns: inputColumns,
		rows:         make([]Row, 0, min(chunkSize, 1024)),
		lastIndex:    -1,
	}, nil
}

// Push appends the row produced for input index i of total and flushes when
// a chunk boundary or the final row is reached. Rows must be pushed in index
// order. It returns the path of the file written, or "" if nothing was
// flushed. Index 0 is a boundary like any other, so a chunk size of 1
// writes one row per file starting with suffix 0.
func (w *ChunkWriter) Push(row Row, i, total int) (string, error) {
	if i != w.next {
		return "", eris.Errorf("output: row %d pushed out of order, expected %d", i, w.next)
	}
	w.rows = append(w.rows, row)
	w.next++
	w.lastIndex = i

	switch {
	case (i+1)%w.chunkSize == 0:
		return w.Flush(i / w.chunkSize)
	case i == total-1:
		return w.Flush(ceilDiv(i, w.chunkSize))
	}
	return "", nil
}

// FlushRemaining writes any buffered rows using the trailing-chunk suffix of
// the last pushed index. It is used when a run stops early.
func (w *ChunkWriter) FlushRemaining() (string, error) {
	if len(w.rows) == 0 {
		return "", nil
	}
	return w.Flush(ceilDiv(w.lastIndex, w.chunkSize))
}

// Flush writes the buffered rows to the chunk file with the given suffix and
// clears the buffer. Every chunk carries its own header, padded to the widest
// row in the chunk.
func (w *ChunkWriter) Flush(suffix int) (string, error) {
	path := w.ChunkPath(suffix)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", eris.Wrapf(err, "output: create dir %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "output: create %s", path)
	}

	if err := w.writeChunk(f); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "output: close %s", path)
	}

	w.files = append(w.files, path)
	w.rows = w.rows[:0]
	return path, nil
}

// ChunkPath returns the file path for the given suffix.
func (w *ChunkWriter) ChunkPath(suffix int) string {
	return fmt.Sprintf("%s-%d.csv", w.base, suffix)
}

// Files returns the paths written so far, in write order.
func (w *ChunkWriter) Files() []string {
	return append([]string(nil), w.files...)
}

// Buffered returns the number of rows waiting to be flushed.
func (w *ChunkWriter) Buffered() int {
	return len(w.rows)
}

func (w *ChunkWriter) writeChunk(f *os.File) error {
	ranks := 0
	for _, r := range w.rows {
		ranks = max(ranks, r.Ranks)
	}
	header := Header(w.inputColumns, ranks)

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "output: write header")
	}

	record := make([]string, len(header))
	for _, r := range w.rows {
		for i, col := range header {
			record[i] = r.Values[col]
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "output: write row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "output: flush")
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
