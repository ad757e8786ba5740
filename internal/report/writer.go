// Package report writes CSV reports that appear at their destination only
// once every row has been written.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/isometry/adaliases/internal/logging"
)

// ErrClosed is returned by writes after Commit or Abort.
var ErrClosed = errors.New("report already committed or aborted")

// Writer streams CSV records into a temp file next to the destination and
// renames it into place on Commit.
type Writer struct {
	path   string
	tmp    *os.File
	csv    *csv.Writer
	rows   int
	closed bool
	log    logging.Logger
}

// Create opens a temp file in the directory of path. Nothing is written to
// path itself until Commit.
func Create(path string, logger logging.Logger) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("report path is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create report %s: %w", path, err)
	}

	cw := csv.NewWriter(tmp)
	cw.UseCRLF = true

	w := &Writer{
		path: path,
		tmp:  tmp,
		csv:  cw,
		log:  logger,
	}

	logger.Trace("Opened report", map[string]any{
		"path":      path,
		"temp_file": tmp.Name(),
	})
	return w, nil
}

// Path returns the destination path.
func (w *Writer) Path() string {
	return w.path
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int {
	return w.rows
}

// WriteHeader writes the column names. It does not count as a row.
func (w *Writer) WriteHeader(columns ...string) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.csv.Write(columns); err != nil {
		return fmt.Errorf("write header to %s: %w", w.path, err)
	}
	return nil
}

// WriteRow writes one record.
func (w *Writer) WriteRow(fields ...string) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.csv.Write(fields); err != nil {
		return fmt.Errorf("write row %d to %s: %w", w.rows+1, w.path, err)
	}
	w.rows++
	return nil
}

// Commit flushes and syncs the temp file and renames it over the
// destination. On failure the temp file is removed and the destination is
// left as it was.
func (w *Writer) Commit() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	tmpName := w.tmp.Name()
	fail := func(step string, err error) error {
		_ = w.tmp.Close()
		_ = os.Remove(tmpName)
		w.log.Error("Failed to commit report", map[string]any{
			"path":  w.path,
			"step":  step,
			"error": err.Error(),
		})
		return fmt.Errorf("commit report %s: %s: %w", w.path, step, err)
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fail("flush", err)
	}
	if err := w.tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := w.tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Chmod(tmpName, destinationMode(w.path)); err != nil {
		return fail("chmod", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fail("rename", err)
	}

	w.log.Debug("Committed report", map[string]any{
		"path": w.path,
		"rows": w.rows,
	})
	return nil
}

// destinationMode keeps the permissions of an existing report.
func destinationMode(path string) os.FileMode {
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		return fi.Mode().Perm()
	}
	return 0o644
}

// Abort discards everything written. It is safe to call after Commit, in
// which case it does nothing.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	tmpName := w.tmp.Name()
	closeErr := w.tmp.Close()
	if err := os.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp report %s: %w", tmpName, err)
	}

	w.log.Debug("Aborted report", map[string]any{
		"path": w.path,
		"rows": w.rows,
	})
	return closeErr
}
