// Package ledger is the append-only record store for issued IDs.
//
// The backing spreadsheet is the database: staff can open it directly in a
// spreadsheet tool. There is no index and no cache; every read is a full
// scan of the file. Appends are serialized within the process and committed
// by writing a temporary file and renaming it over the target, so a reader
// sees either the previous or the new workbook, never a partial one.
// Two processes appending to the same file still race (last writer wins).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"boacid/internal/record"
)

// SheetName is the title of the sheet created for a new ledger.
const SheetName = "ID Records"

var (
	// ErrCorrupt is returned when the backing file exists but cannot be read
	// as a workbook.
	ErrCorrupt = errors.New("ledger: backing file is corrupt or unreadable")
	// ErrHeaderMismatch is returned when the first row is not the fixed header.
	ErrHeaderMismatch = errors.New("ledger: header row does not match the record layout")
)

// Ledger persists records in a single spreadsheet file.
type Ledger struct {
	path string
	now  func() time.Time
	log  zerolog.Logger

	mu sync.Mutex // serializes Append
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to stamp DateGenerated.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a ledger backed by the file at path. The file is not touched
// until the first Append.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path: path,
		now:  time.Now,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Append stamps DateGenerated and appends the record as one row. The
// backing file is created with its header row on first use. The stored
// record is returned.
func (l *Ledger) Append(ctx context.Context, rec record.Record) (record.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}

	if err := l.ensureInitialized(); err != nil {
		return record.Record{}, err
	}

	f, err := l.open()
	if err != nil {
		return record.Record{}, err
	}
	defer f.Close()

	sheet := activeSheet(f)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rows) == 0 {
		if err := writeHeader(f, sheet); err != nil {
			return record.Record{}, err
		}
		rows = [][]string{record.Headers}
	} else if !headerMatches(rows[0]) {
		return record.Record{}, ErrHeaderMismatch
	}

	rec.DateGenerated = l.now().Format(record.DateLayout)
	if err := setRow(f, sheet, len(rows)+1, rec.Row()); err != nil {
		return record.Record{}, err
	}
	if err := l.commit(f); err != nil {
		return record.Record{}, err
	}

	l.log.Debug().
		Str("id_number", rec.IDNumber).
		Int("row", len(rows)+1).
		Msg("ledger row appended")
	return rec, nil
}

// List returns every record in file order, oldest first. A missing backing
// file yields an empty slice.
func (l *Ledger) List(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return []record.Record{}, nil
	}

	f, err := l.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(activeSheet(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rows) == 0 {
		return []record.Record{}, nil
	}
	if !headerMatches(rows[0]) {
		return nil, ErrHeaderMismatch
	}

	records := make([]record.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		records = append(records, record.FromRow(row))
	}
	return records, nil
}

// FindByIDOrLatest returns the first record whose ID number equals id, or
// the most recently appended record when id is empty or matches nothing.
// It returns nil, nil only when the ledger holds no records.
func (l *Ledger) FindByIDOrLatest(ctx context.Context, id string) (*record.Record, error) {
	records, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	return record.SelectOrLatest(records, id), nil
}

// Count returns the number of stored records.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	records, err := l.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// ensureInitialized creates the backing file with a bold header row when it
// does not exist yet. It is a no-op otherwise. Callers must hold l.mu.
func (l *Ledger) ensureInitialized() error {
	_, err := os.Stat(l.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ledger: stat %s: %w", l.path, err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ledger: create dir: %w", err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("ledger: name sheet: %w", err)
	}
	if err := writeHeader(f, SheetName); err != nil {
		return err
	}
	if err := l.commit(f); err != nil {
		return err
	}
	l.log.Info().Str("path", l.path).Msg("ledger created")
	return nil
}

func (l *Ledger) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ledger: open %s: %w", l.path, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return f, nil
}

// commit writes the workbook to a temp file next to the target and renames
// it into place.
func (l *Ledger) commit(f *excelize.File) error {
	dir, name := filepath.Split(l.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ledger: write workbook: %w", err)
	}
	if err := tmp.Chmod(l.fileMode()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ledger: chmod workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ledger: sync workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close workbook: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("ledger: replace %s: %w", l.path, err)
	}
	renamed = true
	return nil
}

// fileMode keeps the permissions of the existing file; a new ledger is 0644.
func (l *Ledger) fileMode() fs.FileMode {
	if fi, err := os.Stat(l.path); err == nil {
		return fi.Mode().Perm()
	}
	return 0o644
}

func writeHeader(f *excelize.File, sheet string) error {
	if err := setRow(f, sheet, 1, record.Headers); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "004422"},
	})
	if err != nil {
		return fmt.Errorf("ledger: header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(record.Headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("ledger: header style: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("ledger: write row %d: %w", row, err)
	}
	return nil
}

func activeSheet(f *excelize.File) string {
	return f.GetSheetName(f.GetActiveSheetIndex())
}

func headerMatches(row []string) bool {
	if len(row) < len(record.Headers) {
		return false
	}
	for i, h := range record.Headers {
		if row[i] != h {
			return false
		}
	}
	return true
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
