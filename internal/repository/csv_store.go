package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pesio-ai/be-ap-threeway/internal/errors"
)

// CSVStore keeps claims in a single flat CSV file with a header row.
// Every operation is a full read-modify-write under one mutex.
type CSVStore struct {
	path       string
	discipline Discipline
	opts       options
	mu         sync.Mutex
}

// NewCSVStore creates a store over the file at path
func NewCSVStore(path string, discipline Discipline, opts ...Option) *CSVStore {
	return &CSVStore{
		path:       path,
		discipline: discipline,
		opts:       buildOptions(opts),
	}
}

// Discipline returns the configured persistence discipline
func (s *CSVStore) Discipline() Discipline {
	return s.discipline
}

// Path returns the backing file path
func (s *CSVStore) Path() string {
	return s.path
}

// EnsureInitialized creates the directory and an empty file with the
// canonical header when the file does not exist yet.
func (s *CSVStore) EnsureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureLocked()
}

func (s *CSVStore) ensureLocked() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to stat claim file")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create data directory")
		}
	}

	return s.writeAll(Columns, nil)
}

// Put writes a claim version
func (s *CSVStore) Put(ctx context.Context, claim *Claim) error {
	if strings.TrimSpace(claim.ClaimNumber) == "" {
		return ErrEmptyClaimNumber
	}
	if err := checkMoney(claim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(); err != nil {
		return err
	}

	header, rows, err := s.readAll()
	if err != nil {
		return err
	}

	claim.UpdatedAt = s.opts.stamp()
	row := orderCells(header, encodeClaim(claim))

	if s.discipline == DisciplineUpsert {
		kept := rows[:0]
		keyIdx := indexOf(header, colClaimNumber)
		for _, r := range rows {
			if cell(r, keyIdx) != claim.ClaimNumber {
				kept = append(kept, r)
			}
		}
		return s.writeAll(header, append(kept, row))
	}

	return s.appendRow(row)
}

// GetLatest returns the newest version of a claim
func (s *CSVStore) GetLatest(ctx context.Context, claimNumber string) (*Claim, error) {
	claims, err := s.loadClaims()
	if err != nil {
		return nil, err
	}

	latest := latestOf(claims, claimNumber)
	if latest == nil {
		return nil, errors.NotFound("claim", claimNumber)
	}
	return latest, nil
}

// List returns claims visible to the filter's audience, newest first
func (s *CSVStore) List(ctx context.Context, filter ListFilter) ([]*Claim, error) {
	claims, err := s.loadClaims()
	if err != nil {
		return nil, err
	}
	return filterClaims(claims, filter), nil
}

// DistinctKeys returns the sorted set of claim numbers
func (s *CSVStore) DistinctKeys(ctx context.Context) ([]string, error) {
	claims, err := s.loadClaims()
	if err != nil {
		return nil, err
	}
	return distinctKeys(claims), nil
}

// Migrate rewrites a file with an older or legacy header under the
// canonical header. Renamed legacy columns keep their data; columns the
// file never had are filled by upgradeLegacyCells or left empty.
func (s *CSVStore) Migrate(ctx context.Context) (*MigrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if os.IsNotExist(err) {
		return &MigrationResult{}, s.ensureLocked()
	}
	if err != nil {
		return nil, err
	}

	var header []string
	if len(records) > 0 {
		header = records[0]
	}

	canonical := make([]string, len(header))
	for i, h := range header {
		canonical[i] = canonicalName(h)
	}

	added := missingColumns(canonical)
	if len(added) == 0 && equalHeaders(header, canonical) {
		return &MigrationResult{}, nil
	}

	out := make([][]string, 0, len(records))
	for _, rec := range records[min(1, len(records)):] {
		cells := make(map[string]string, len(Columns))
		for i, name := range canonical {
			if i < len(rec) {
				cells[name] = rec[i]
			}
		}
		upgradeLegacyCells(cells)
		if _, err := decodeClaim(cells); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal,
				fmt.Sprintf("cannot migrate row %d", len(out)+2))
		}
		out = append(out, orderCells(Columns, cells))
	}

	if err := s.writeAll(Columns, out); err != nil {
		return nil, err
	}

	return &MigrationResult{RowsMigrated: len(out), ColumnsAdded: added}, nil
}

func (s *CSVStore) loadClaims() ([]*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header, rows, err := s.readAll()
	if err != nil {
		return nil, err
	}

	claims := make([]*Claim, 0, len(rows))
	for i, r := range rows {
		cells := make(map[string]string, len(header))
		for j, h := range header {
			cells[h] = cell(r, j)
		}
		c, err := decodeClaim(cells)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("corrupt claim row %d", i+2))
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// readAll returns the header and data rows. A missing file reads as an
// empty store; a header lacking canonical columns is ErrSchemaOutdated.
func (s *CSVStore) readAll() ([]string, [][]string, error) {
	records, err := s.readRecords()
	if os.IsNotExist(err) {
		return Columns, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	if len(records) == 0 {
		return nil, nil, errors.Wrap(ErrSchemaOutdated, errors.ErrCodeConflict, "claim file has no header")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, nil, errors.Wrap(ErrSchemaOutdated, errors.ErrCodeConflict,
			"missing columns: "+strings.Join(missing, ", "))
	}

	return header, records[1:], nil
}

func (s *CSVStore) readRecords() ([][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open claim file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse claim file")
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *CSVStore) appendRow(row []string) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to open claim file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append claim")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append claim")
	}

	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to close claim file")
	}
	return nil
}

// writeAll replaces the file atomically through a temp file and rename
func (s *CSVStore) writeAll(header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create temp claim file")
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write claim header")
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write claims")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to close temp claim file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace claim file")
	}
	return nil
}

// orderCells lays out cells in header order
func orderCells(header []string, cells map[string]string) []string {
	row := make([]string, len(header))
	for i, h := range header {
		row[i] = cells[h]
	}
	return row
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func equalHeaders(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != b[i] {
			return false
		}
	}
	return true
}
