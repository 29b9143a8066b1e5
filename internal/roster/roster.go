// Package roster handles the file exchange with the HR system: locating and
// parsing the daily active-employee CSV, archiving processed files, and
// writing export files.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// ArchivedDir receives processed roster files.
	ArchivedDir = "archived"
	// SkippedDir receives roster files set aside by a gate failure.
	SkippedDir = "skipped"

	importDateLayout = "20060102"
	exportTimeLayout = "20060102_1504"
)

var (
	ErrNoHeader     = errors.New("roster file has no header row")
	ErrNoUserColumn = errors.New("roster file has no UserID column")
)

// Dirs locates the import and export directories of the exchange.
type Dirs struct {
	ImportDir string
	ExportDir string
}

// ImportFileName returns the roster file name the HR system uses for a date.
func ImportFileName(date time.Time) string {
	return fmt.Sprintf("active_users_%s.csv", date.Format(importDateLayout))
}

// ExportFileName returns the export file name for a moment in time.
func ExportFileName(now time.Time) string {
	return fmt.Sprintf("export_%s.csv", now.Format(exportTimeLayout))
}

// IsExportEmpty reports whether the HR system has collected every outbound
// file. A missing export directory counts as empty.
func (d Dirs) IsExportEmpty() (bool, error) {
	entries, err := os.ReadDir(d.ExportDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, fmt.Errorf("failed to read export dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			return false, nil
		}
	}

	return true, nil
}

// FindImportFile returns the path of the roster file for the given date, or
// ok=false when the HR system hasn't delivered one.
func (d Dirs) FindImportFile(date time.Time) (string, bool, error) {
	path := filepath.Join(d.ImportDir, ImportFileName(date))

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("failed to stat roster file: %w", err)
	}

	return path, true, nil
}

// ParseFile reads a roster file and returns the user ids it lists. The
// delimiter is sniffed from the header line (';' or ','), and the UserID
// column may appear at any position. Rows with a malformed id are skipped.
func ParseFile(path string) ([]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	// Sniff the delimiter from the header line.
	firstLine, _, _ := strings.Cut(string(raw), "\n")

	delimiter := ','
	if strings.Contains(firstLine, ";") {
		delimiter = ';'
	}

	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster file: %w", err)
	}

	if len(records) == 0 {
		return nil, ErrNoHeader
	}

	idColumn := -1

	for i, name := range records[0] {
		if strings.EqualFold(strings.TrimSpace(name), "UserID") {
			idColumn = i
			break
		}
	}

	if idColumn == -1 {
		return nil, ErrNoUserColumn
	}

	ids := make([]int64, 0, len(records)-1)

	for _, record := range records[1:] {
		if idColumn >= len(record) {
			continue
		}

		id, err := strconv.ParseInt(strings.TrimSpace(record[idColumn]), 10, 64)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// Archive moves a processed roster file into the archived subdirectory and
// returns its new path.
func (d Dirs) Archive(path string) (string, error) {
	return d.moveTo(path, ArchivedDir)
}

// Skip moves a roster file set aside by a gate failure into the skipped
// subdirectory and returns its new path.
func (d Dirs) Skip(path string) (string, error) {
	return d.moveTo(path, SkippedDir)
}

func (d Dirs) moveTo(path, subdir string) (string, error) {
	dir := filepath.Join(d.ImportDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s dir: %w", subdir, err)
	}

	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move roster file to %s: %w", subdir, err)
	}

	return dest, nil
}

// NewestArchived returns the most recent archived roster file by its embedded
// date, or ok=false when nothing has been archived yet.
func (d Dirs) NewestArchived() (string, bool, error) {
	dir := filepath.Join(d.ImportDir, ArchivedDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("failed to read archive dir: %w", err)
	}

	var names []string

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "active_users_") && strings.HasSuffix(name, ".csv") {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return "", false, nil
	}

	// The date is zero-padded, so lexical order is chronological order.
	sort.Strings(names)

	return filepath.Join(dir, names[len(names)-1]), true, nil
}

// ArchivedFile returns the archived path for a roster file name.
func (d Dirs) ArchivedFile(name string) string {
	return filepath.Join(d.ImportDir, ArchivedDir, name)
}

// Delta returns how many ids were added and removed between two rosters.
func Delta(current, previous []int64) (added, removed int) {
	curr := make(map[int64]struct{}, len(current))
	for _, id := range current {
		curr[id] = struct{}{}
	}

	prev := make(map[int64]struct{}, len(previous))
	for _, id := range previous {
		prev[id] = struct{}{}
	}

	for id := range curr {
		if _, ok := prev[id]; !ok {
			added++
		}
	}

	for id := range prev {
		if _, ok := curr[id]; !ok {
			removed++
		}
	}

	return added, removed
}

// ExportRow is one line of an export file.
type ExportRow struct {
	UserID int64
	Email  string
}

// WriteExport writes an export file with a UserID;Email header and returns
// its full path.
func (d Dirs) WriteExport(name string, rows []ExportRow) (string, error) {
	if err := os.MkdirAll(d.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	path := filepath.Join(d.ExportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	writer.Comma = ';'

	if err := writer.Write([]string{"UserID", "Email"}); err != nil {
		return "", fmt.Errorf("failed to write export header: %w", err)
	}

	for _, row := range rows {
		record := []string{strconv.FormatInt(row.UserID, 10), row.Email}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("failed to write export row: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export file: %w", err)
	}

	return path, nil
}
