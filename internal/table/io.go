package table

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// SupportedExt reports whether the file extension maps to a known codec.
func SupportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".xlsx", ".db", ".sqlite":
		return true
	default:
		return false
	}
}

// Load reads a whole table from path, dispatching on the extension.
func Load(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path, ',')
	case ".tsv":
		return loadCSV(path, '\t')
	case ".xlsx":
		return loadXLSX(path)
	case ".db", ".sqlite":
		return loadSQLite(path)
	default:
		return nil, eris.Errorf("table: unsupported file extension: %s", path)
	}
}

// Save writes a whole table to path, dispatching on the extension.
func Save(t *Table, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return saveCSV(t, path, ',')
	case ".tsv":
		return saveCSV(t, path, '\t')
	case ".xlsx":
		return saveXLSX(t, path)
	case ".db", ".sqlite":
		return saveSQLite(t, path)
	default:
		return eris.Errorf("table: unsupported file extension: %s", path)
	}
}

// Header reads only the column names of the table at path. Cheap for
// delimited files and database containers; XLSX still opens the file.
func Header(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return headerCSV(path, ',')
	case ".tsv":
		return headerCSV(path, '\t')
	case ".xlsx":
		return headerXLSX(path)
	case ".db", ".sqlite":
		return headerSQLite(path)
	default:
		return nil, eris.Errorf("table: unsupported file extension: %s", path)
	}
}
