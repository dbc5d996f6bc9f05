package table

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLite containers hold one table named "data". Load falls back to the
// first user table so hand-built databases also work. NULL cells load as
// "" and "" cells save as NULL, which is how the unmatched marker
// round-trips through artifacts.

const sqliteTable = "data"

func loadSQLite(path string) (*Table, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open %s", path)
	}
	defer db.Close()

	name, err := firstUserTable(db, path)
	if err != nil {
		return nil, err
	}

	cols, err := tableColumns(db, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: columns of %s in %s", name, path)
	}

	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s", quoteCols(cols), quoteIdent(name))) //nolint:gosec // idents quoted
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: select from %s", path)
	}
	defer rows.Close()

	t := New(cols...)
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan row of %s", path)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		t.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate %s", path)
	}
	return t, nil
}

func saveSQLite(t *Table, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrapf(err, "sqlite: open %s", path)
	}
	defer db.Close()

	colDefs := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		colDefs[i] = quoteIdent(c) + " TEXT"
	}
	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(sqliteTable)),
		fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(sqliteTable), strings.Join(colDefs, ", ")),
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return eris.Wrapf(err, "sqlite: exec %s", s)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Cols)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(sqliteTable), quoteCols(t.Cols), placeholders))
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	args := make([]any, len(t.Cols))
	for r := range t.Rows {
		for c := range t.Cols {
			if v := t.Cell(r, c); v != "" {
				args[c] = v
			} else {
				args[c] = nil
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert row into %s", path)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit %s", path)
	}
	return nil
}

func headerSQLite(path string) ([]string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open %s", path)
	}
	defer db.Close()

	name, err := firstUserTable(db, path)
	if err != nil {
		return nil, err
	}
	cols, err := tableColumns(db, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: columns of %s in %s", name, path)
	}
	return cols, nil
}

func firstUserTable(db *sql.DB, path string) (string, error) {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name = ? DESC, rowid LIMIT 1`,
		sqliteTable,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", eris.Errorf("sqlite: no tables in %s", path)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: list tables of %s", path)
	}
	return name, nil
}

func tableColumns(db *sql.DB, name string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			colName string
			colType sql.NullString
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, colName)
	}
	return cols, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteCols(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
