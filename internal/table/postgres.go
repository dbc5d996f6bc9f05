package table

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used for bulk loading. Satisfied by
// pgxmock in tests.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyTable bulk-inserts a table into Postgres using the COPY protocol.
// Empty cells are written as NULL.
func CopyTable(ctx context.Context, pool Pool, schema, name string, t *Table) (int64, error) {
	if t.Len() == 0 {
		return 0, nil
	}

	rows := make([][]any, t.Len())
	for r := range t.Rows {
		row := make([]any, len(t.Cols))
		for c := range t.Cols {
			if v := t.Cell(r, c); v != "" {
				row[c] = v
			}
		}
		rows[r] = row
	}

	ident := pgx.Identifier{name}
	if schema != "" {
		ident = pgx.Identifier{schema, name}
	}

	n, err := pool.CopyFrom(ctx, ident, t.Cols, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "table: COPY INTO %s", name)
	}
	return n, nil
}
