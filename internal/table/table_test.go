package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColIndex(t *testing.T) {
	tbl := New("id", "date", "value")
	i, ok := tbl.ColIndex("date")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = tbl.ColIndex("missing")
	assert.False(t, ok)
}

func TestRequire_Missing(t *testing.T) {
	tbl := New("id", "date")
	err := tbl.Require("id", "value", "unit")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "value")
	assert.Contains(t, err.Error(), "unit")
}

func TestRequire_AllPresent(t *testing.T) {
	tbl := New("id", "date")
	assert.NoError(t, tbl.Require("id", "date"))
}

func TestCell_ShortRow(t *testing.T) {
	tbl := New("a", "b", "c")
	tbl.Append([]string{"1", "2"})
	assert.Equal(t, "2", tbl.Cell(0, 1))
	assert.Equal(t, "", tbl.Cell(0, 2))
}

func TestColumn(t *testing.T) {
	tbl := New("id", "v")
	tbl.Append([]string{"1", "a"})
	tbl.Append([]string{"2", "b"})

	vals, err := tbl.Column("v")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, vals)

	_, err = tbl.Column("nope")
	assert.True(t, IsConfigError(err))
}

func TestAppendColumns(t *testing.T) {
	tbl := New("id")
	tbl.Append([]string{"1"})
	tbl.Append([]string{"2"})

	err := tbl.AppendColumns([]string{"x", "y"}, [][]string{{"a", "b"}, {"c", "d"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "x", "y"}, tbl.Cols)
	assert.Equal(t, []string{"1", "a", "c"}, tbl.Rows[0])
	assert.Equal(t, []string{"2", "b", "d"}, tbl.Rows[1])

	// Index rebuilt after widening.
	i, ok := tbl.ColIndex("y")
	assert.True(t, ok)
	assert.Equal(t, 2, i)
}

func TestAppendColumns_LengthMismatch(t *testing.T) {
	tbl := New("id")
	tbl.Append([]string{"1"})
	err := tbl.AppendColumns([]string{"x"}, [][]string{{"a", "b"}})
	assert.Error(t, err)
}

func TestSupportedExt(t *testing.T) {
	assert.True(t, SupportedExt("heat_2010.csv"))
	assert.True(t, SupportedExt("heat_2010.xlsx"))
	assert.True(t, SupportedExt("lag_0001.db"))
	assert.True(t, SupportedExt("data.sqlite"))
	assert.True(t, SupportedExt("data.TSV"))
	assert.False(t, SupportedExt("heat_2010.parquet"))
	assert.False(t, SupportedExt("readme.txt"))
}

func TestCSVRoundTrip(t *testing.T) {
	tbl := New("id", "Date", "HeatIndex")
	tbl.Append([]string{"1", "2023-03-02", "45.2"})
	tbl.Append([]string{"2", "2023-02-17", ""})

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, Save(tbl, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Cols, got.Cols)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestTSVRoundTrip(t *testing.T) {
	tbl := New("a", "b")
	tbl.Append([]string{"with,comma", "2"})

	path := filepath.Join(t.TempDir(), "out.tsv")
	require.NoError(t, Save(tbl, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "with,comma", got.Cell(0, 0))
}

func TestSQLiteRoundTrip(t *testing.T) {
	tbl := New("id", "value")
	tbl.Append([]string{"1", "45.2"})
	tbl.Append([]string{"2", ""}) // unmatched marker survives as NULL -> ""

	path := filepath.Join(t.TempDir(), "out.db")
	require.NoError(t, Save(tbl, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Cols, got.Cols)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestXLSXRoundTrip(t *testing.T) {
	tbl := New("id", "value")
	tbl.Append([]string{"1", "hello"})

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Save(tbl, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Cols, got.Cols)
	assert.Equal(t, "hello", got.Cell(0, 1))
}

func TestHeader(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "h.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Date,GEOID10,HeatIndex\n2010-01-01,01001020100,45.2\n"), 0o644))
	header, err := Header(csvPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "GEOID10", "HeatIndex"}, header)

	dbPath := filepath.Join(dir, "h.db")
	tbl := New("id", "v")
	tbl.Append([]string{"1", "2"})
	require.NoError(t, Save(tbl, dbPath))
	header, err = Header(dbPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "v"}, header)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load("data.parquet")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}
