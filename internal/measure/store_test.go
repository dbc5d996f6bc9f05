package measure

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/stitch-cli/internal/table"
)

var heatCols = Columns{Date: "Date", Unit: "GEOID10", Values: []string{"HeatIndex"}}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpen_ScansYears(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2010.csv", "Date,GEOID10,HeatIndex\n2010-01-01,U1,40.0\n")
	writeFile(t, dir, "heat_2011.csv", "Date,GEOID10,HeatIndex\n2011-01-01,U1,41.0\n")
	writeFile(t, dir, "pm25_2012.csv", "Date,GEOID10,pm25\n2012-01-01,U1,9.0\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)
	assert.Equal(t, []int{2010, 2011}, s.Years())

	path, ok := s.File(2010)
	assert.True(t, ok)
	assert.Contains(t, path, "heat_2010.csv")
}

func TestOpen_SkipsUnsupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2010.csv", "Date,GEOID10,HeatIndex\n")
	writeFile(t, dir, "heat_2011.parquet", "not a table")
	writeFile(t, dir, "README.md", "docs")

	s, err := Open(dir, "", heatCols)
	require.NoError(t, err)
	assert.Equal(t, []int{2010}, s.Years())
}

func TestOpen_NoYearInFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_all.csv", "Date,GEOID10,HeatIndex\n")

	_, err := Open(dir, "heat", heatCols)
	require.Error(t, err)
	assert.True(t, table.IsConfigError(err))
	assert.Contains(t, err.Error(), "no 4-digit year")
}

func TestOpen_DuplicateYear(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2010.csv", "Date,GEOID10,HeatIndex\n")
	writeFile(t, dir, "heat_2010_v2.csv", "Date,GEOID10,HeatIndex\n")

	_, err := Open(dir, "heat", heatCols)
	require.Error(t, err)
	assert.True(t, table.IsConfigError(err))
	assert.Contains(t, err.Error(), "duplicate year 2010")
}

func TestOpen_ColumnMismatchAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2010.csv", "Date,GEOID10,HeatIndex\n")
	writeFile(t, dir, "heat_2011.csv", "Date,GEOID10,HeatIndex,Extra\n")

	_, err := Open(dir, "heat", heatCols)
	require.Error(t, err)
	assert.True(t, table.IsConfigError(err))
	assert.Contains(t, err.Error(), "column layout")
}

func TestOpen_MissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2010.csv", "Date,GEOID10,Tmax\n")

	_, err := Open(dir, "heat", heatCols)
	require.Error(t, err)
	assert.True(t, table.IsConfigError(err))
	assert.Contains(t, err.Error(), "HeatIndex")
}

func TestOpen_EmptyDirectory(t *testing.T) {
	_, err := Open(t.TempDir(), "heat", heatCols)
	require.Error(t, err)
	assert.True(t, table.IsConfigError(err))
}

func TestFetch_FiltersToRequestedKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2023.csv",
		"Date,GEOID10,HeatIndex\n"+
			"2023-03-02,U1,45.2\n"+
			"2023-02-17,U2,43.8\n"+
			"2023-01-30,U3,44.1\n"+
			"2023-01-30,U4,50.0\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)

	keys := map[Key]struct{}{
		{Date: "2023-03-02", Unit: "U1"}: {},
		{Date: "2023-02-17", Unit: "U2"}: {},
		{Date: "2023-02-17", Unit: "U9"}: {}, // absent: omitted, not an error
	}
	got, err := s.Fetch(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"45.2"}, got[Key{Date: "2023-03-02", Unit: "U1"}])
	assert.Equal(t, []string{"43.8"}, got[Key{Date: "2023-02-17", Unit: "U2"}])
}

func TestFetch_MissingYearIsUnmatched(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2023.csv", "Date,GEOID10,HeatIndex\n2023-03-02,U1,45.2\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)

	got, err := s.Fetch(context.Background(), map[Key]struct{}{
		{Date: "2022-03-02", Unit: "U1"}: {},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetch_CachesYearlyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "heat_2023.csv", "Date,GEOID10,HeatIndex\n2023-03-02,U1,45.2\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)

	key := Key{Date: "2023-03-02", Unit: "U1"}
	got, err := s.Fetch(context.Background(), map[Key]struct{}{key: {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"45.2"}, got[key])

	// Rewrite the file; the cached store must not reread it.
	require.NoError(t, os.WriteFile(path, []byte("Date,GEOID10,HeatIndex\n2023-03-02,U1,99.9\n"), 0o644))
	got, err = s.Fetch(context.Background(), map[Key]struct{}{key: {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"45.2"}, got[key])

	// A clone has an empty cache and sees the new contents.
	got, err = s.Clone().Fetch(context.Background(), map[Key]struct{}{key: {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"99.9"}, got[key])
}

func TestFetch_UnitFilterBoundsCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2023.csv",
		"Date,GEOID10,HeatIndex\n2023-03-02,U1,45.2\n2023-03-02,U2,43.8\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)
	s.SetUnitFilter(map[string]struct{}{"U1": {}})

	got, err := s.Fetch(context.Background(), map[Key]struct{}{
		{Date: "2023-03-02", Unit: "U1"}: {},
		{Date: "2023-03-02", Unit: "U2"}: {},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"45.2"}, got[Key{Date: "2023-03-02", Unit: "U1"}])
}

func TestFetch_MalformedDate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2023.csv", "Date,GEOID10,HeatIndex\nnot-a-date,U1,45.2\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), map[Key]struct{}{
		{Date: "2023-03-02", Unit: "U1"}: {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable date")
}

func TestFetch_DuplicateKeyInFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2023.csv",
		"Date,GEOID10,HeatIndex\n"+
			"2023-03-02,U1,45.2\n"+
			"2023-03-02,U1,99.9\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), map[Key]struct{}{
		{Date: "2023-03-02", Unit: "U1"}: {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate (date, unit) pair")
	assert.Contains(t, err.Error(), "2023-03-02")
	assert.Contains(t, err.Error(), "U1")
	assert.Contains(t, err.Error(), "heat_2023.csv")
}

func TestFetch_UnitWidthPadsFileCodes(t *testing.T) {
	dir := t.TempDir()
	// The unit column lost its leading zero in a numeric export.
	writeFile(t, dir, "heat_2023.csv", "Date,GEOID10,HeatIndex\n2023-03-02,1001020100,45.2\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)
	s.SetUnitWidth(11)

	key := Key{Date: "2023-03-02", Unit: "01001020100"}
	got, err := s.Fetch(context.Background(), map[Key]struct{}{key: {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"45.2"}, got[key])
}

func TestFetch_MultiValueColumns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wx_2023.csv",
		"Date,GEOID10,Tmax,Rmin\n2023-03-02,U1,30.5,0.4\n")

	s, err := Open(dir, "wx", Columns{Date: "Date", Unit: "GEOID10", Values: []string{"Tmax", "Rmin"}})
	require.NoError(t, err)

	got, err := s.Fetch(context.Background(), map[Key]struct{}{
		{Date: "2023-03-02", Unit: "U1"}: {},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"30.5", "0.4"}, got[Key{Date: "2023-03-02", Unit: "U1"}])
}

func TestLargestFileBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "heat_2010.csv", "Date,GEOID10,HeatIndex\n2010-01-01,U1,40.0\n")
	writeFile(t, dir, "heat_2011.csv", "Date,GEOID10,HeatIndex\n2011-01-01,U1,41.0\n2011-01-02,U1,42.0\n")

	s, err := Open(dir, "heat", heatCols)
	require.NoError(t, err)

	assert.Greater(t, s.LargestFileBytes(2010, 2011), s.LargestFileBytes(2010, 2010))
	assert.Equal(t, int64(0), s.LargestFileBytes(2000, 2005))
}

func TestNewKey(t *testing.T) {
	k := NewKey(time.Date(2023, time.March, 2, 0, 0, 0, 0, time.UTC), "U1")
	assert.Equal(t, Key{Date: "2023-03-02", Unit: "U1"}, k)
	assert.Equal(t, 2023, k.Year())
}

func TestNormalizeUnit(t *testing.T) {
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"1001020100", 11, "01001020100"},
		{"1001020100.0", 11, "01001020100"},
		{"01001020100", 11, "01001020100"},
		{" 1001020100 ", 11, "01001020100"},
		{"1001020100", 0, "1001020100"}, // disabled
		{"U1", 11, "U1"},                // non-numeric codes pass through
		{"2023.5", 11, "2023.5"},        // fractional values pass through
		{"", 11, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeUnit(tc.in, tc.width), tc.in)
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want string
	}{
		{"2023-03-02", true, "2023-03-02"},
		{" 2023-03-02 ", true, "2023-03-02"},
		{"3/2/2023", true, "2023-03-02"},
		{"2023-03-02 12:30:00", true, "2023-03-02"},
		{"not-a-date", false, ""},
		{"", false, ""},
	}
	for _, tc := range cases {
		got, ok := ParseDate(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got.Format("2006-01-02"), tc.in)
		}
	}
}
