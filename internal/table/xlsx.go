package table

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

func loadXLSX(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("xlsx: no sheets in %s", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("xlsx: empty sheet in %s", path)
	}

	t := New(rowToStrings(sheet.Rows[0])...)
	for _, row := range sheet.Rows[1:] {
		t.Append(rowToStrings(row))
	}
	return t, nil
}

func saveXLSX(t *Table, path string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("data")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range t.Cols {
		header.AddCell().SetString(c)
	}
	for r := range t.Rows {
		row := sheet.AddRow()
		for c := range t.Cols {
			row.AddCell().SetString(t.Cell(r, c))
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func headerXLSX(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}
	if len(f.Sheets) == 0 || len(f.Sheets[0].Rows) == 0 {
		return nil, eris.Errorf("xlsx: no header row in %s", path)
	}
	return rowToStrings(f.Sheets[0].Rows[0]), nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
