package table

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

func loadCSV(path string, delim rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delim
	reader.FieldsPerRecord = -1 // allow ragged rows; Cell pads short ones

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Errorf("csv: empty file: %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "csv: read header of %s", path)
	}

	t := New(header...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row of %s", path)
		}
		t.Append(record)
	}
	return t, nil
}

func saveCSV(t *Table, path string, delim rune) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "csv: create")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = delim

	if err := w.Write(t.Cols); err != nil {
		return eris.Wrapf(err, "csv: write header of %s", path)
	}
	row := make([]string, len(t.Cols))
	for r := range t.Rows {
		for c := range t.Cols {
			row[c] = t.Cell(r, c)
		}
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "csv: write row of %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "csv: flush %s", path)
	}
	return nil
}

func headerCSV(path string, delim rune) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delim
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "csv: read header of %s", path)
	}
	return header, nil
}
