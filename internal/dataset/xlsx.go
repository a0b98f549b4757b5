package dataset

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "ag_data"

// WriteXLSX writes d to a single-sheet workbook. Numeric cells are stored
// as numbers, nulls as empty cells.
func WriteXLSX(path string, d *Dataset, opts WriteOptions) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "dataset: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range d.Header(opts) {
		header.AddCell().SetString(h)
	}

	for _, k := range d.keys {
		row := sheet.AddRow()
		row.AddCell().SetString(k.Region)
		row.AddCell().SetString(k.County)
		row.AddCell().SetInt(k.Year)
		for _, c := range d.columns {
			cell := d.rows[k][c]
			xc := row.AddCell()
			if cell.Valid {
				xc.SetFloat(cell.Value)
			}
			if opts.Provenance {
				fc := row.AddCell()
				if cell.Valid {
					fc.SetBool(cell.Reconstructed)
				}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "dataset: create dir for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "dataset: save %s", path)
	}
	return nil
}
