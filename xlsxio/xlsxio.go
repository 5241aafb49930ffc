// Package xlsxio reads and writes .xlsx workbooks for the sheet store.
// Imported sheets arrive with fresh ids, empty rule sets and no access
// codes; exported sheets keep column order and raw cell text untouched, so
// leading zeros and comma decimals survive the round trip.
package xlsxio

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"gradesheet-server/sheet"
)

// Import opens a workbook file and returns one Sheet per contained
// worksheet.
func Import(path string) ([]*sheet.Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("abrir arquivo: %w", err)
	}
	defer f.Close()
	return sheetsFrom(f)
}

// ImportReader is Import for an uploaded workbook stream.
func ImportReader(r io.Reader) ([]*sheet.Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("abrir arquivo: %w", err)
	}
	defer f.Close()
	return sheetsFrom(f)
}

func sheetsFrom(f *excelize.File) ([]*sheet.Sheet, error) {
	var out []*sheet.Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("ler aba %q: %w", name, err)
		}
		s := sheet.New(name)
		s.Data = make([][]sheet.Value, len(rows))
		for i, row := range rows {
			s.Data[i] = make([]sheet.Value, len(row))
			for j, cell := range row {
				if cell == "" {
					s.Data[i][j] = sheet.Empty()
				} else {
					// Cell text is kept verbatim as a string; numeric
					// interpretation happens at rule-evaluation time.
					s.Data[i][j] = sheet.Str(cell)
				}
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Export writes the given sheets into one workbook file, a worksheet per
// sheet.
func Export(path string, sheets []*sheet.Sheet) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// ExportWriter is Export for a download stream.
func ExportWriter(w io.Writer, sheets []*sheet.Sheet) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

func buildWorkbook(sheets []*sheet.Sheet) (*excelize.File, error) {
	f := excelize.NewFile()

	seen := make(map[string]bool)
	for i, s := range sheets {
		name := worksheetName(s.Name, i, seen)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return nil, err
			}
		}
		for r, row := range s.Data {
			for c, v := range row {
				if v.IsEmpty() {
					continue
				}
				cellName, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				// SetCellStr keeps the literal text: no numeric
				// reformatting, no lost leading zeros.
				if err := f.SetCellStr(name, cellName, v.String()); err != nil {
					return nil, err
				}
			}
		}
	}
	return f, nil
}

// worksheetName sanitizes a sheet name into a unique, excelize-acceptable
// worksheet title.
func worksheetName(name string, i int, seen map[string]bool) string {
	if name == "" {
		name = "Planilha " + strconv.Itoa(i+1)
	}
	runes := []rune(name)
	if len(runes) > 31 {
		name = string(runes[:31])
	}
	base := []rune(name)
	for n := 2; seen[name]; n++ {
		suffix := " (" + strconv.Itoa(n) + ")"
		trimmed := base
		if len(trimmed)+len(suffix) > 31 {
			trimmed = trimmed[:31-len(suffix)]
		}
		name = string(trimmed) + suffix
	}
	seen[name] = true
	return name
}
