package xlsxio

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"gradesheet-server/sheet"
)

func TestImport(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", "Turma A")
	f.SetCellStr("Turma A", "A1", "Nome")
	f.SetCellStr("Turma A", "B1", "Nota 1")
	f.SetCellStr("Turma A", "A2", "Ana")
	f.SetCellStr("Turma A", "B2", "7,5")
	f.NewSheet("Turma B")
	f.SetCellStr("Turma B", "A1", "Nome")

	path := filepath.Join(t.TempDir(), "notas.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	sheets, err := Import(path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(sheets) != 2 {
		t.Fatalf("sheets = %d, want 2", len(sheets))
	}
	s := sheets[0]
	if s.Name != "Turma A" {
		t.Errorf("name = %q", s.Name)
	}
	if s.ID == "" || s.ID == sheets[1].ID {
		t.Error("imported sheets need fresh distinct ids")
	}
	if s.HasCodes() || len(s.ConditionalFormats) != 0 || len(s.ValidationRules) != 0 {
		t.Error("imported sheets must carry no codes and empty rule sets")
	}
	if got := s.Cell(1, 1).String(); got != "7,5" {
		t.Errorf("cell B2 = %q, comma decimal must survive verbatim", got)
	}
}

func TestExportPreservesRawText(t *testing.T) {
	s := sheet.New("Notas")
	s.Data = [][]sheet.Value{
		{sheet.Str("Matrícula"), sheet.Str("Nota 1")},
		{sheet.Str("007"), sheet.Str("7,5")},
	}

	path := filepath.Join(t.TempDir(), "out.xlsx")
	if err := Export(path, []*sheet.Sheet{s}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if list := f.GetSheetList(); len(list) != 1 || list[0] != "Notas" {
		t.Fatalf("worksheets = %v", list)
	}
	got, err := f.GetCellValue("Notas", "A2")
	if err != nil || got != "007" {
		t.Errorf("A2 = %q (%v), leading zeros must survive", got, err)
	}
	got, _ = f.GetCellValue("Notas", "B2")
	if got != "7,5" {
		t.Errorf("B2 = %q, comma decimal must survive", got)
	}
}

func TestExportRoundTrip(t *testing.T) {
	src := sheet.New("Turma A")
	src.Data = [][]sheet.Value{
		{sheet.Str("Nome"), sheet.Str("Nota 1"), sheet.Str("Nota 2")},
		{sheet.Str("Ana"), sheet.Str("7,5"), sheet.Str("8")},
	}
	path := filepath.Join(t.TempDir(), "rt.xlsx")
	if err := Export(path, []*sheet.Sheet{src}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	back, err := Import(path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(back) != 1 {
		t.Fatalf("sheets = %d", len(back))
	}
	for r := range src.Data {
		for c := range src.Data[r] {
			want := src.Data[r][c].String()
			if got := back[0].Cell(r, c).String(); got != want {
				t.Errorf("cell (%d,%d) = %q, want %q", r, c, got, want)
			}
		}
	}
}

func TestWorksheetNameDedup(t *testing.T) {
	seen := make(map[string]bool)
	a := worksheetName("Notas", 0, seen)
	b := worksheetName("Notas", 1, seen)
	if a == b {
		t.Errorf("duplicate names must be disambiguated, both %q", a)
	}
	long := worksheetName("Planilha com um nome muito comprido mesmo", 2, seen)
	if len([]rune(long)) > 31 {
		t.Errorf("name %q exceeds the worksheet title limit", long)
	}
}
