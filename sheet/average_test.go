package sheet

import "testing"

func gradeSheet() *Sheet {
	s := New("Notas")
	s.Data = [][]Value{
		{Str("Nome"), Str("Nota 1"), Str("Nota 2"), Str("Média")},
		{Str("Ana"), Str("7,5"), Str("8"), Empty()},
		{Str("Bruno"), Str("4.0"), Str("5.0"), Empty()},
		{Str("Carla"), Str("6"), Empty(), Empty()},
	}
	return s
}

func TestFindGradeColumns(t *testing.T) {
	s := gradeSheet()
	cols, ok := FindGradeColumns(s.Header())
	if !ok {
		t.Fatal("grade columns should resolve")
	}
	if cols.Nota1 != 1 || cols.Nota2 != 2 || cols.Media != 3 {
		t.Errorf("cols = %+v", cols)
	}
}

func TestFindGradeColumnsAlternateHeaders(t *testing.T) {
	header := []Value{Str("Aluno"), Str("P1"), Str("p2"), Str("MEDIA FINAL")}
	cols, ok := FindGradeColumns(header)
	if !ok {
		t.Fatal("P1/p2/MEDIA headers should resolve")
	}
	if cols.Nota1 != 1 || cols.Nota2 != 2 || cols.Media != 3 {
		t.Errorf("cols = %+v", cols)
	}
}

func TestFindGradeColumnsIncomplete(t *testing.T) {
	header := []Value{Str("Nome"), Str("Nota 1"), Str("Média")}
	if _, ok := FindGradeColumns(header); ok {
		t.Error("missing Nota 2 must not resolve")
	}
}

func TestDeriveAverageCommaFormatting(t *testing.T) {
	s := gradeSheet()
	cols, _ := FindGradeColumns(s.Header())

	// One comma operand: result keeps the comma.
	row, ok := DeriveAverage(s.Data[1], cols)
	if !ok {
		t.Fatal("average should derive")
	}
	if got := row[cols.Media].String(); got != "7,8" {
		t.Errorf("média = %q, want \"7,8\"", got)
	}

	// Period-only operands: result uses a period.
	row, ok = DeriveAverage(s.Data[2], cols)
	if !ok {
		t.Fatal("average should derive")
	}
	if got := row[cols.Media].String(); got != "4.5" {
		t.Errorf("média = %q, want \"4.5\"", got)
	}
}

func TestDeriveAverageEmptyOperand(t *testing.T) {
	s := gradeSheet()
	cols, _ := FindGradeColumns(s.Header())
	if _, ok := DeriveAverage(s.Data[3], cols); ok {
		t.Error("empty operand must not derive an average")
	}
}

func TestDeriveAverageDoesNotMutateInput(t *testing.T) {
	s := gradeSheet()
	cols, _ := FindGradeColumns(s.Header())
	before := s.Cell(1, cols.Media)
	if _, ok := DeriveAverage(s.Data[1], cols); !ok {
		t.Fatal("average should derive")
	}
	if s.Cell(1, cols.Media) != before {
		t.Error("DeriveAverage must not mutate its input row")
	}
}

func TestDeriveAverageExtendsRow(t *testing.T) {
	cols := GradeColumns{Nota1: 1, Nota2: 2, Media: 5}
	row := []Value{Str("Ana"), Str("6"), Str("8")}
	out, ok := DeriveAverage(row, cols)
	if !ok {
		t.Fatal("average should derive")
	}
	if len(out) != 6 {
		t.Fatalf("row should be extended to the média column, len = %d", len(out))
	}
	if got := out[5].String(); got != "7" {
		t.Errorf("média = %q, want \"7\"", got)
	}
}

func TestRecalculateRowOnGradeEdit(t *testing.T) {
	s := gradeSheet()
	s.SetCell(1, 1, Str("9,5"))
	if !s.RecalculateRow(1, 1) {
		t.Fatal("edit to Nota 1 should recompute")
	}
	if got := s.Cell(1, 3).String(); got != "8,8" {
		t.Errorf("média = %q, want \"8,8\"", got)
	}
	// Editing an unrelated column leaves the média alone.
	s.SetCell(1, 0, Str("Ana Maria"))
	if s.RecalculateRow(1, 0) {
		t.Error("edit outside the grade columns must not recompute")
	}
}

func TestEnsureGradeColumnsAutoCreatesMedia(t *testing.T) {
	s := New("Notas")
	s.Data = [][]Value{
		{Str("Nome"), Str("Nota 1"), Str("Nota 2")},
		{Str("Ana"), Str("7"), Str("9")},
	}
	cols, ok := s.EnsureGradeColumns()
	if !ok {
		t.Fatal("grade columns should resolve with auto-created média")
	}
	if cols.Media != 3 {
		t.Errorf("média index = %d, want 3", cols.Media)
	}
	if got := s.Cell(0, 3).String(); got != "Média" {
		t.Errorf("header = %q, want \"Média\"", got)
	}
}

func TestCalculateAveragesInstallsPassFailRules(t *testing.T) {
	s := gradeSheet()
	// Pre-existing rule on the média column must be replaced; rules on
	// other columns survive.
	s.ConditionalFormats = []ConditionalRule{
		{ID: "old", ColumnIndex: 3, Condition: CondEQ, Value: "x", Style: Style{Bold: true}},
		{ID: "keep", ColumnIndex: 0, Condition: CondContains, Value: "ana", Style: Style{Bold: true}},
	}
	updated := s.CalculateAverages()
	if updated != 2 {
		t.Errorf("updated = %d, want 2 (row with empty grade is skipped)", updated)
	}
	if got := s.Cell(1, 3).String(); got != "7,8" {
		t.Errorf("média row 1 = %q", got)
	}

	var onMedia []ConditionalRule
	for _, r := range s.ConditionalFormats {
		if r.ID == "old" {
			t.Error("old média rule should have been replaced")
		}
		if r.ColumnIndex == 3 {
			onMedia = append(onMedia, r)
		}
	}
	if len(onMedia) != 2 {
		t.Fatalf("média column should carry exactly 2 rules, got %d", len(onMedia))
	}
	if onMedia[0].Condition != CondLT || onMedia[0].Value != "5" {
		t.Errorf("first rule = %+v, want lt 5", onMedia[0])
	}
	if onMedia[1].Condition != CondGTE || onMedia[1].Value != "5" {
		t.Errorf("second rule = %+v, want gte 5", onMedia[1])
	}

	// 4.5 fails, 7,8 passes.
	style, ok := s.StyleFor(2, 3)
	if !ok || style != failStyle {
		t.Errorf("row 2 média should carry the fail style, got %v %v", style, ok)
	}
	style, ok = s.StyleFor(1, 3)
	if !ok || style != passStyle {
		t.Errorf("row 1 média should carry the pass style, got %v %v", style, ok)
	}
	found := false
	for _, r := range s.ConditionalFormats {
		if r.ID == "keep" {
			found = true
		}
	}
	if !found {
		t.Error("rules on other columns must survive")
	}
}
