package sheet

import (
	"testing"
	"time"
)

func TestSetCellGrowsGrid(t *testing.T) {
	s := New("Planilha 1")
	s.SetCell(2, 3, Str("x"))
	if len(s.Data) != 3 {
		t.Fatalf("rows = %d, want 3", len(s.Data))
	}
	if len(s.Data[2]) != 4 {
		t.Fatalf("cols in row 2 = %d, want 4", len(s.Data[2]))
	}
	if !s.Cell(0, 0).IsEmpty() || !s.Cell(2, 2).IsEmpty() {
		t.Error("filler cells must be empty")
	}
	if s.Cell(2, 3).String() != "x" {
		t.Errorf("cell = %q", s.Cell(2, 3).String())
	}
	// Out-of-range reads are empty, not panics.
	if !s.Cell(10, 10).IsEmpty() {
		t.Error("out-of-range read should be empty")
	}
}

func TestCloneIsDeep(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	src := New("Original")
	src.Data = [][]Value{
		{Str("Nome"), Str("Nota 1")},
		{Str("Ana"), Str("7")},
	}
	src.ConditionalFormats = []ConditionalRule{{ID: "c1", ColumnIndex: 1, Condition: CondGTE, Value: "5"}}
	src.ValidationRules = []ValidationRule{{ID: "v1", ColumnIndex: 1, Type: ValidateNumber, Options: []string{"a"}}}
	src.EditCode = "ABC123"
	src.ViewCode = "DEF456"
	src.IsShared = true
	src.AccessCodeExpiration = &exp

	c := src.Clone()
	if c.ID == src.ID {
		t.Error("clone must get a fresh id")
	}
	if c.EditCode != "ABC123" || c.ViewCode != "DEF456" || !c.IsShared {
		t.Error("access codes are copied as-is, not regenerated")
	}
	if c.AccessCodeExpiration == nil || !c.AccessCodeExpiration.Equal(exp) {
		t.Error("expiration must be copied")
	}

	// Mutating the clone must never reach the original.
	c.SetCell(1, 1, Str("10"))
	c.ConditionalFormats[0].Value = "9"
	c.ValidationRules[0].Options[0] = "b"
	*c.AccessCodeExpiration = exp.Add(time.Hour)

	if src.Cell(1, 1).String() != "7" {
		t.Error("clone data aliases the original")
	}
	if src.ConditionalFormats[0].Value != "5" {
		t.Error("clone conditional rules alias the original")
	}
	if src.ValidationRules[0].Options[0] != "a" {
		t.Error("clone validation options alias the original")
	}
	if !src.AccessCodeExpiration.Equal(exp) {
		t.Error("clone expiration aliases the original")
	}
}

func TestHasCodes(t *testing.T) {
	s := New("Planilha 1")
	if s.HasCodes() {
		t.Error("fresh sheet has no codes")
	}
	s.ViewCode = "XYZ789"
	if !s.HasCodes() {
		t.Error("a view code alone makes the sheet access-controlled")
	}
}
