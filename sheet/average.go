package sheet

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GradeColumns holds the header-derived indices of the two grade columns
// and the derived average column.
type GradeColumns struct {
	Nota1 int
	Nota2 int
	Media int
}

// FindGradeColumns matches the header row against the known grade header
// spellings, case-insensitively: "nota 1" (substring) or exactly "p1"/"n1",
// the same for the second grade, and "média"/"media" (substring) for the
// derived column. All three must resolve.
func FindGradeColumns(header []Value) (GradeColumns, bool) {
	cols := GradeColumns{Nota1: -1, Nota2: -1, Media: -1}
	for i, cell := range header {
		h := strings.ToLower(strings.TrimSpace(cell.String()))
		switch {
		case cols.Nota1 < 0 && (strings.Contains(h, "nota 1") || h == "p1" || h == "n1"):
			cols.Nota1 = i
		case cols.Nota2 < 0 && (strings.Contains(h, "nota 2") || h == "p2" || h == "n2"):
			cols.Nota2 = i
		case cols.Media < 0 && (strings.Contains(h, "média") || strings.Contains(h, "media")):
			cols.Media = i
		}
	}
	if cols.Nota1 < 0 || cols.Nota2 < 0 || cols.Media < 0 {
		return GradeColumns{}, false
	}
	return cols, true
}

// DeriveAverage computes the average of the two grade cells of a row and
// returns a copy of the row with the result written into the média cell,
// extending the row as needed. The second return is false when either
// operand is empty or does not parse, in which case the input row is
// returned unchanged.
//
// The result keeps one decimal and is rendered with a comma separator iff
// either source operand was written with a comma; inputs typed "7,5" read
// back "7,8", inputs typed "7.5" read back "7.8".
func DeriveAverage(row []Value, cols GradeColumns) ([]Value, bool) {
	a := cellAt(row, cols.Nota1)
	b := cellAt(row, cols.Nota2)
	if a.IsEmpty() || b.IsEmpty() {
		return row, false
	}
	na, okA := a.Numeric()
	nb, okB := b.Numeric()
	if !okA || !okB {
		return row, false
	}
	avg := math.Round((na+nb)/2*10) / 10
	formatted := strconv.FormatFloat(avg, 'f', -1, 64)
	if strings.Contains(a.String(), ",") || strings.Contains(b.String(), ",") {
		formatted = strings.ReplaceAll(formatted, ".", ",")
	}
	out := make([]Value, len(row))
	copy(out, row)
	for len(out) <= cols.Media {
		out = append(out, Empty())
	}
	out[cols.Media] = Str(formatted)
	return out, true
}

func cellAt(row []Value, i int) Value {
	if i < 0 || i >= len(row) {
		return Empty()
	}
	return row[i]
}

// EnsureGradeColumns resolves the grade columns of a sheet, appending a
// "Média" header column when the two grade columns exist but the derived
// column does not yet.
func (s *Sheet) EnsureGradeColumns() (GradeColumns, bool) {
	header := s.Header()
	if cols, ok := FindGradeColumns(header); ok {
		return cols, true
	}
	cols := GradeColumns{Nota1: -1, Nota2: -1, Media: -1}
	for i, cell := range header {
		h := strings.ToLower(strings.TrimSpace(cell.String()))
		switch {
		case cols.Nota1 < 0 && (strings.Contains(h, "nota 1") || h == "p1" || h == "n1"):
			cols.Nota1 = i
		case cols.Nota2 < 0 && (strings.Contains(h, "nota 2") || h == "p2" || h == "n2"):
			cols.Nota2 = i
		}
	}
	if cols.Nota1 < 0 || cols.Nota2 < 0 {
		return GradeColumns{}, false
	}
	cols.Media = len(header)
	s.SetCell(0, cols.Media, Str("Média"))
	return cols, true
}

// RecalculateRow re-derives the média cell of one row after a write to
// column editedCol. It does nothing unless the grade columns resolve and
// the edited column is one of the two inputs.
func (s *Sheet) RecalculateRow(row, editedCol int) bool {
	if row <= 0 || row >= len(s.Data) {
		return false
	}
	cols, ok := s.EnsureGradeColumns()
	if !ok {
		return false
	}
	if editedCol != cols.Nota1 && editedCol != cols.Nota2 {
		return false
	}
	updated, ok := DeriveAverage(s.Data[row], cols)
	if !ok {
		return false
	}
	s.Data[row] = updated
	return true
}

// Styles installed on the média column by CalculateAverages.
var (
	failStyle = Style{Background: "#f8d7da", Color: "#721c24"}
	passStyle = Style{Background: "#d4edda", Color: "#155724"}
)

// CalculateAverages re-derives the média cell for every data row and
// installs the pass/fail conditional formats on the média column
// (value < 5 fails, value >= 5 passes), replacing any rules previously
// attached to that column. It returns the number of rows updated.
func (s *Sheet) CalculateAverages() int {
	cols, ok := s.EnsureGradeColumns()
	if !ok {
		return 0
	}
	updated := 0
	for i := 1; i < len(s.Data); i++ {
		row, ok := DeriveAverage(s.Data[i], cols)
		if !ok {
			continue
		}
		s.Data[i] = row
		updated++
	}
	kept := s.ConditionalFormats[:0]
	for _, r := range s.ConditionalFormats {
		if r.ColumnIndex != cols.Media {
			kept = append(kept, r)
		}
	}
	s.ConditionalFormats = append(kept,
		ConditionalRule{ID: uuid.NewString(), ColumnIndex: cols.Media, Condition: CondLT, Value: "5", Style: failStyle},
		ConditionalRule{ID: uuid.NewString(), ColumnIndex: cols.Media, Condition: CondGTE, Value: "5", Style: passStyle},
	)
	return updated
}
