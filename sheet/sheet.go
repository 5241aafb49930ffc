package sheet

import (
	"time"

	"github.com/google/uuid"
)

// Sheet is one named tabular dataset together with its formatting rules,
// validation rules and access metadata. Row 0 of Data is the header row.
// Rows may have unequal lengths; missing trailing cells read as empty.
type Sheet struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Data               [][]Value         `json:"data"`
	ConditionalFormats []ConditionalRule `json:"conditionalFormats,omitempty"`
	ValidationRules    []ValidationRule  `json:"validationRules,omitempty"`

	// Two-tier access codes. Presence of either means the sheet is
	// access-controlled; both expire together at AccessCodeExpiration.
	EditCode             string     `json:"editCode,omitempty"`
	ViewCode             string     `json:"viewCode,omitempty"`
	AccessCodeExpiration *time.Time `json:"accessCodeExpiration,omitempty"`
	IsShared             bool       `json:"isShared,omitempty"`

	// AccessCode predates the edit/view split. It is migrated into
	// EditCode on load and kept only as an unlock fallback.
	AccessCode string `json:"accessCode,omitempty"`
}

// New creates an empty sheet with a fresh id.
func New(name string) *Sheet {
	return &Sheet{
		ID:   uuid.NewString(),
		Name: name,
		Data: [][]Value{},
	}
}

// Cell returns the value at (row, col), Empty for anything out of range.
func (s *Sheet) Cell(row, col int) Value {
	if row < 0 || row >= len(s.Data) {
		return Empty()
	}
	r := s.Data[row]
	if col < 0 || col >= len(r) {
		return Empty()
	}
	return r[col]
}

// SetCell writes a value at (row, col), growing the grid with empty cells
// as needed.
func (s *Sheet) SetCell(row, col int, v Value) {
	for len(s.Data) <= row {
		s.Data = append(s.Data, []Value{})
	}
	for len(s.Data[row]) <= col {
		s.Data[row] = append(s.Data[row], Empty())
	}
	s.Data[row][col] = v
}

// Header returns row 0, or nil for a sheet with no rows.
func (s *Sheet) Header() []Value {
	if len(s.Data) == 0 {
		return nil
	}
	return s.Data[0]
}

// HasCodes reports whether the sheet is access-controlled.
func (s *Sheet) HasCodes() bool {
	return s.EditCode != "" || s.ViewCode != ""
}

// Clone deep-copies the sheet under a fresh id. Data and both rule slices
// are copied element by element so mutations of the clone never alias the
// original; access codes, expiration and the shared flag are copied as-is.
func (s *Sheet) Clone() *Sheet {
	c := s.Snapshot()
	c.ID = uuid.NewString()
	return c
}

// Snapshot deep-copies the sheet, id included. The store hands snapshots
// to readers and the change feed so nothing aliases live state once the
// store lock is released.
func (s *Sheet) Snapshot() *Sheet {
	c := &Sheet{
		ID:         s.ID,
		Name:       s.Name,
		Data:       make([][]Value, len(s.Data)),
		EditCode:   s.EditCode,
		ViewCode:   s.ViewCode,
		AccessCode: s.AccessCode,
		IsShared:   s.IsShared,
	}
	for i, row := range s.Data {
		c.Data[i] = make([]Value, len(row))
		copy(c.Data[i], row)
	}
	if len(s.ConditionalFormats) > 0 {
		c.ConditionalFormats = make([]ConditionalRule, len(s.ConditionalFormats))
		copy(c.ConditionalFormats, s.ConditionalFormats)
	}
	if len(s.ValidationRules) > 0 {
		c.ValidationRules = make([]ValidationRule, len(s.ValidationRules))
		for i, r := range s.ValidationRules {
			c.ValidationRules[i] = r.clone()
		}
	}
	if s.AccessCodeExpiration != nil {
		exp := *s.AccessCodeExpiration
		c.AccessCodeExpiration = &exp
	}
	return c
}
