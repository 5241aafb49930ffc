// Package suggest produces a best-effort column suggestion used to
// pre-fill the split and validation-setup prompts. An injected service
// (the AI collaborator) may answer; when it is absent, slow or failing,
// the header heuristic answers instead. A suggestion is only ever a
// pre-fill; callers apply nothing without user confirmation.
package suggest

import (
	"context"
	"strings"
	"time"

	"gradesheet-server/sheet"
)

// Suggestion names one column as a likely candidate.
type Suggestion struct {
	ColumnIndex int    `json:"columnIndex"`
	Label       string `json:"label"`
	Reason      string `json:"reason"`
}

// Service is the external suggestion collaborator.
type Service interface {
	SuggestColumn(ctx context.Context, header []sheet.Value) (Suggestion, error)
}

// categorical headers worth grouping by, in preference order.
var splitKeywords = []string{
	"turma", "classe", "grupo", "categoria", "status",
	"período", "periodo", "disciplina", "série", "serie",
}

// gradeish headers that make poor group keys.
var skipKeywords = []string{"nome", "aluno", "nota", "média", "media", "e-mail", "email"}

// Heuristic picks a split candidate from the header row alone: first a
// known categorical header, then any header that is not a name/grade
// column. Returns false when nothing qualifies.
func Heuristic(header []sheet.Value) (Suggestion, bool) {
	for _, kw := range splitKeywords {
		for i, cell := range header {
			h := strings.ToLower(strings.TrimSpace(cell.String()))
			if strings.Contains(h, kw) {
				return Suggestion{ColumnIndex: i, Label: cell.String(), Reason: "coluna categórica"}, true
			}
		}
	}
	for i, cell := range header {
		h := strings.ToLower(strings.TrimSpace(cell.String()))
		if h == "" {
			continue
		}
		skip := false
		for _, kw := range skipKeywords {
			if strings.Contains(h, kw) {
				skip = true
				break
			}
		}
		if !skip {
			return Suggestion{ColumnIndex: i, Label: cell.String(), Reason: "coluna de texto"}, true
		}
	}
	return Suggestion{}, false
}

// Hinter asks the service with a deadline and falls back to the
// heuristic. It never returns an error: a failed or late answer is just
// "no suggestion from the service".
type Hinter struct {
	Service Service       // optional
	Timeout time.Duration // zero means DefaultTimeout
}

const DefaultTimeout = 2 * time.Second

// Hint returns the suggestion to pre-fill, and whether there is one.
func (h Hinter) Hint(ctx context.Context, header []sheet.Value) (Suggestion, bool) {
	if h.Service == nil {
		return Heuristic(header)
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		sug Suggestion
		err error
	}
	ch := make(chan result, 1) // buffered: a late answer is dropped, not leaked
	go func() {
		sug, err := h.Service.SuggestColumn(ctx, header)
		ch <- result{sug, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.sug.ColumnIndex >= 0 && r.sug.ColumnIndex < len(header) {
			return r.sug, true
		}
		return Heuristic(header)
	case <-ctx.Done():
		return Heuristic(header)
	}
}
