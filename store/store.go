// Package store owns the ordered collection of sheets, the active-sheet
// selection and every structural operation on the collection. All mutation
// of a sheet's data, rules or access fields goes through here; the access
// manager is consulted before anything destructive.
package store

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gradesheet-server/access"
	"gradesheet-server/sheet"
)

var (
	ErrNotFound       = errors.New("planilha não encontrada")
	ErrLastSheet      = errors.New("não é possível excluir a última planilha")
	ErrColumnNotFound = errors.New("coluna não encontrada")
	ErrBadPosition    = errors.New("posição inválida")
)

// Store is the sheet collection. A single logical writer mutates it; the
// mutex exists because persistence snapshots and the change feed read it
// from other goroutines.
type Store struct {
	mu       sync.RWMutex
	kv       KV
	access   *access.Manager
	sheets   []*sheet.Sheet
	activeID string
	theme    string
	onChange func(*sheet.Sheet)
}

// Open loads the persisted collection from kv, migrating legacy records
// and dropping malformed ones. An empty or unparsable payload bootstraps a
// first sheet instead of failing.
func Open(kv KV, acc *access.Manager) *Store {
	st := &Store{kv: kv, access: acc}
	st.load()
	return st
}

func (st *Store) load() {
	raw, ok, err := st.kv.Get(keySheets)
	if err != nil {
		log.Printf("store: load: %v", err)
	}
	if ok && err == nil {
		var records []json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			log.Printf("store: load: unparsable sheet collection, starting fresh: %v", err)
		} else {
			for _, rec := range records {
				var s sheet.Sheet
				if err := json.Unmarshal(rec, &s); err != nil || s.ID == "" {
					log.Printf("store: load: dropping malformed sheet record")
					continue
				}
				migrate(&s)
				st.sheets = append(st.sheets, &s)
			}
		}
	}
	if len(st.sheets) == 0 {
		st.sheets = append(st.sheets, newDefaultSheet("Planilha 1"))
		go st.persist()
	}
	st.activeID = st.sheets[0].ID

	if raw, ok, err := st.kv.Get(keyTheme); err == nil && ok {
		st.theme = string(raw)
	}
}

// migrate upgrades a record from the single-code scheme: a legacy
// accessCode becomes the edit code when no edit code exists yet (the
// legacy field itself stays, unlock still accepts it), and the shared
// flag is re-derived from the codes actually present.
func migrate(s *sheet.Sheet) {
	if s.AccessCode != "" && s.EditCode == "" {
		s.EditCode = s.AccessCode
	}
	s.IsShared = s.HasCodes()
}

func newDefaultSheet(name string) *sheet.Sheet {
	s := sheet.New(name)
	s.Data = [][]sheet.Value{{sheet.Str("Nome"), sheet.Str("Nota 1"), sheet.Str("Nota 2"), sheet.Str("Média")}}
	return s
}

// OnChange registers the committed-change callback (the websocket hub).
// Must be set before the store is shared between goroutines.
func (st *Store) OnChange(fn func(*sheet.Sheet)) {
	st.onChange = fn
}

// notify hands the change feed a snapshot taken under the lock; the live
// sheet never crosses into another goroutine.
func (st *Store) notify(s *sheet.Sheet) {
	if st.onChange == nil {
		return
	}
	st.mu.RLock()
	snap := s.Snapshot()
	st.mu.RUnlock()
	st.onChange(snap)
}

// persist snapshots the collection and hands it to the KV. Failures are
// logged; in-memory state is already committed and stays committed.
func (st *Store) persist() {
	st.mu.RLock()
	data, err := json.Marshal(st.sheets)
	st.mu.RUnlock()
	if err != nil {
		log.Printf("store: save: encode: %v", err)
		return
	}
	if err := st.kv.Set(keySheets, data); err != nil {
		log.Printf("store: save: %v", err)
	}
}

// Flush persists synchronously. Used at shutdown and by tests; the normal
// path after a commit is the fire-and-forget goroutine.
func (st *Store) Flush() {
	st.persist()
}

func (st *Store) findLocked(id string) (int, *sheet.Sheet) {
	for i, s := range st.sheets {
		if s.ID == id {
			return i, s
		}
	}
	return -1, nil
}

// Get returns a detached snapshot of the sheet with the given id. Readers
// never receive live store state: mutators write under the lock, so a
// shared pointer would race with them.
func (st *Store) Get(id string) (*sheet.Sheet, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, s := st.findLocked(id)
	if s == nil {
		return nil, ErrNotFound
	}
	return s.Snapshot(), nil
}

// List returns snapshots of the sheets in collection order.
func (st *Store) List() []*sheet.Sheet {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*sheet.Sheet, len(st.sheets))
	for i, s := range st.sheets {
		out[i] = s.Snapshot()
	}
	return out
}

// Active returns a snapshot of the currently active sheet.
func (st *Store) Active() *sheet.Sheet {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, s := st.findLocked(st.activeID)
	if s == nil && len(st.sheets) > 0 {
		s = st.sheets[0]
	}
	if s == nil {
		return nil
	}
	return s.Snapshot()
}

// SetActive selects a sheet by id. Resolving a shareable link lands here:
// selection only, no access grant. The lock state still applies.
func (st *Store) SetActive(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, s := st.findLocked(id); s == nil {
		return ErrNotFound
	}
	st.activeID = id
	return nil
}

// Create appends a new sheet, activates it and grants the creating
// session edit level.
func (st *Store) Create(sess *access.Session) *sheet.Sheet {
	st.mu.Lock()
	s := newDefaultSheet(nextName(st.sheets))
	st.sheets = append(st.sheets, s)
	st.activeID = s.ID
	snap := s.Snapshot()
	st.mu.Unlock()

	st.access.Grant(sess, s.ID, access.LevelEdit)
	st.notify(s)
	go st.persist()
	return snap
}

func nextName(sheets []*sheet.Sheet) string {
	for n := len(sheets) + 1; ; n++ {
		name := "Planilha " + strconv.Itoa(n)
		taken := false
		for _, s := range sheets {
			if s.Name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
	}
}

// Duplicate deep-copies a sheet, codes and all: the duplicate is not
// re-locked, and the copier's current level carries over to the new id.
func (st *Store) Duplicate(sess *access.Session, id string) (*sheet.Sheet, error) {
	st.mu.Lock()
	_, src := st.findLocked(id)
	if src == nil {
		st.mu.Unlock()
		return nil, ErrNotFound
	}
	level := st.access.LevelFor(sess, src)
	dup := src.Clone()
	dup.Name = src.Name + " (cópia)"
	st.sheets = append(st.sheets, dup)
	st.activeID = dup.ID
	snap := dup.Snapshot()
	st.mu.Unlock()

	st.access.Grant(sess, dup.ID, level)
	st.notify(dup)
	go st.persist()
	return snap, nil
}

// Delete removes a sheet. The last remaining sheet is never deletable,
// and if the deleted sheet was active the first sheet takes over.
func (st *Store) Delete(sess *access.Session, id string) error {
	st.mu.Lock()
	i, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	if len(st.sheets) == 1 {
		st.mu.Unlock()
		return ErrLastSheet
	}
	st.sheets = append(st.sheets[:i], st.sheets[i+1:]...)
	if st.activeID == id {
		st.activeID = st.sheets[0].ID
	}
	st.mu.Unlock()

	go st.persist()
	return nil
}

// Rename changes the display label. Empty or whitespace input is a no-op.
func (st *Store) Rename(sess *access.Session, id, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	s.Name = name
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return nil
}

// Reorder moves the sheet at from to position to. Each call operates on
// the current order, so repeated moves during one drag gesture compose.
func (st *Store) Reorder(from, to int) error {
	st.mu.Lock()
	if from < 0 || from >= len(st.sheets) || to < 0 || to >= len(st.sheets) {
		st.mu.Unlock()
		return ErrBadPosition
	}
	if from == to {
		st.mu.Unlock()
		return nil
	}
	s := st.sheets[from]
	st.sheets = append(st.sheets[:from], st.sheets[from+1:]...)
	st.sheets = append(st.sheets[:to], append([]*sheet.Sheet{s}, st.sheets[to:]...)...)
	st.mu.Unlock()

	go st.persist()
	return nil
}

// SplitByColumn groups the data rows by their stringified value in one
// column and creates one new sheet per distinct group, each carrying the
// shared header plus that group's rows. A sheet with fewer than two rows
// has nothing to split and yields an empty list.
func (st *Store) SplitByColumn(sess *access.Session, id string, columnIndex int) ([]*sheet.Sheet, error) {
	st.mu.Lock()
	_, src := st.findLocked(id)
	if src == nil {
		st.mu.Unlock()
		return nil, ErrNotFound
	}
	if !st.access.CanEdit(sess, src) {
		st.mu.Unlock()
		return nil, access.ErrEditRequired
	}
	if len(src.Data) < 2 {
		st.mu.Unlock()
		return nil, nil
	}
	if columnIndex < 0 || columnIndex >= len(src.Data[0]) {
		st.mu.Unlock()
		return nil, ErrColumnNotFound
	}

	header := append([]sheet.Value(nil), src.Data[0]...)
	var order []string
	groups := make(map[string][][]sheet.Value)
	for _, row := range src.Data[1:] {
		key := ""
		if columnIndex < len(row) {
			key = strings.TrimSpace(row[columnIndex].String())
		}
		if key == "" {
			key = "(vazio)"
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], append([]sheet.Value(nil), row...))
	}

	created := make([]*sheet.Sheet, 0, len(order))
	snaps := make([]*sheet.Sheet, 0, len(order))
	for _, key := range order {
		ns := sheet.New(src.Name + " - " + key)
		ns.Data = append([][]sheet.Value{append([]sheet.Value(nil), header...)}, groups[key]...)
		st.sheets = append(st.sheets, ns)
		created = append(created, ns)
		snaps = append(snaps, ns.Snapshot())
	}
	st.mu.Unlock()

	for _, ns := range created {
		st.notify(ns)
	}
	go st.persist()
	return snaps, nil
}

// CommitCell is the cell-write pipeline: permission gate, validation,
// mutation, reactive average recompute, then fire-and-forget persistence.
// A validation failure rejects the write entirely, with no partial
// mutation and no recompute.
func (st *Store) CommitCell(sess *access.Session, id string, row, col int, v sheet.Value) error {
	if row < 0 || col < 0 {
		return ErrBadPosition
	}
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	if row > 0 {
		for _, rule := range s.ValidationRules {
			if rule.ColumnIndex == col {
				if err := sheet.Validate(v, rule); err != nil {
					st.mu.Unlock()
					return err
				}
				break
			}
		}
	}
	s.SetCell(row, col, v)
	if row > 0 {
		s.RecalculateRow(row, col)
	}
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return nil
}

// AddConditionalFormat appends a rule; evaluation order is insertion order.
func (st *Store) AddConditionalFormat(sess *access.Session, id string, rule sheet.ConditionalRule) error {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.ConditionalFormats = append(s.ConditionalFormats, rule)
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return nil
}

// RemoveConditionalFormat drops a rule by id.
func (st *Store) RemoveConditionalFormat(sess *access.Session, id, ruleID string) error {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	kept := s.ConditionalFormats[:0]
	for _, r := range s.ConditionalFormats {
		if r.ID != ruleID {
			kept = append(kept, r)
		}
	}
	s.ConditionalFormats = kept
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return nil
}

// SetValidationRule installs a rule on its column, replacing whatever rule
// that column already had. At most one rule per column.
func (st *Store) SetValidationRule(sess *access.Session, id string, rule sheet.ValidationRule) error {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	kept := s.ValidationRules[:0]
	for _, r := range s.ValidationRules {
		if r.ColumnIndex != rule.ColumnIndex {
			kept = append(kept, r)
		}
	}
	s.ValidationRules = append(kept, rule)
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return nil
}

// RemoveValidationRule drops a rule by id.
func (st *Store) RemoveValidationRule(sess *access.Session, id, ruleID string) error {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return access.ErrEditRequired
	}
	kept := s.ValidationRules[:0]
	for _, r := range s.ValidationRules {
		if r.ID != ruleID {
			kept = append(kept, r)
		}
	}
	s.ValidationRules = kept
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return nil
}

// CalculateAverages re-derives every row's média and installs the
// pass/fail formats on the média column.
func (st *Store) CalculateAverages(sess *access.Session, id string) (int, error) {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return 0, ErrNotFound
	}
	if !st.access.CanEdit(sess, s) {
		st.mu.Unlock()
		return 0, access.ErrEditRequired
	}
	updated := s.CalculateAverages()
	st.mu.Unlock()

	st.notify(s)
	go st.persist()
	return updated, nil
}

// Share issues fresh edit/view codes valid for the given duration.
func (st *Store) Share(sess *access.Session, id string, duration time.Duration) (editCode, viewCode string, err error) {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return "", "", ErrNotFound
	}
	editCode, viewCode, err = st.access.IssueCodes(sess, s, duration)
	st.mu.Unlock()
	if err != nil {
		return "", "", err
	}
	go st.persist()
	return editCode, viewCode, nil
}

// Unlock grants this session the level matching the code. The code
// comparison runs against a snapshot taken under the lock, never the
// live sheet.
func (st *Store) Unlock(sess *access.Session, id, code string) (access.Level, error) {
	s, err := st.Get(id)
	if err != nil {
		return access.LevelNone, err
	}
	return st.access.Unlock(sess, s, code)
}

// RevokeShare clears the sheet's codes and returns it to Unset.
func (st *Store) RevokeShare(sess *access.Session, id string) error {
	st.mu.Lock()
	_, s := st.findLocked(id)
	if s == nil {
		st.mu.Unlock()
		return ErrNotFound
	}
	err := st.access.Revoke(sess, s)
	st.mu.Unlock()
	if err != nil {
		return err
	}
	go st.persist()
	return nil
}

// Import appends externally built sheets (an .xlsx import) and returns
// their snapshots. The sheets arrive with fresh ids and no codes, so no
// session gate applies.
func (st *Store) Import(sheets []*sheet.Sheet) []*sheet.Sheet {
	if len(sheets) == 0 {
		return nil
	}
	st.mu.Lock()
	st.sheets = append(st.sheets, sheets...)
	snaps := make([]*sheet.Sheet, len(sheets))
	for i, s := range sheets {
		snaps[i] = s.Snapshot()
	}
	st.mu.Unlock()

	for _, s := range sheets {
		st.notify(s)
	}
	go st.persist()
	return snaps
}

// Theme returns the persisted theme preference; the store only round-trips
// it, the value is opaque here.
func (st *Store) Theme() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.theme
}

func (st *Store) SetTheme(theme string) {
	st.mu.Lock()
	st.theme = theme
	st.mu.Unlock()
	if err := st.kv.Set(keyTheme, []byte(theme)); err != nil {
		log.Printf("store: save theme: %v", err)
	}
}
