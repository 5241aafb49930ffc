// Package access implements the two-tier (editor/viewer) time-limited
// access-control scheme for sheets: code issuance, expiration, unlock and
// the per-session access-level map that gates every mutation.
package access

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"gradesheet-server/sheet"
)

// Level is the access a session holds for one sheet.
type Level string

const (
	LevelNone Level = ""
	LevelView Level = "view"
	LevelEdit Level = "edit"
)

// State classifies a sheet's share lifecycle.
type State int

const (
	// Unset: no codes issued; every session implicitly has edit access.
	Unset State = iota
	// Active: codes issued and not yet expired.
	Active
	// Expired: codes issued but past their expiration. Expiration only
	// gates new unlock attempts; levels already granted stay granted.
	Expired
)

// StateOf classifies a sheet at a given instant.
func StateOf(s *sheet.Sheet, now time.Time) State {
	if !s.HasCodes() {
		return Unset
	}
	if s.AccessCodeExpiration != nil && !now.Before(*s.AccessCodeExpiration) {
		return Expired
	}
	return Active
}

var (
	ErrCodeExpired    = errors.New("código de acesso expirado")
	ErrWrongCode      = errors.New("código incorreto")
	ErrEditRequired   = errors.New("permissão de edição necessária")
	ErrInvalidSession = errors.New("sessão inválida")
	ErrSessionExpired = errors.New("sessão expirada")
)

const sessionTimeout = 12 * time.Hour

// Session is one running client session. Access levels are transient: they
// live only here, never on the persisted sheet.
type Session struct {
	Token     string
	ExpiresAt time.Time
	levels    map[string]Level // sheet id -> level, guarded by Manager.mu
}

// Manager owns all sessions and every access-level transition.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// OpenSession creates a new anonymous session with a random token.
func (m *Manager) OpenSession() (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Token:     token,
		ExpiresAt: m.now().Add(sessionTimeout),
		levels:    make(map[string]Level),
	}
	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()

	go m.sweepExpiredSessions()
	return sess, nil
}

// SessionByToken resolves a token, dropping it if past its expiry.
func (m *Manager) SessionByToken(token string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidSession
	}
	if m.now().After(sess.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func (m *Manager) sweepExpiredSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for token, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, token)
		}
	}
}

// generateToken creates a random session token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Codes are short so they can be dictated out loud; the alphabet drops
// 0/O and 1/I, and comparison is case-insensitive.
const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func generateCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

// LevelFor resolves the session's access level for a sheet. A sheet with
// no codes is implicitly fully accessible to any session.
func (m *Manager) LevelFor(sess *Session, s *sheet.Sheet) Level {
	if !s.HasCodes() {
		return LevelEdit
	}
	if sess == nil {
		return LevelNone
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sess.levels[s.ID]
}

// CanEdit is the permission gate for destructive operations: allowed iff
// the sheet has no codes or the session holds exactly edit level. View
// level is never sufficient.
func (m *Manager) CanEdit(sess *Session, s *sheet.Sheet) bool {
	return m.LevelFor(sess, s) == LevelEdit
}

// IssueCodes generates a fresh edit and view code on the sheet, stamps the
// shared expiration, and grants the issuing session edit level so the
// issuer is never locked out of their own share.
func (m *Manager) IssueCodes(sess *Session, s *sheet.Sheet, duration time.Duration) (editCode, viewCode string, err error) {
	if !m.CanEdit(sess, s) {
		return "", "", ErrEditRequired
	}
	editCode, err = generateCode()
	if err != nil {
		return "", "", err
	}
	viewCode = editCode
	for viewCode == editCode {
		viewCode, err = generateCode()
		if err != nil {
			return "", "", err
		}
	}
	exp := m.now().Add(duration)
	s.EditCode = editCode
	s.ViewCode = viewCode
	s.AccessCodeExpiration = &exp
	s.IsShared = true
	m.grant(sess, s.ID, LevelEdit)
	return editCode, viewCode, nil
}

// Revoke clears the sheet's codes and expiration. Levels other sessions
// already hold are left alone; with the codes gone the sheet is back to
// Unset and everyone resolves to edit anyway.
func (m *Manager) Revoke(sess *Session, s *sheet.Sheet) error {
	if !m.CanEdit(sess, s) {
		return ErrEditRequired
	}
	s.EditCode = ""
	s.ViewCode = ""
	s.AccessCode = ""
	s.AccessCodeExpiration = nil
	s.IsShared = false
	return nil
}

// Unlock grants the session the level matching the presented code. An
// expired share rejects every code with ErrCodeExpired before any
// comparison happens; a wrong code gets the generic ErrWrongCode with no
// hint of which code type was tried.
func (m *Manager) Unlock(sess *Session, s *sheet.Sheet, inputCode string) (Level, error) {
	if !s.HasCodes() && s.AccessCode == "" {
		return LevelEdit, nil
	}
	if s.AccessCodeExpiration != nil && !m.now().Before(*s.AccessCodeExpiration) {
		return LevelNone, ErrCodeExpired
	}
	code := strings.TrimSpace(inputCode)
	switch {
	case s.EditCode != "" && strings.EqualFold(code, s.EditCode):
		m.grant(sess, s.ID, LevelEdit)
		return LevelEdit, nil
	case s.ViewCode != "" && strings.EqualFold(code, s.ViewCode):
		m.grant(sess, s.ID, LevelView)
		return LevelView, nil
	case s.AccessCode != "" && strings.EqualFold(code, s.AccessCode):
		// Compatibility only: single-code sheets predate the edit/view
		// split and their code unlocks as an edit code.
		m.grant(sess, s.ID, LevelEdit)
		return LevelEdit, nil
	}
	return LevelNone, ErrWrongCode
}

// Lock drops only the calling session's access entry for the sheet, so the
// holder can re-test the locked state. Codes on the sheet are untouched.
func (m *Manager) Lock(sess *Session, sheetID string) {
	if sess == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(sess.levels, sheetID)
}

// Grant records a level directly, bypassing unlock. The store uses it when
// a sheet is created or duplicated by a session.
func (m *Manager) Grant(sess *Session, sheetID string, level Level) {
	m.grant(sess, sheetID, level)
}

func (m *Manager) grant(sess *Session, sheetID string, level Level) {
	if sess == nil || level == LevelNone {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.levels == nil {
		sess.levels = make(map[string]Level)
	}
	sess.levels[sheetID] = level
}
