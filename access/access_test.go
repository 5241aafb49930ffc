package access

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gradesheet-server/sheet"
)

func testManager(t *testing.T) (*Manager, *Session) {
	t.Helper()
	m := NewManager()
	sess, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return m, sess
}

func TestUnsetSheetGrantsEdit(t *testing.T) {
	m, sess := testManager(t)
	s := sheet.New("Planilha 1")
	if got := m.LevelFor(sess, s); got != LevelEdit {
		t.Errorf("level on unset sheet = %q, want edit", got)
	}
	if !m.CanEdit(nil, s) {
		t.Error("even a nil session edits an unset sheet")
	}
}

func TestIssueCodesGrantsIssuerEdit(t *testing.T) {
	m, sess := testManager(t)
	s := sheet.New("Planilha 1")

	editCode, viewCode, err := m.IssueCodes(sess, s, time.Hour)
	if err != nil {
		t.Fatalf("IssueCodes: %v", err)
	}
	if len(editCode) != codeLength || len(viewCode) != codeLength {
		t.Errorf("codes %q/%q should be %d chars", editCode, viewCode, codeLength)
	}
	if editCode == viewCode {
		t.Error("edit and view codes must be independent")
	}
	if !s.IsShared || s.AccessCodeExpiration == nil {
		t.Error("sheet should be marked shared with an expiration")
	}
	if StateOf(s, time.Now()) != Active {
		t.Error("sheet should be Active")
	}
	// The issuer edits without a subsequent unlock.
	if got := m.LevelFor(sess, s); got != LevelEdit {
		t.Errorf("issuer level = %q, want edit", got)
	}
	// Everyone else is locked out.
	other, _ := m.OpenSession()
	if got := m.LevelFor(other, s); got != LevelNone {
		t.Errorf("other session level = %q, want none", got)
	}
}

func TestUnlockLevels(t *testing.T) {
	m, owner := testManager(t)
	s := sheet.New("Planilha 1")
	editCode, viewCode, _ := m.IssueCodes(owner, s, time.Hour)

	viewer, _ := m.OpenSession()
	lvl, err := m.Unlock(viewer, s, strings.ToLower(viewCode))
	if err != nil || lvl != LevelView {
		t.Fatalf("view unlock = %q, %v", lvl, err)
	}
	if m.CanEdit(viewer, s) {
		t.Error("view level must not grant edit")
	}

	editor, _ := m.OpenSession()
	lvl, err = m.Unlock(editor, s, " "+editCode+" ")
	if err != nil || lvl != LevelEdit {
		t.Fatalf("edit unlock = %q, %v", lvl, err)
	}

	if _, err := m.Unlock(viewer, s, "WRONG1"); !errors.Is(err, ErrWrongCode) {
		t.Errorf("wrong code error = %v, want ErrWrongCode", err)
	}
}

func TestUnlockExpiredRejectsCorrectCode(t *testing.T) {
	m, owner := testManager(t)
	s := sheet.New("Planilha 1")
	_, viewCode, _ := m.IssueCodes(owner, s, time.Hour)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	other, _ := m.OpenSession()
	_, err := m.Unlock(other, s, viewCode)
	if !errors.Is(err, ErrCodeExpired) {
		t.Errorf("expired unlock error = %v, want ErrCodeExpired", err)
	}
	if StateOf(s, m.now()) != Expired {
		t.Error("state should be Expired")
	}
	// Expiration does not revoke the level the issuer already holds.
	if got := m.LevelFor(owner, s); got != LevelEdit {
		t.Errorf("issuer level after expiry = %q, want edit", got)
	}
}

func TestLegacyAccessCodeUnlocksEdit(t *testing.T) {
	m, sess := testManager(t)
	s := sheet.New("Antiga")
	s.AccessCode = "OLD999"

	lvl, err := m.Unlock(sess, s, "old999")
	if err != nil || lvl != LevelEdit {
		t.Fatalf("legacy unlock = %q, %v", lvl, err)
	}
}

func TestLegacyCodeCheckedAfterModernCodes(t *testing.T) {
	m, owner := testManager(t)
	s := sheet.New("Planilha 1")
	editCode, _, _ := m.IssueCodes(owner, s, time.Hour)
	s.AccessCode = "OLD999"

	sess, _ := m.OpenSession()
	if lvl, err := m.Unlock(sess, s, editCode); err != nil || lvl != LevelEdit {
		t.Fatalf("edit code should still win: %q, %v", lvl, err)
	}
	sess2, _ := m.OpenSession()
	if lvl, err := m.Unlock(sess2, s, "OLD999"); err != nil || lvl != LevelEdit {
		t.Fatalf("legacy fallback should unlock: %q, %v", lvl, err)
	}
}

func TestRevokeReturnsToUnset(t *testing.T) {
	m, owner := testManager(t)
	s := sheet.New("Planilha 1")
	_, viewCode, _ := m.IssueCodes(owner, s, time.Hour)

	viewer, _ := m.OpenSession()
	if _, err := m.Unlock(viewer, s, viewCode); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	if err := m.Revoke(owner, s); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if s.HasCodes() || s.IsShared || s.AccessCodeExpiration != nil {
		t.Error("revoke must clear codes, flag and expiration")
	}
	if StateOf(s, time.Now()) != Unset {
		t.Error("state should be Unset")
	}
	// With the sheet unset, everyone resolves to edit again.
	if got := m.LevelFor(viewer, s); got != LevelEdit {
		t.Errorf("viewer level after revoke = %q, want edit", got)
	}
}

func TestRevokeRequiresEdit(t *testing.T) {
	m, owner := testManager(t)
	s := sheet.New("Planilha 1")
	_, viewCode, _ := m.IssueCodes(owner, s, time.Hour)

	viewer, _ := m.OpenSession()
	m.Unlock(viewer, s, viewCode)
	if err := m.Revoke(viewer, s); !errors.Is(err, ErrEditRequired) {
		t.Errorf("view-level revoke error = %v, want ErrEditRequired", err)
	}
	if !s.HasCodes() {
		t.Error("codes must survive a rejected revoke")
	}
}

func TestLockDropsOnlyOwnEntry(t *testing.T) {
	m, owner := testManager(t)
	s := sheet.New("Planilha 1")
	editCode, _, _ := m.IssueCodes(owner, s, time.Hour)

	editor, _ := m.OpenSession()
	m.Unlock(editor, s, editCode)

	m.Lock(owner, s.ID)
	if got := m.LevelFor(owner, s); got != LevelNone {
		t.Errorf("locked session level = %q, want none", got)
	}
	if got := m.LevelFor(editor, s); got != LevelEdit {
		t.Errorf("other session level = %q, want edit (lock is per-session)", got)
	}
	// Codes on the sheet are untouched: the session can unlock again.
	if lvl, err := m.Unlock(owner, s, editCode); err != nil || lvl != LevelEdit {
		t.Errorf("re-unlock after self-lock = %q, %v", lvl, err)
	}
}

func TestSessionExpiry(t *testing.T) {
	m := NewManager()
	base := time.Now()
	m.now = func() time.Time { return base }
	sess, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if _, err := m.SessionByToken(sess.Token); err != nil {
		t.Fatalf("fresh session should resolve: %v", err)
	}
	m.now = func() time.Time { return base.Add(sessionTimeout + time.Minute) }
	if _, err := m.SessionByToken(sess.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expired session error = %v, want ErrSessionExpired", err)
	}
}

func TestGeneratedCodesUseSafeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generateCode: %v", err)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
	}
}
