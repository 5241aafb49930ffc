// Package server exposes the sheet store over HTTP plus a websocket
// change feed. Handlers resolve the caller's session from the
// Authorization header, delegate to the store and map its errors to
// status codes; the store's commit callback feeds the hub.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"gradesheet-server/access"
	"gradesheet-server/sheet"
	"gradesheet-server/store"
	"gradesheet-server/suggest"
	"gradesheet-server/xlsxio"
)

// Server wires the store, the access manager and the websocket hub
// behind one router.
type Server struct {
	store    *store.Store
	access   *access.Manager
	hub      *Hub
	hinter   suggest.Hinter
	upgrader websocket.Upgrader
}

func New(st *store.Store, acc *access.Manager, hinter suggest.Hinter) *Server {
	s := &Server{
		store:  st,
		access: acc,
		hub:    newHub(),
		hinter: hinter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	st.OnChange(s.hub.SheetChanged)
	go s.hub.run()
	return s
}

// Router builds the HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.handleOpenSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/active", s.handleActive).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/theme", s.handleGetTheme).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/theme", s.handleSetTheme).Methods(http.MethodPut, http.MethodOptions)

	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/sheets", s.handleListSheets).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sheets", s.handleCreateSheet).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/reorder", s.handleReorder).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}", s.handleGetSheet).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sheets/{id}", s.handleDeleteSheet).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/name", s.handleRenameSheet).Methods(http.MethodPut, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/duplicate", s.handleDuplicate).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/cells", s.handleCommitCell).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/formats", s.handleAddFormat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/formats/{ruleID}", s.handleRemoveFormat).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/validations", s.handleSetValidation).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/validations/{ruleID}", s.handleRemoveValidation).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/calculate", s.handleCalculate).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/split", s.handleSplit).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/split/suggestion", s.handleSplitSuggestion).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/share", s.handleShare).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/unlock", s.handleUnlock).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/revoke", s.handleRevoke).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sheets/{id}/lock", s.handleLock).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/ws", s.handleWebsocket)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// session resolves the Authorization bearer token. A missing header is
// fine (an anonymous caller); a stale or unknown token is not.
func (s *Server) session(r *http.Request) (*access.Session, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return nil, nil
	}
	token := strings.TrimPrefix(h, "Bearer ")
	return s.access.SessionByToken(token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto status codes. Validation failures
// and anything unclassified come back as 400 with the message intact,
// since the messages are what the client shows the user.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, access.ErrEditRequired),
		errors.Is(err, access.ErrWrongCode),
		errors.Is(err, access.ErrCodeExpired):
		status = http.StatusForbidden
	case errors.Is(err, access.ErrInvalidSession),
		errors.Is(err, access.ErrSessionExpired):
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// sheetView is the API shape of a sheet. Codes appear only for sessions
// holding edit level, and a locked sheet hides its contents entirely:
// the persisted record is never handed to a session that has not
// unlocked it.
type sheetView struct {
	ID                   string                  `json:"id"`
	Name                 string                  `json:"name"`
	IsShared             bool                    `json:"isShared"`
	Locked               bool                    `json:"locked"`
	AccessLevel          access.Level            `json:"accessLevel"`
	AccessCodeExpiration *time.Time              `json:"accessCodeExpiration,omitempty"`
	Data                 [][]sheet.Value         `json:"data,omitempty"`
	ConditionalFormats   []sheet.ConditionalRule `json:"conditionalFormats,omitempty"`
	ValidationRules      []sheet.ValidationRule  `json:"validationRules,omitempty"`
	EditCode             string                  `json:"editCode,omitempty"`
	ViewCode             string                  `json:"viewCode,omitempty"`
}

func (s *Server) view(sess *access.Session, sh *sheet.Sheet) sheetView {
	level := s.access.LevelFor(sess, sh)
	v := sheetView{
		ID:                   sh.ID,
		Name:                 sh.Name,
		IsShared:             sh.IsShared,
		Locked:               level == access.LevelNone,
		AccessLevel:          level,
		AccessCodeExpiration: sh.AccessCodeExpiration,
	}
	if level == access.LevelNone {
		return v
	}
	v.Data = sh.Data
	v.ConditionalFormats = sh.ConditionalFormats
	v.ValidationRules = sh.ValidationRules
	if level == access.LevelEdit {
		v.EditCode = sh.EditCode
		v.ViewCode = sh.ViewCode
	}
	return v
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.access.OpenSession()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
	})
}

// handleActive returns the active sheet. A ?sheet=id query resolves a
// shareable link: it selects that sheet but grants nothing, so a locked
// sheet still comes back locked.
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if id := r.URL.Query().Get("sheet"); id != "" {
		if err := s.store.SetActive(id); err != nil {
			writeError(w, err)
			return
		}
	}
	active := s.store.Active()
	if active == nil {
		writeError(w, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess, active))
}

func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sheets := s.store.List()
	out := make([]sheetView, len(sheets))
	for i, sh := range sheets {
		out[i] = s.view(sess, sh)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSheet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sh := s.store.Create(sess)
	writeJSON(w, http.StatusCreated, s.view(sess, sh))
}

func (s *Server) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sh, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess, sh))
}

func (s *Server) handleDeleteSheet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Delete(sess, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameSheet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Rename(sess, mux.Vars(r)["id"], body.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := s.store.Duplicate(sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(sess, dup))
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Reorder(body.From, body.To); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommitCell accepts the column either as a zero-based index or
// as a spreadsheet letter ("C"). The value arrives as a raw JSON scalar
// and keeps its native type.
func (s *Server) handleCommitCell(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Row    int             `json:"row"`
		Col    *int            `json:"col"`
		Column string          `json:"column"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	col := -1
	if body.Col != nil {
		col = *body.Col
	} else {
		col, err = sheet.ColumnIndex(body.Column)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	var v sheet.Value
	if len(body.Value) > 0 {
		if err := json.Unmarshal(body.Value, &v); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.store.CommitCell(sess, mux.Vars(r)["id"], body.Row, col, v); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddFormat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var rule sheet.ConditionalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.AddConditionalFormat(sess, mux.Vars(r)["id"], rule); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFormat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.store.RemoveConditionalFormat(sess, vars["id"], vars["ruleID"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetValidation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var rule sheet.ValidationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.SetValidationRule(sess, mux.Vars(r)["id"], rule); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveValidation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.store.RemoveValidationRule(sess, vars["id"], vars["ruleID"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.store.CalculateAverages(sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updatedRows": updated})
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ColumnIndex *int   `json:"columnIndex"`
		Column      string `json:"column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	col := -1
	if body.ColumnIndex != nil {
		col = *body.ColumnIndex
	} else {
		col, err = sheet.ColumnIndex(body.Column)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	created, err := s.store.SplitByColumn(sess, mux.Vars(r)["id"], col)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sheetView, len(created))
	for i, sh := range created {
		out[i] = s.view(sess, sh)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSplitSuggestion pre-fills the split dialog. Best effort only:
// no suggestion is a 200 with found=false, never an error.
func (s *Server) handleSplitSuggestion(w http.ResponseWriter, r *http.Request) {
	sh, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	sug, ok := s.hinter.Hint(r.Context(), sh.Header())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"found":      ok,
		"suggestion": sug,
	})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		DurationMinutes int `json:"durationMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if body.DurationMinutes <= 0 {
		body.DurationMinutes = 60
	}
	id := mux.Vars(r)["id"]
	editCode, viewCode, err := s.store.Share(sess, id, time.Duration(body.DurationMinutes)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"editCode": editCode,
		"viewCode": viewCode,
		"link":     "/?sheet=" + id,
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	level, err := s.store.Unlock(sess, mux.Vars(r)["id"], body.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]access.Level{"accessLevel": level})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.RevokeShare(sess, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLock drops only the calling session's level for the sheet.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.access.Lock(sess, mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// handleImport accepts a multipart upload ("file") and appends one sheet
// per worksheet. Imported sheets carry no codes, so they need no grant.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()
	sheets, err := xlsxio.ImportReader(file)
	if err != nil {
		writeError(w, err)
		return
	}
	snaps := s.store.Import(sheets)
	out := make([]sheetView, len(snaps))
	for i, sh := range snaps {
		out[i] = s.view(sess, sh)
	}
	writeJSON(w, http.StatusCreated, out)
}

// handleExport streams a workbook holding every sheet the caller can see.
// Locked sheets are left out rather than leaked.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var visible []*sheet.Sheet
	for _, sh := range s.store.List() {
		if s.access.LevelFor(sess, sh) != access.LevelNone {
			visible = append(visible, sh)
		}
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="planilhas.xlsx"`)
	if err := xlsxio.ExportWriter(w, visible); err != nil {
		log.Printf("server: export: %v", err)
	}
}

func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"theme": s.store.Theme()})
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	s.store.SetTheme(body.Theme)
	w.WriteHeader(http.StatusNoContent)
}

// handleWebsocket subscribes the caller to one sheet's change feed. The
// token travels as a query parameter because browsers cannot set
// headers on websocket dials.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sheetID := r.URL.Query().Get("sheet")
	sh, err := s.store.Get(sheetID)
	if err != nil {
		writeError(w, err)
		return
	}
	var sess *access.Session
	if token := r.URL.Query().Get("token"); token != "" {
		sess, err = s.access.SessionByToken(token)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if s.access.LevelFor(sess, sh) == access.LevelNone {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "acesso negado"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	client := &Client{hub: s.hub, conn: conn, sheetID: sheetID, send: make(chan []byte, 16)}
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}
