package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"boacid/internal/accounts"
	"boacid/internal/auth"
	"boacid/internal/issuance"
	"boacid/internal/ledger"
	"boacid/internal/photos"
	"boacid/internal/record"
	"boacid/internal/store"
)

type testEnv struct {
	router     *gin.Engine
	handler    *Handler
	ledgerPath string
	uploads    string
}

func newTestEnv(t *testing.T, mutate func(*Config)) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	db, err := store.NewDB(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := accounts.NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	accts := accounts.NewService(repo, accounts.WithCost(bcrypt.MinCost))

	uploads := filepath.Join(dir, "uploads")
	local, err := photos.NewLocal(uploads)
	require.NoError(t, err)
	ledgerPath := filepath.Join(dir, "ids.xlsx")
	ids := issuance.NewService(ledger.New(ledgerPath), local, nil, zerolog.Nop())

	cfg := Config{
		JWTIssuer:     "boacid-test",
		JWTSigningKey: "test-key",
		SessionTTL:    time.Hour,
		AllowSignup:   true,
		UploadDir:     uploads,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := New(cfg, ids, accts, auth.NewMemoryRevoker(), zerolog.Nop())
	r := gin.New()
	h.Register(r, nil)
	return testEnv{router: r, handler: h, ledgerPath: ledgerPath, uploads: uploads}
}

func (e testEnv) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (e testEnv) login(t *testing.T) string {
	t.Helper()
	creds := map[string]string{"username": "clerk", "password": "s3cret-pass"}
	w := e.do(jsonRequest(http.MethodPost, "/signup", creds), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(jsonRequest(http.MethodPost, "/login", creds), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func issueRequestFor(t *testing.T, fields map[string]string, photo []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo_file", "me.png")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/ids", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/me", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := env.login(t)
	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/me", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"clerk"`)
	assert.NotContains(t, w.Body.String(), "password")

	w = env.do(httptest.NewRequest(http.MethodPost, "/logout", nil), token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/me", nil), token)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "revoked session is rejected")
}

func TestLoginSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)

	w := env.do(jsonRequest(http.MethodPost, "/login", map[string]string{"username": "clerk", "password": "s3cret-pass"}), "")
	require.Equal(t, http.StatusOK, w.Code)

	var session *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == auth.SessionCookie {
			session = ck
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/v1/ids", nil)
	req.AddCookie(session)
	assert.Equal(t, http.StatusOK, env.do(req, "").Code)
}

func TestSignupAndLoginErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)

	tests := []struct {
		name   string
		path   string
		body   map[string]string
		status int
	}{
		{"duplicate username", "/signup", map[string]string{"username": "clerk", "password": "another-pass"}, http.StatusConflict},
		{"short password", "/signup", map[string]string{"username": "new", "password": "short"}, http.StatusBadRequest},
		{"wrong password", "/login", map[string]string{"username": "clerk", "password": "wrong-pass"}, http.StatusUnauthorized},
		{"unknown user", "/login", map[string]string{"username": "ghost", "password": "s3cret-pass"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(jsonRequest(http.MethodPost, tt.path, tt.body), "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestSignupDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AllowSignup = false })
	w := env.do(jsonRequest(http.MethodPost, "/signup", map[string]string{"username": "clerk", "password": "s3cret-pass"}), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEmptyStore(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/ids", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/preview", nil), token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"no resident records found"}`, w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/qr.png", nil), token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/batch", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	_, err := os.Stat(env.ledgerPath)
	assert.True(t, os.IsNotExist(err), "reads never create the backing file")
}

func TestIssueAndBrowse(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	w := env.do(issueRequestFor(t, map[string]string{
		"id_number": "00123", "full_name": "juan dela cruz", "position": "clerk",
		"office": "treasury", "contact_name": "maria", "contact_number": " 0917 ",
	}, []byte("fake-png-bytes")), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issued struct {
		Message string        `json:"message"`
		Record  record.Record `json:"record"`
		QR      string        `json:"qr_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.Equal(t, "ID for JUAN DELA CRUZ is ready!", issued.Message)
	assert.Equal(t, "JUAN DELA CRUZ", issued.Record.FullName)
	assert.Equal(t, "0917", issued.Record.ContactNumber)
	assert.NotEmpty(t, issued.Record.DateGenerated)
	assert.True(t, strings.HasPrefix(issued.Record.PhotoFilename, "00123_"))
	png, err := base64.StdEncoding.DecodeString(issued.QR)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	w = env.do(issueRequestFor(t, map[string]string{"id_number": "00124", "full_name": "ana"}, nil), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	var list []record.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "00123", list[0].IDNumber)
	assert.Equal(t, record.DefaultPhoto, list[1].PhotoFilename)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/preview?selected_id=00123", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	var preview issuance.Preview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, "00123", preview.Selected.IDNumber)
	assert.Len(t, preview.Records, 2)
	assert.NotEmpty(t, preview.QR)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/preview?selected_id=missing", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, "00124", preview.Selected.IDNumber, "unknown id falls back to latest")

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/qr.png", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/ids/batch", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	var cards []issuance.Card
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cards))
	require.Len(t, cards, 2)
	assert.NotEmpty(t, cards[1].QR)

	photoPath := "/uploads/" + issued.Record.PhotoFilename
	w = env.do(httptest.NewRequest(http.MethodGet, photoPath, nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fake-png-bytes", w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, env.do(httptest.NewRequest(http.MethodGet, photoPath, nil), "").Code)
}

func TestIssueValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	w := env.do(issueRequestFor(t, map[string]string{"full_name": "no id"}, nil), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(issueRequestFor(t, map[string]string{"id_number": "../etc", "full_name": "x"}, []byte("img")), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(issueRequestFor(t, map[string]string{"id_number": "7", "full_name": strings.Repeat("#", 3000)}, []byte("img")), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"fields too long to fit in the ID QR code"}`, w.Body.String())

	_, err := os.Stat(env.ledgerPath)
	assert.True(t, os.IsNotExist(err), "rejected forms write nothing")
	entries, err := os.ReadDir(env.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCorruptLedger(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)
	require.NoError(t, os.WriteFile(env.ledgerPath, []byte("not a workbook"), 0o644))

	for _, path := range []string{"/v1/ids", "/v1/ids/preview", "/v1/ids/batch"} {
		w := env.do(httptest.NewRequest(http.MethodGet, path, nil), token)
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.JSONEq(t, `{"error":"record store is unreadable"}`, w.Body.String(), path)
	}

	w := env.do(issueRequestFor(t, map[string]string{"id_number": "1", "full_name": "x"}, nil), token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	env.handler.AddHealthCheck("ledger", func(context.Context) bool { return true })

	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","ledger":true}`, w.Body.String())

	env.handler.AddHealthCheck("redis", func(context.Context) bool { return false })
	w = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
