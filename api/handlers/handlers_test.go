package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zktools/zk-tools/api/services"
	"github.com/zktools/zk-tools/db"
	"github.com/zktools/zk-tools/internal/appconfig"
	"github.com/zktools/zk-tools/internal/authn"
	"github.com/zktools/zk-tools/internal/selection"
	"github.com/zktools/zk-tools/internal/terminal/terminaltest"
	"github.com/zktools/zk-tools/models"
)

var term = models.Terminal{Host: "10.0.0.5", Port: models.DefaultPort}

type harness struct {
	svc    *services.Service
	dialer *terminaltest.Dialer
	srv    *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T, configure func(*services.Service)) *harness {
	t.Helper()
	signer, err := authn.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)

	dialer := terminaltest.NewDialer()
	svc := &services.Service{
		Config: appconfig.Default(),
		Dialer: dialer,
		Store:  selection.NewStore(time.Hour),
		Signer: signer,
		Now:    func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	if configure != nil {
		configure(svc)
	}

	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{svc: svc, dialer: dialer, srv: srv, client: &http.Client{Jar: jar}}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.Get(h.srv.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.PostForm(h.srv.URL+path, form)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func action(name string, selected ...string) url.Values {
	return url.Values{"action": {name}, "terminal": {"10.0.0.5"}, "selected": selected}
}

func employee(uid int, name, userID string) models.Employee {
	return models.Employee{UID: uid, Name: name, UserID: userID, Enabled: true}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":1,"data":{"status":"ok"}}`, body)
}

func TestIndexWithoutTerminal(t *testing.T) {
	h := newHarness(t, func(s *services.Service) {
		s.Config.Terminals = []models.Terminal{{Host: "10.0.0.9", Port: models.DefaultPort, Label: "Lobby"}}
	})

	resp, body := h.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Terminal employees")
	assert.Contains(t, body, `value="10.0.0.9"`)
	assert.NotContains(t, body, "selection-count")
}

func TestFetchZeroUsers(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Add(term, terminaltest.NewDevice())

	resp, body := h.post(t, "/", action("fetch"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Request.URL.Path)
	assert.Equal(t, "10.0.0.5", resp.Request.URL.Query().Get("terminal"))
	assert.Contains(t, body, "Read 0 employees from 10.0.0.5.")
	assert.Contains(t, body, "0 of 0 selected")
	assert.Contains(t, body, "No employees.")
}

func TestFetchSelectAndExport(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100"), employee(2, "Luis", "200")))

	_, body := h.post(t, "/", action("fetch"))
	assert.Contains(t, body, "0 of 2 selected")

	_, body = h.post(t, "/", action("select", "2"))
	assert.Contains(t, body, "1 of 2 selected")

	// Toggling the same selection again changes nothing.
	_, body = h.post(t, "/", action("select", "2"))
	assert.Contains(t, body, "1 of 2 selected")

	resp, body := h.post(t, "/", action("export_json"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="empleados_10.0.0.5_20240102-030405.json"`, resp.Header.Get("Content-Disposition"))

	var exported []models.Employee
	require.NoError(t, json.Unmarshal([]byte(body), &exported))
	require.Len(t, exported, 1)
	assert.Equal(t, "Luis", exported[0].Name)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100")))

	_, body := h.post(t, "/", action("fetch"))
	assert.Contains(t, body, "0 of 1 selected")

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	stranger := &http.Client{Jar: jar}

	resp, err := stranger.Get(h.srv.URL + "/?terminal=10.0.0.5")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "Nothing cached for this terminal yet.")
}

func TestValidationErrorsBecomeFlashes(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100")))

	_, body := h.post(t, "/", action("push", "1"))
	assert.Contains(t, body, "no employees cached for 10.0.0.5")

	_, body = h.post(t, "/", url.Values{"action": {"fetch"}})
	assert.Contains(t, body, "enter the terminal address first")

	_, body = h.post(t, "/", action("bogus"))
	assert.Contains(t, body, "unknown action")

	h.post(t, "/", action("fetch"))
	_, body = h.post(t, "/", action("delete"))
	assert.Contains(t, body, "select at least one employee")
}

func TestUnreachableTerminal(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.post(t, "/", action("fetch"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "flash error")
}

func TestPushAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	dev := h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100"), employee(2, "Luis", "200")))

	h.post(t, "/", action("fetch"))

	_, body := h.post(t, "/", action("push", "1", "2"))
	assert.Contains(t, body, "Sent 2 employees to 10.0.0.5.")
	assert.Len(t, dev.Snapshot(), 4)

	_, body = h.post(t, "/", action("delete", "1"))
	assert.Contains(t, body, "Deleted 1 employee from 10.0.0.5.")
	assert.Contains(t, body, "0 of 1 selected")
	assert.Len(t, dev.Snapshot(), 3)
}

func TestImportUpload(t *testing.T) {
	h := newHarness(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("action", "import"))
	require.NoError(t, mw.WriteField("terminal", "10.0.0.5"))
	fw, err := mw.CreateFormFile("employee_file", "empleados.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("UID,Nombre,User ID,Tarjeta\n1,Ana,100,12345\n2,Luis,200,\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := h.client.Post(h.srv.URL+"/", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Contains(t, body, "Imported 2 employees for 10.0.0.5.")
	assert.Contains(t, body, "0 of 2 selected")
	assert.Contains(t, body, "12345")
}

func TestStatusAndDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	dev := h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100"), employee(2, "ana", "200"), employee(3, "Luis", "300")))
	dev.Status = models.TerminalStatus{SerialNumber: "SN-42", Errors: []string{"platform: not supported"}}

	resp, body := h.post(t, "/", action("status"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "SN-42")
	assert.Contains(t, body, "platform: not supported")

	h.post(t, "/", action("fetch"))
	_, body = h.post(t, "/", action("duplicates"))
	assert.Contains(t, body, "Found 2 employees sharing a name")
	assert.Contains(t, body, "0 of 2 selected")
	assert.NotContains(t, body, "Luis")
}

func TestSyncTimeAndClear(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100")))

	_, body := h.post(t, "/", action("sync_time"))
	assert.Contains(t, body, "Clock of 10.0.0.5 set to 2024-01-02 03:04:05.")

	h.post(t, "/", action("fetch"))
	_, body = h.post(t, "/", action("clear"))
	assert.Contains(t, body, "Cleared 1 employee cached for 10.0.0.5.")

	_, body = h.post(t, "/", url.Values{"action": {"clear"}})
	assert.Contains(t, body, "Cleared every cached terminal.")
}

func TestAPIEmployees(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Add(term, terminaltest.NewDevice(employee(1, "Ana", "100"), employee(2, "Luis", "200")))

	resp, body := h.get(t, "/api/terminals/10.0.0.5/employees")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Success int               `json:"success"`
		Data    []models.Employee `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, 1, payload.Success)
	assert.Len(t, payload.Data, 2)

	resp, body = h.get(t, "/api/terminals/10.0.0.6/status")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, `"success":0`)
}

func TestLoginWithToken(t *testing.T) {
	h := newHarness(t, func(s *services.Service) {
		s.Config.Auth.Token = "s3cret-token"
	})

	resp, body := h.get(t, "/?terminal=10.0.0.5")
	assert.Equal(t, "/auth/login", resp.Request.URL.Path)
	assert.Contains(t, body, "Access token")

	resp, _ = h.get(t, "/api/terminals")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, body = h.post(t, "/auth/login", url.Values{"password": {"wrong"}, "next": {"/?terminal=10.0.0.5"}})
	assert.Contains(t, body, "Invalid username or password.")

	resp, body = h.post(t, "/auth/login", url.Values{"password": {"s3cret-token"}, "next": {"/?terminal=10.0.0.5"}})
	assert.Equal(t, "/", resp.Request.URL.Path)
	assert.Equal(t, "10.0.0.5", resp.Request.URL.Query().Get("terminal"))
	assert.Contains(t, body, "Welcome, token.")

	resp, _ = h.get(t, "/api/terminals")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.get(t, "/auth/logout")
	assert.Equal(t, "/auth/login", resp.Request.URL.Path)
	resp, _ = h.get(t, "/api/terminals")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	h := newHarness(t, func(s *services.Service) {
		s.Config.Auth.Token = "s3cret-token"
		s.Config.Auth.LoginAttempts = 3
	})

	attempt := func(i int) int {
		form := url.Values{"password": {"wrong"}}
		req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/auth/login", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		resp, err := h.client.Do(req)
		require.NoError(t, err)
		readBody(t, resp)
		return resp.StatusCode
	}

	for i := 1; i <= 3; i++ {
		assert.NotEqual(t, http.StatusTooManyRequests, attempt(i))
	}
	assert.Equal(t, http.StatusTooManyRequests, attempt(4))
}

func TestOperatorsAPIRequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.get(t, "/api/operators")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoginIgnoresForeignNext(t *testing.T) {
	assert.Equal(t, "/", safeNext("https://evil.example"))
	assert.Equal(t, "/", safeNext("//evil.example"))
	assert.Equal(t, "/?terminal=1.2.3.4", safeNext("/?terminal=1.2.3.4"))
}

func TestOperatorsPage(t *testing.T) {
	logger := zerolog.Nop()
	store, err := db.NewOperatorDB(db.DriverSQLite, filepath.Join(t.TempDir(), "operators.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	_, err = store.EnsureDefaultAdmin(context.Background())
	require.NoError(t, err)
	_, err = store.CreateOperator(context.Background(), "clerk", "clerk-pass", false)
	require.NoError(t, err)

	h := newHarness(t, func(s *services.Service) { s.DB = store })

	_, body := h.post(t, "/auth/login", url.Values{"username": {"admin"}, "password": {db.DefaultAdminPassword}})
	assert.Contains(t, body, "Welcome, admin.")

	resp, body := h.get(t, "/auth/operators")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "clerk")

	resp, body = h.get(t, "/api/operators")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Data []models.Operator `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Len(t, listed.Data, 2)
	assert.Equal(t, "admin", listed.Data[0].Username)
	assert.True(t, listed.Data[0].IsAdmin)
	assert.Equal(t, "clerk", listed.Data[1].Username)

	_, body = h.post(t, "/auth/operators", url.Values{
		"action": {"create"}, "username": {"bob"}, "password": {"bob-password"}, "confirm": {"bob-typo"},
	})
	assert.Contains(t, body, "passwords do not match")

	_, body = h.post(t, "/auth/operators", url.Values{
		"action": {"create"}, "username": {"bob"}, "password": {"bob-password"}, "confirm": {"bob-password"},
	})
	assert.Contains(t, body, "Operator bob created.")

	admin, err := store.GetOperatorByUsername(context.Background(), "admin")
	require.NoError(t, err)
	_, body = h.post(t, "/auth/operators", url.Values{"action": {"delete"}, "id": {"1"}})
	assert.Equal(t, int64(1), admin.ID)
	assert.Contains(t, body, "you cannot delete your own account")

	// A non-admin operator is turned away.
	clerk := newHarness(t, func(s *services.Service) { s.DB = store })
	clerk.post(t, "/auth/login", url.Values{"username": {"clerk"}, "password": {"clerk-pass"}})
	resp, _ = clerk.get(t, "/auth/operators")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
