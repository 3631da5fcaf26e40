package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/api/middleware"
	"github.com/zktools/zk-tools/api/services"
	"github.com/zktools/zk-tools/internal/selection"
	"github.com/zktools/zk-tools/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"privilege": models.PrivilegeLabel,
	"hasCard":   models.ValidCard,
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04:05")
	},
}).ParseFS(templateFS, "templates/*.html"))

// Flash levels.
const (
	levelSuccess = "success"
	levelInfo    = "info"
	levelWarning = "warning"
	levelError   = "error"
)

// page is the data every template gets.
type page struct {
	Title       string
	Flashes     []selection.Flash
	Operator    string
	Admin       bool
	LoggedIn    bool
	AuthEnabled bool
}

func newPage(svc *services.Service, r *http.Request, title string) page {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	return page{
		Title:       title,
		Flashes:     svc.Store.Flashes(claims.SessionID()),
		Operator:    claims.Operator,
		Admin:       claims.Admin,
		LoggedIn:    claims.Authenticated,
		AuthEnabled: svc.AuthEnabled(),
	}
}

// sessionID returns the id keying the selection store for this request.
func sessionID(r *http.Request) string {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	return claims.SessionID()
}

func render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("failed to render page")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func isTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// indexURL builds the address of the main page for a terminal.
func indexURL(terminal string, expand bool) string {
	q := url.Values{}
	if t := strings.TrimSpace(terminal); t != "" {
		q.Set("terminal", t)
	}
	if expand {
		q.Set("expand_details", "1")
	}
	if len(q) == 0 {
		return "/"
	}
	return "/?" + q.Encode()
}

// safeNext only accepts local paths as a post-login target.
func safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.HasPrefix(next, "/\\") {
		return next
	}
	return "/"
}
