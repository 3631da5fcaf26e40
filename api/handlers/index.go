package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/api/services"
	"github.com/zktools/zk-tools/internal/export"
	"github.com/zktools/zk-tools/models"
)

type indexPage struct {
	page
	TerminalValue string
	Terminal      *models.Terminal
	Known         []models.Terminal
	Rows          []services.Row
	Total         int
	SelectedCount int
	Cached        bool
	Status        *models.TerminalStatus
	Duplicates    bool
	Expand        bool
	Directory     bool
}

// indexView is what a request asks the main page to show.
type indexView struct {
	value    string
	terminal *models.Terminal
	expand   bool
	status   *models.TerminalStatus
	// override replaces the cached table, as the duplicates action does.
	override []models.Employee
}

// Index renders the terminal form and the cached table of the terminal in
// ?terminal=.
func Index(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		view := indexView{value: q.Get("terminal"), expand: isTrue(q.Get("expand_details"))}

		if strings.TrimSpace(view.value) != "" {
			t, err := svc.ResolveTerminal(view.value)
			if err != nil {
				svc.Store.AddFlash(sessionID(r), levelWarning, err.Error())
			} else {
				view.terminal = &t
			}
		}
		renderIndex(w, r, svc, http.StatusOK, view)
	}
}

func renderIndex(w http.ResponseWriter, r *http.Request, svc *services.Service, status int, view indexView) {
	sid := sessionID(r)
	data := indexPage{
		TerminalValue: strings.TrimSpace(view.value),
		Terminal:      view.terminal,
		Known:         svc.KnownTerminals(),
		Status:        view.status,
		Duplicates:    view.override != nil,
		Directory:     svc.Directory != nil && svc.Directory.Enabled(),
	}

	if view.terminal != nil {
		t := *view.terminal
		data.TerminalValue = t.String()

		employees, cached := svc.Store.Employees(sid, t)
		data.Cached = cached
		if view.override != nil {
			employees = view.override
		}

		annotation := svc.Annotate(r.Context(), employees, view.expand)
		if view.expand && !annotation.Expanded && data.Directory {
			svc.Store.AddFlash(sid, levelWarning, "Expanded employee details are not available right now.")
		}
		data.Expand = annotation.Expanded

		data.Rows = services.Rows(employees, svc.Store.Selected(sid, t), annotation)
		data.Total = len(data.Rows)
		for _, row := range data.Rows {
			if row.Selected {
				data.SelectedCount++
			}
		}
	}

	data.page = newPage(svc, r, "Terminal employees")
	render(w, r, status, "index.html", data)
}

// Action handles the buttons of the main page. Most actions store a flash
// message and redirect back to the terminal; status and duplicates render
// their result directly and exports stream a file.
func Action(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		sid := sessionID(r)

		r.Body = http.MaxBytesReader(w, r.Body, svc.Config.Server.MaxUpload)
		if err := r.ParseMultipartForm(svc.Config.Server.MaxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			logger.Warn().Err(err).Msg("invalid form submission")
			svc.Store.AddFlash(sid, levelError, "The form could not be read. Is the file too large?")
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		action := r.FormValue("action")
		value := r.FormValue("terminal")
		expand := isTrue(r.FormValue("expand_details"))
		uids := services.ParseUIDs(r.Form["selected"])
		back := indexURL(value, expand)

		logger.Debug().Str("action", action).Str("terminal", value).Int("selected", len(uids)).Msg("index action")

		fail := func(err error) {
			if services.IsValidation(err) {
				svc.Store.AddFlash(sid, levelWarning, err.Error())
			} else {
				logger.Error().Err(err).Str("action", action).Msg("terminal action failed")
				svc.Store.AddFlash(sid, levelError, err.Error())
			}
			http.Redirect(w, r, back, http.StatusSeeOther)
		}

		if action == "clear" && strings.TrimSpace(value) == "" {
			svc.Clear(sid, models.Terminal{})
			svc.Store.AddFlash(sid, levelInfo, "Cleared every cached terminal.")
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		t, err := svc.ResolveTerminal(value)
		if err != nil {
			fail(err)
			return
		}
		back = indexURL(t.String(), expand)

		switch action {
		case "fetch":
			employees, err := svc.Fetch(r.Context(), sid, t)
			if err != nil {
				fail(err)
				return
			}
			svc.Store.AddFlash(sid, levelSuccess, fmt.Sprintf("Read %s from %s.", pluralize(len(employees), "employee"), t))

		case "select":
			svc.Store.Select(sid, t, uids)

		case "push":
			report, err := svc.Push(r.Context(), sid, t, uids)
			if err != nil {
				fail(err)
				return
			}
			if len(report.Pushed) > 0 {
				svc.Store.AddFlash(sid, levelSuccess, fmt.Sprintf("Sent %s to %s.", pluralize(len(report.Pushed), "employee"), t))
			}
			flashFailures(svc, sid, "send", report.Failures)

		case "delete":
			report, err := svc.Delete(r.Context(), sid, t, uids)
			if err != nil {
				fail(err)
				return
			}
			if len(report.Deleted) > 0 {
				svc.Store.AddFlash(sid, levelSuccess, fmt.Sprintf("Deleted %s from %s.", pluralize(len(report.Deleted), "employee"), t))
			}
			flashFailures(svc, sid, "delete", report.Failures)

		case "export_csv", "export_json", "export_excel":
			file, err := svc.Export(sid, t, strings.TrimPrefix(action, "export_"), uids)
			if err != nil {
				fail(err)
				return
			}
			var buf bytes.Buffer
			if err := export.Write(&buf, file.Format, file.Employees); err != nil {
				fail(err)
				return
			}
			w.Header().Set("Content-Type", file.ContentType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
			w.WriteHeader(http.StatusOK)
			buf.WriteTo(w)
			return

		case "import":
			file, header, err := r.FormFile("employee_file")
			if err != nil {
				fail(&services.ValidationError{Message: "choose a file to import"})
				return
			}
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				fail(err)
				return
			}
			n, err := svc.Import(r.Context(), sid, t, header.Filename, data)
			if err != nil {
				fail(err)
				return
			}
			svc.Store.AddFlash(sid, levelSuccess, fmt.Sprintf("Imported %s for %s.", pluralize(n, "employee"), t))

		case "status":
			status, err := svc.Status(r.Context(), t)
			if err != nil {
				fail(err)
				return
			}
			renderIndex(w, r, svc, http.StatusOK, indexView{value: value, terminal: &t, expand: expand, status: &status})
			return

		case "sync_time":
			set, err := svc.SyncTime(r.Context(), t)
			if err != nil {
				fail(err)
				return
			}
			svc.Store.AddFlash(sid, levelSuccess, fmt.Sprintf("Clock of %s set to %s.", t, set.Format("2006-01-02 15:04:05")))

		case "clear":
			if n := svc.Clear(sid, t); n > 0 {
				svc.Store.AddFlash(sid, levelInfo, fmt.Sprintf("Cleared %s cached for %s.", pluralize(n, "employee"), t))
			} else {
				svc.Store.AddFlash(sid, levelInfo, fmt.Sprintf("Nothing was cached for %s.", t))
			}

		case "duplicates":
			cached, _ := svc.Store.Employees(sid, t)
			if len(cached) == 0 {
				fail(&services.ValidationError{Message: fmt.Sprintf("no employees cached for %s, fetch them first", t)})
				return
			}
			dups := services.Duplicates(cached)
			if len(dups) > 0 {
				svc.Store.AddFlash(sid, levelInfo, fmt.Sprintf("Found %s sharing a name with a different user id.", pluralize(len(dups), "employee")))
			} else {
				svc.Store.AddFlash(sid, levelInfo, "No employees share a name with a different user id.")
			}
			renderIndex(w, r, svc, http.StatusOK, indexView{value: value, terminal: &t, expand: expand, override: dups})
			return

		default:
			fail(&services.ValidationError{Message: fmt.Sprintf("unknown action %q", action)})
			return
		}

		http.Redirect(w, r, back, http.StatusSeeOther)
	}
}

func flashFailures(svc *services.Service, sid, verb string, failures []services.Failure) {
	for _, f := range failures {
		svc.Store.AddFlash(sid, levelError, fmt.Sprintf("Could not %s employee %d (%s): %s", verb, f.UID, f.Name, f.Message))
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
