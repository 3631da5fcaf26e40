package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/internal/export"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/models"
)

// MaxUID is the highest uid a terminal accepts.
const MaxUID = 65535

// Failure is a per-record problem reported by Push and Delete.
type Failure struct {
	UID     int    `json:"uid"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// PushReport summarises an upload of cached employees.
type PushReport struct {
	// Pushed maps the cached uid to the uid assigned on the terminal.
	Pushed   map[int]int `json:"pushed"`
	Failures []Failure   `json:"failures,omitempty"`
}

// DeleteReport summarises a deletion.
type DeleteReport struct {
	Deleted  []int     `json:"deleted"`
	Failures []Failure `json:"failures,omitempty"`
}

// ResolveTerminal parses the terminal typed in the form. The configured
// device port replaces the default one.
func (s *Service) ResolveTerminal(value string) (models.Terminal, error) {
	if strings.TrimSpace(value) == "" {
		return models.Terminal{}, invalid("enter the terminal address first")
	}
	t, err := terminal.ParseAddress(value)
	if err != nil {
		return models.Terminal{}, invalid("invalid terminal address %q", value)
	}
	return terminal.WithPort(t, s.Config.Device.Port), nil
}

// KnownTerminals returns the terminals offered in the address picker.
func (s *Service) KnownTerminals() []models.Terminal {
	return s.Config.KnownTerminals()
}

// Fetch reads the employees of t and caches them for the session.
func (s *Service) Fetch(ctx context.Context, sid string, t models.Terminal) ([]models.Employee, error) {
	employees, err := s.ReadEmployees(ctx, t)
	if err != nil {
		return nil, err
	}
	s.Store.SetEmployees(sid, t, employees)

	zerolog.Ctx(ctx).Info().Str("terminal", t.String()).Int("employees", len(employees)).Msg("employees fetched")
	return employees, nil
}

// ReadEmployees reads the employees of t without touching the cache.
func (s *Service) ReadEmployees(ctx context.Context, t models.Terminal) ([]models.Employee, error) {
	var employees []models.Employee
	err := terminal.With(ctx, s.Dialer, t, func(sess terminal.Session) error {
		var err error
		employees, err = terminal.FetchEmployees(ctx, sess)
		return err
	})
	return employees, err
}

// Targets returns the cached employees an action applies to. When uids is
// not empty it replaces the stored selection first.
func (s *Service) Targets(sid string, t models.Terminal, uids []int) ([]models.Employee, error) {
	if _, ok := s.Store.Employees(sid, t); !ok {
		return nil, invalid("no employees cached for %s, fetch or import them first", t)
	}
	if len(uids) > 0 {
		s.Store.Select(sid, t, uids)
	}
	employees := s.Store.SelectedEmployees(sid, t)
	if len(employees) == 0 {
		return nil, invalid("select at least one employee")
	}
	return employees, nil
}

// nextFreeUID returns the lowest uid from start on that is not in used, or
// zero when the terminal is full.
func nextFreeUID(used map[int]bool, start int) int {
	for uid := max(start, 1); uid <= MaxUID; uid++ {
		if !used[uid] {
			return uid
		}
	}
	return 0
}

// Push uploads the selected employees to t. Each record gets the lowest
// free uid on the terminal. The device is disabled while writing.
func (s *Service) Push(ctx context.Context, sid string, t models.Terminal, uids []int) (PushReport, error) {
	employees, err := s.Targets(sid, t, uids)
	if err != nil {
		return PushReport{}, err
	}

	logger := zerolog.Ctx(ctx).With().Str("terminal", t.String()).Logger()
	report := PushReport{Pushed: make(map[int]int)}

	err = terminal.With(ctx, s.Dialer, t, func(sess terminal.Session) error {
		existing, err := sess.ListUsers(ctx)
		if err != nil {
			return err
		}
		used := make(map[int]bool, len(existing))
		for _, e := range existing {
			used[e.UID] = true
		}

		if err := sess.DisableDevice(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not disable terminal during upload")
		}
		defer func() {
			if err := sess.EnableDevice(ctx); err != nil {
				logger.Warn().Err(err).Msg("could not re-enable terminal")
			}
		}()

		next := 1
		for _, e := range employees {
			uid := nextFreeUID(used, next)
			if uid == 0 {
				report.Failures = append(report.Failures, Failure{UID: e.UID, Name: e.Name, Message: "no free uid left on the terminal"})
				continue
			}

			record := e
			record.UID = uid
			if err := sess.SetUser(ctx, record); err != nil {
				logger.Error().Err(err).Int("uid", e.UID).Msg("failed to push employee")
				report.Failures = append(report.Failures, Failure{UID: e.UID, Name: e.Name, Message: err.Error()})
				continue
			}
			used[uid] = true
			next = uid + 1
			report.Pushed[e.UID] = uid
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	logger.Info().Int("pushed", len(report.Pushed)).Int("failed", len(report.Failures)).Msg("employees pushed")
	return report, nil
}

// Delete removes the selected employees from t and from the session cache.
func (s *Service) Delete(ctx context.Context, sid string, t models.Terminal, uids []int) (DeleteReport, error) {
	employees, err := s.Targets(sid, t, uids)
	if err != nil {
		return DeleteReport{}, err
	}

	logger := zerolog.Ctx(ctx).With().Str("terminal", t.String()).Logger()
	report := DeleteReport{Deleted: []int{}}

	err = terminal.With(ctx, s.Dialer, t, func(sess terminal.Session) error {
		for _, e := range employees {
			if err := sess.DeleteUser(ctx, e.UID); err != nil {
				logger.Error().Err(err).Int("uid", e.UID).Msg("failed to delete employee")
				report.Failures = append(report.Failures, Failure{UID: e.UID, Name: e.Name, Message: err.Error()})
				continue
			}
			report.Deleted = append(report.Deleted, e.UID)
		}
		return nil
	})

	// Whatever was deleted before a failure is gone from the terminal too.
	s.Store.Remove(sid, t, report.Deleted)
	if err != nil {
		return report, err
	}

	logger.Info().Int("deleted", len(report.Deleted)).Int("failed", len(report.Failures)).Msg("employees deleted")
	return report, nil
}

// Status reads the terminal information shown by the status action.
func (s *Service) Status(ctx context.Context, t models.Terminal) (models.TerminalStatus, error) {
	var status models.TerminalStatus
	err := terminal.With(ctx, s.Dialer, t, func(sess terminal.Session) error {
		status = sess.Info(ctx)
		return nil
	})
	return status, err
}

// SyncTime sets the terminal clock to the server clock and returns the time
// written.
func (s *Service) SyncTime(ctx context.Context, t models.Terminal) (time.Time, error) {
	now := s.now().Truncate(time.Second)
	err := terminal.With(ctx, s.Dialer, t, func(sess terminal.Session) error {
		if err := sess.EnableDevice(ctx); err != nil {
			return err
		}
		return sess.SetTime(ctx, now)
	})
	if err != nil {
		return time.Time{}, err
	}

	zerolog.Ctx(ctx).Info().Str("terminal", t.String()).Time("time", now).Msg("terminal time synchronised")
	return now, nil
}

// Clear drops the cache of t, or of every terminal of the session when t has
// no host. It returns the number of cached employees dropped for t.
func (s *Service) Clear(sid string, t models.Terminal) int {
	if t.Host == "" {
		s.Store.ClearAll(sid)
		return 0
	}
	return s.Store.Clear(sid, t)
}

// Import parses an uploaded file and replaces the session cache for t.
func (s *Service) Import(ctx context.Context, sid string, t models.Terminal, filename string, data []byte) (int, error) {
	employees, err := export.Parse(filename, data)
	if err != nil {
		return 0, &ValidationError{Message: err.Error()}
	}
	s.Store.SetEmployees(sid, t, employees)

	zerolog.Ctx(ctx).Info().Str("terminal", t.String()).Str("file", filename).Int("employees", len(employees)).Msg("employees imported")
	return len(employees), nil
}

// Duplicates returns the employees sharing a name, compared without case,
// with at least two different user ids. The result is ordered by name and
// uid.
func Duplicates(employees []models.Employee) []models.Employee {
	groups := make(map[string][]models.Employee)
	for _, e := range employees {
		name := foldName(e.Name)
		if name == "" {
			continue
		}
		groups[name] = append(groups[name], e)
	}

	out := []models.Employee{}
	for _, group := range groups {
		ids := make(map[string]bool)
		for _, e := range group {
			ids[strings.TrimSpace(e.UserID)] = true
		}
		if len(ids) > 1 {
			out = append(out, group...)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := foldName(out[i].Name), foldName(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].UID < out[j].UID
	})
	return out
}

// ExportFile is a generated download.
type ExportFile struct {
	Name        string
	ContentType string
	Employees   []models.Employee
	Format      export.Format
}

// Export prepares the download of the selected employees in format.
func (s *Service) Export(sid string, t models.Terminal, format string, uids []int) (ExportFile, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return ExportFile{}, &ValidationError{Message: err.Error()}
	}
	employees, err := s.Targets(sid, t, uids)
	if err != nil {
		return ExportFile{}, err
	}
	return ExportFile{
		Name:        export.Filename(t, s.now(), f),
		ContentType: f.ContentType(),
		Employees:   employees,
		Format:      f,
	}, nil
}

func foldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
