package services

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/internal/directory"
	"github.com/zktools/zk-tools/models"
)

// Row is an employee as rendered in the table, with optional directory data.
type Row struct {
	models.Employee
	Selected bool
	LastSeen string
	Details  *directory.Details
}

// Annotation holds the directory lookups for a set of rows.
type Annotation struct {
	LastSeen map[int]string
	Details  map[int]directory.Details
	// Expanded is false when expanded details were asked for but could not
	// be loaded.
	Expanded bool
}

// Annotate looks up the last-seen time of every employee by user id and,
// when expand is set, the directory details by name. Directory failures are
// logged and leave the rows unannotated.
func (s *Service) Annotate(ctx context.Context, employees []models.Employee, expand bool) Annotation {
	out := Annotation{LastSeen: map[int]string{}, Details: map[int]directory.Details{}, Expanded: expand}
	if s.Directory == nil || !s.Directory.Enabled() || len(employees) == 0 {
		out.Expanded = false
		return out
	}

	logger := zerolog.Ctx(ctx)
	records, err := s.Directory.Records(ctx, false)
	if err != nil {
		logger.Error().Err(err).Msg("employee directory unavailable")
		out.Expanded = false
		return out
	}

	now := s.now()
	byCode := directory.ByCode(records)
	for _, e := range employees {
		if d, ok := byCode.Lookup(e.UserID); ok {
			out.LastSeen[e.UID] = directory.RelativeTime(d.LastSeen, now, "")
		}
	}

	if expand {
		byDNI := directory.ByDNI(records)
		for _, e := range employees {
			if d, ok := byDNI.Lookup(e.Name); ok {
				out.Details[e.UID] = d
			}
		}
	}
	return out
}

// Rows joins employees with the selection and their annotation.
func Rows(employees []models.Employee, selected []int, a Annotation) []Row {
	picked := make(map[int]bool, len(selected))
	for _, uid := range selected {
		picked[uid] = true
	}

	rows := make([]Row, 0, len(employees))
	for _, e := range employees {
		row := Row{Employee: e, Selected: picked[e.UID], LastSeen: a.LastSeen[e.UID]}
		if d, ok := a.Details[e.UID]; ok {
			row.Details = &d
		}
		rows = append(rows, row)
	}
	return rows
}

// ParseUIDs converts the submitted checkbox values, skipping anything that
// is not a uid.
func ParseUIDs(values []string) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		uid, err := strconv.Atoi(v)
		if err != nil || uid < 1 || uid > MaxUID {
			continue
		}
		out = append(out, uid)
	}
	return out
}
