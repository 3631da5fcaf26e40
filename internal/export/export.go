// Package export turns employee selections into CSV, JSON or Excel files and
// reads such files back.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/zktools/zk-tools/models"
)

// Column is one exported field.
type Column struct {
	Key    string
	Header string
}

// Columns is the fixed export layout.
var Columns = []Column{
	{"uid", "UID"},
	{"name", "Nombre"},
	{"user_id", "User ID"},
	{"card", "Tarjeta"},
	{"privilege", "Privilegio"},
	{"group_id", "Grupo"},
	{"biometrics", "Biometría"},
}

// SheetName is the worksheet name used in Excel exports.
const SheetName = "Empleados"

// Format is an export file format.
type Format string

const (
	CSV   Format = "csv"
	JSON  Format = "json"
	Excel Format = "excel"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat accepts "csv", "json" and "excel" (or "xlsx").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	case "excel", "xlsx":
		return Excel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == Excel {
		return "xlsx"
	}
	return string(f)
}

func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case JSON:
		return "application/json; charset=utf-8"
	default:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
}

// Filename builds empleados_<host>_<YYYYMMDD-HHMMSS>.<ext>. Colons in the
// terminal address become dashes.
func Filename(t models.Terminal, now time.Time, f Format) string {
	host := strings.ReplaceAll(t.String(), ":", "-")
	return fmt.Sprintf("empleados_%s_%s.%s", host, now.Format("20060102-150405"), f.Ext())
}

// Write renders employees in format f.
func Write(w io.Writer, f Format, employees []models.Employee) error {
	switch f {
	case CSV:
		return WriteCSV(w, employees)
	case JSON:
		return WriteJSON(w, employees)
	case Excel:
		return WriteExcel(w, employees)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

func headers() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.Header
	}
	return out
}

func row(e models.Employee) ([]string, error) {
	bio := e.Biometrics
	if bio == nil {
		bio = []models.Template{}
	}
	b, err := json.Marshal(bio)
	if err != nil {
		return nil, err
	}
	return []string{
		strconv.Itoa(e.UID),
		e.Name,
		e.UserID,
		e.Card,
		strconv.Itoa(e.Privilege),
		e.GroupID,
		string(b),
	}, nil
}

func WriteCSV(w io.Writer, employees []models.Employee) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers()); err != nil {
		return err
	}
	for _, e := range employees {
		r, err := row(e)
		if err != nil {
			return err
		}
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, employees []models.Employee) error {
	if employees == nil {
		employees = []models.Employee{}
	}
	out := make([]models.Employee, len(employees))
	for i, e := range employees {
		if e.Biometrics == nil {
			e.Biometrics = []models.Template{}
		}
		out[i] = e
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

func WriteExcel(w io.Writer, employees []models.Employee) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	write := func(n int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		r := make([]interface{}, len(values))
		for i, v := range values {
			r[i] = v
		}
		return f.SetSheetRow(SheetName, cell, &r)
	}

	if err := write(1, headers()); err != nil {
		return err
	}
	for i, e := range employees {
		r, err := row(e)
		if err != nil {
			return err
		}
		if err := write(i+2, r); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
