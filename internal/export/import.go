package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/zktools/zk-tools/models"
)

var (
	ErrNoFile          = errors.New("no file selected")
	ErrEmptyFile       = errors.New("the employee file is empty")
	ErrUnsupportedFile = errors.New("unsupported file type, use JSON, CSV or Excel")
)

// aliases maps every accepted (lower-case) header to its field.
var aliases = map[string]string{}

func init() {
	for field, names := range map[string][]string{
		"uid":        {"uid", "id", "identificador"},
		"name":       {"name", "nombre"},
		"user_id":    {"user_id", "user id", "userid", "id usuario", "idusuario"},
		"card":       {"card", "tarjeta", "num tarjeta"},
		"privilege":  {"privilege", "privilegio"},
		"group_id":   {"group_id", "group id", "grupo", "id grupo", "grupo id"},
		"biometrics": {"biometrics", "biometria", "biometría", "biometricas", "plantillas"},
		"enabled":    {"enabled", "activo", "habilitado"},
	} {
		for _, n := range names {
			aliases[n] = field
		}
	}
}

// Parse reads an uploaded employee file. The format is picked from the
// extension of filename.
func Parse(filename string, data []byte) ([]models.Employee, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, ErrNoFile
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var (
		records []map[string]any
		err     error
	)
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "json":
		records, err = readJSON(data)
	case "csv":
		records, err = readCSV(data)
	case "xlsx", "xlsm":
		records, err = readExcel(data)
	default:
		return nil, ErrUnsupportedFile
	}
	if err != nil {
		return nil, err
	}
	return normalize(records), nil
}

func readJSON(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON file: %w", err)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("the JSON file must contain a list of employees")
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func readCSV(data []byte) ([]map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV file: %w", err)
	}
	return fromRows(rows), nil
}

func readExcel(data []byte) ([]map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, fmt.Errorf("invalid Excel file: %w", err)
	}
	return fromRows(rows), nil
}

// fromRows turns a header row plus data rows into records keyed by header.
func fromRows(rows [][]string) []map[string]any {
	if len(rows) == 0 {
		return nil
	}
	head := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		head[i] = strings.ToLower(strings.TrimSpace(h))
	}

	out := make([]map[string]any, 0, len(rows)-1)
	for _, r := range rows[1:] {
		rec := make(map[string]any, len(head))
		for i, v := range r {
			if i < len(head) && head[i] != "" {
				rec[head[i]] = v
			}
		}
		out = append(out, rec)
	}
	return out
}

// normalize maps loose records onto employees. Rows with no usable value are
// dropped. Rows without a uid, or repeating one, get the next free uid so
// every row can be selected.
func normalize(records []map[string]any) []models.Employee {
	out := make([]models.Employee, 0, len(records))
	used := make(map[int]bool)
	var pending []int

	for _, raw := range records {
		fields := make(map[string]any)
		for k, v := range raw {
			if f, ok := aliases[strings.ToLower(strings.TrimSpace(k))]; ok {
				if _, dup := fields[f]; !dup {
					fields[f] = v
				}
			}
		}

		e := models.Employee{
			Name:       text(fields["name"]),
			UserID:     text(fields["user_id"]),
			Card:       text(fields["card"]),
			Privilege:  models.ParsePrivilege(text(fields["privilege"])),
			GroupID:    text(fields["group_id"]),
			Enabled:    enabled(fields["enabled"]),
			Biometrics: biometrics(fields["biometrics"]),
		}
		uid, _ := strconv.Atoi(text(fields["uid"]))
		if uid == 0 && e.Name == "" && e.UserID == "" && e.Card == "" {
			continue
		}

		if uid > 0 && !used[uid] {
			e.UID = uid
			used[uid] = true
		} else {
			pending = append(pending, len(out))
		}
		out = append(out, e)
	}

	next := 1
	for _, i := range pending {
		for used[next] {
			next++
		}
		out[i].UID = next
		used[next] = true
	}
	return out
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func enabled(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	switch strings.ToLower(text(v)) {
	case "0", "false", "no", "n":
		return false
	}
	return true
}

// biometrics accepts a list of objects or the same list as JSON text.
// Anything else yields an empty list.
func biometrics(v any) []models.Template {
	out := []models.Template{}

	var raw []byte
	switch t := v.(type) {
	case []any:
		b, err := json.Marshal(t)
		if err != nil {
			return out
		}
		raw = b
	case string:
		raw = []byte(strings.TrimSpace(t))
	default:
		return out
	}
	if len(raw) == 0 {
		return out
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		var tpl models.Template
		if err := json.Unmarshal(item, &tpl); err != nil {
			continue
		}
		out = append(out, tpl)
	}
	return out
}
