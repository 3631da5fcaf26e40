// Package directory reads the HR employee directory that complements the
// terminal records with national id, display name and last badge time.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is how long a downloaded directory is served before refreshing.
const DefaultTTL = 2 * time.Hour

// ErrDisabled is returned when no directory URL is configured.
var ErrDisabled = errors.New("employee directory not configured")

// Record is one directory entry as published by HR.
type Record struct {
	Code     string `json:"CODIGO_ZK_ATRIBUTO"`
	DNI      string `json:"DNI"`
	Name     string `json:"NOMBRE"`
	CenterID string `json:"COD_CT"`
	LastSeen string `json:"LAST_SEEN"`
}

// Details is what the UI shows next to an employee.
type Details struct {
	DNI      string `json:"dni"`
	Name     string `json:"nombre"`
	CenterID string `json:"cod_ct"`
	LastSeen string `json:"last_seen"`
}

// Index maps identifier variants to details.
type Index map[string]Details

// HTTPError reports a non-success answer from the directory endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("directory answered %d: %s", e.Status, e.Body)
}

// Client downloads and caches the directory.
type Client struct {
	URL        string
	TTL        time.Duration
	HTTPClient *http.Client

	mu      sync.Mutex
	records []Record
	fetched time.Time
	now     func() time.Time
}

// NewClient returns a client for url. An empty url gives a client whose
// lookups fail with ErrDisabled.
func NewClient(url string, ttl, timeout time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		URL:        url,
		TTL:        ttl,
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Enabled reports whether a directory URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.URL != ""
}

func (c *Client) makeRequest(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) download(ctx context.Context) ([]Record, error) {
	body, err := c.makeRequest(ctx)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("directory response is not a JSON list: %w", err)
	}

	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		out = append(out, Record{
			Code:     field(r, "CODIGO_ZK_ATRIBUTO"),
			DNI:      field(r, "DNI"),
			Name:     field(r, "NOMBRE"),
			CenterID: field(r, "COD_CT"),
			LastSeen: field(r, "LAST_SEEN"),
		})
	}
	return out, nil
}

// field reads a value that HR sometimes sends as a number.
func field(r map[string]any, key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", v))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Records returns the directory, downloading it when the cached copy is
// older than the TTL or force is set. When a refresh fails and an older copy
// exists, the older copy is returned.
func (c *Client) Records(ctx context.Context, force bool) ([]Record, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !force && len(c.records) > 0 && now.Sub(c.fetched) < c.TTL {
		return c.records, nil
	}

	records, err := c.download(ctx)
	if err != nil {
		if len(c.records) > 0 {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("directory refresh failed, serving cached copy")
			return c.records, nil
		}
		return nil, err
	}
	c.records = records
	c.fetched = now
	return records, nil
}

func details(r Record) Details {
	return Details{DNI: r.DNI, Name: r.Name, CenterID: r.CenterID, LastSeen: r.LastSeen}
}

// ByCode indexes records by their terminal user code. Each code is also
// stored upper-cased and without leading zeros; the exact code always wins
// over a variant of another code.
func ByCode(records []Record) Index {
	idx := make(Index)
	for _, r := range records {
		code := r.Code
		if code == "" {
			continue
		}
		d := details(r)
		idx[code] = d

		trimmed := strings.TrimLeft(code, "0")
		for _, v := range []string{trimmed, strings.ToUpper(code), strings.ToUpper(trimmed)} {
			if v == "" {
				continue
			}
			if _, ok := idx[v]; !ok {
				idx[v] = d
			}
		}
	}
	return idx
}

// ByDNI indexes records by national id, as is and upper-cased.
func ByDNI(records []Record) Index {
	idx := make(Index)
	for _, r := range records {
		if r.DNI == "" {
			continue
		}
		d := details(r)
		for _, v := range []string{r.DNI, strings.ToUpper(r.DNI)} {
			if _, ok := idx[v]; !ok {
				idx[v] = d
			}
		}
	}
	return idx
}

// Lookup tries id as is, upper-cased, and both again without leading zeros.
func (idx Index) Lookup(id string) (Details, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Details{}, false
	}
	candidates := []string{id, strings.ToUpper(id)}
	if trimmed := strings.TrimLeft(id, "0"); trimmed != "" {
		candidates = append(candidates, trimmed, strings.ToUpper(trimmed))
	}
	for _, k := range candidates {
		if d, ok := idx[k]; ok {
			return d, true
		}
	}
	return Details{}, false
}
