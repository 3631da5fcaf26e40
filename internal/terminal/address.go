package terminal

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zktools/zk-tools/models"
)

// ErrNoHost is returned when an address has no host part.
var ErrNoHost = errors.New("terminal address has no host")

// CoercePort parses a port, falling back to models.DefaultPort for anything
// that is not a number in 1..65535.
func CoercePort(value string) int {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return models.DefaultPort
	}
	return port
}

// ParseAddress reads what an operator typed into a terminal field:
// "host", "host:port", "[v6]:port", "[v6]" or a bare IPv6 address.
func ParseAddress(value string) (models.Terminal, error) {
	s := strings.TrimSpace(value)
	t := models.Terminal{Host: s, Port: models.DefaultPort}

	switch {
	case strings.HasPrefix(s, "[") && strings.Contains(s, "]"):
		end := strings.Index(s, "]")
		t.Host = strings.TrimSpace(s[1:end])
		rest := strings.TrimSpace(s[end+1:])
		if strings.HasPrefix(rest, ":") {
			t.Port = CoercePort(rest[1:])
		}
	case strings.Count(s, ":") == 1:
		host, port, _ := strings.Cut(s, ":")
		t.Host = strings.TrimSpace(host)
		if strings.TrimSpace(port) != "" {
			t.Port = CoercePort(port)
		}
	}
	// Anything with more colons is an IPv6 address without a port.

	if t.Host == "" {
		return models.Terminal{}, ErrNoHost
	}
	return t, nil
}

// WithPort applies an explicit port, such as a --port flag, to t unless the
// address already named one.
func WithPort(t models.Terminal, port int) models.Terminal {
	if t.Port == models.DefaultPort && port > 0 && port <= 65535 {
		t.Port = port
	}
	return t
}

// LoadList reads a terminal list file. A missing file yields an empty list.
func LoadList(path string) ([]models.Terminal, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Terminal{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseList(f)
}

// ParseList reads one terminal per line as "label,address", "label address"
// or "address". Blank lines and lines starting with # are skipped, and
// repeated addresses keep their first entry.
func ParseList(r io.Reader) ([]models.Terminal, error) {
	out := []models.Terminal{}
	seen := make(map[string]bool)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		label, addr := "", line
		if name, rest, ok := strings.Cut(line, ","); ok {
			label = strings.TrimSpace(name)
			if a := strings.TrimSpace(rest); a != "" {
				addr = a
			}
		} else if fields := strings.Fields(line); len(fields) > 1 {
			addr = fields[len(fields)-1]
			label = strings.TrimSpace(strings.TrimSuffix(line, addr))
		}

		if seen[addr] {
			continue
		}
		t, err := ParseAddress(addr)
		if err != nil {
			continue
		}
		seen[addr] = true
		t.Label = label
		out = append(out, t)
	}
	return out, sc.Err()
}
