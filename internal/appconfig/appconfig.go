package appconfig

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/internal/zk"
	"github.com/zktools/zk-tools/models"
	"gopkg.in/yaml.v2"
)

// Config holds all configuration details
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Auth      AuthConfig        `yaml:"auth"`
	Device    DeviceConfig      `yaml:"device"`
	Database  DatabaseConfig    `yaml:"database"`
	Directory DirectoryConfig   `yaml:"directory"`
	Terminals []models.Terminal `yaml:"terminals"`
	// TerminalsFile is a list file in the "label,ip" format, merged after
	// Terminals.
	TerminalsFile string `yaml:"terminalsFile"`
}

// ServerConfig defines where the web tool listens
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	SessionIdle time.Duration `yaml:"sessionIdle"`
	MaxUpload   int64         `yaml:"maxUpload"`
	// TrustedProxies lists the addresses or CIDR ranges of reverse proxies
	// whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// ProxyPrefixes parses TrustedProxies. A bare address becomes a single-host
// prefix.
func (s ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AuthConfig defines how operators log in. With neither a token nor a
// database the web tool is open.
type AuthConfig struct {
	Token      string        `yaml:"token"`
	Secret     string        `yaml:"secret"`
	SessionTTL time.Duration `yaml:"sessionTTL"`
	// LoginAttempts is the number of login posts allowed per minute and
	// client address.
	LoginAttempts int `yaml:"loginAttempts"`
}

// DeviceConfig defines how terminals are contacted
type DeviceConfig struct {
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	Password   int           `yaml:"password"`
	// UserRecordSize forces the 28 or 72 byte user layout on terminals
	// that hold no users yet.
	UserRecordSize int `yaml:"userRecordSize"`
}

// DatabaseConfig defines the database connection details
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Source string `yaml:"source"`
}

// DirectoryConfig points at the HR employee directory
type DirectoryConfig struct {
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.SessionIdle <= 0 {
		c.Server.SessionIdle = 12 * time.Hour
	}
	if c.Server.MaxUpload <= 0 {
		c.Server.MaxUpload = 10 << 20
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = 12 * time.Hour
	}
	if c.Auth.LoginAttempts <= 0 {
		c.Auth.LoginAttempts = 5
	}

	d := zk.DefaultOptions()
	if c.Device.Port == 0 {
		c.Device.Port = models.DefaultPort
	}
	if c.Device.Timeout <= 0 {
		c.Device.Timeout = d.Timeout
	}
	if c.Device.Retries <= 0 {
		c.Device.Retries = d.Retries
	}
	if c.Device.RetryDelay <= 0 {
		c.Device.RetryDelay = d.RetryDelay
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	for i := range c.Terminals {
		if c.Terminals[i].Port == 0 {
			c.Terminals[i].Port = c.Device.Port
		}
	}
}

// ZKOptions returns the protocol client options for the device section.
func (c *Config) ZKOptions() zk.Options {
	return zk.Options{
		Timeout:    c.Device.Timeout,
		Password:   c.Device.Password,
		Retries:    c.Device.Retries,
		RetryDelay: c.Device.RetryDelay,

		UserRecordSize: c.Device.UserRecordSize,
	}
}

// KnownTerminals returns the configured terminals followed by those of the
// terminals file, without repeated addresses. A missing or unreadable file
// is logged and skipped.
func (c *Config) KnownTerminals() []models.Terminal {
	out := append([]models.Terminal{}, c.Terminals...)
	if c.TerminalsFile == "" {
		return out
	}

	listed, err := terminal.LoadList(c.TerminalsFile)
	if err != nil {
		log.Warn().Err(err).Str("path", c.TerminalsFile).Msg("could not read terminals file")
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[t.Address()] = true
	}
	for _, t := range listed {
		if !seen[t.Address()] {
			seen[t.Address()] = true
			out = append(out, t)
		}
	}
	return out
}

// LoadConfig loads and parses the configuration from a given file path. The
// file is a template executed over the environment, so secrets can be
// written as {{ .ZK_TOOLS_TOKEN }}. An empty path yields Default().
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Msg("error reading config file")
		return nil, err
	}
	return Parse(raw)
}

// Parse renders and decodes a configuration document.
func Parse(raw []byte) (*Config, error) {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		log.Error().Err(err).Msg("error parsing config file template")
		return nil, err
	}

	// Execute the template with environment variables
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, loadEnvVars()); err != nil {
		log.Error().Err(err).Msg("error executing config file template")
		return nil, err
	}

	var config Config
	if err := yaml.UnmarshalStrict(buf.Bytes(), &config); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config YAML")
		return nil, fmt.Errorf("config: %w", err)
	}
	config.applyDefaults()
	if _, err := config.Server.ProxyPrefixes(); err != nil {
		log.Error().Err(err).Msg("invalid server section")
		return nil, fmt.Errorf("config: %w", err)
	}
	return &config, nil
}

// loadEnvVars loads environment variables into a map
func loadEnvVars() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) == 2 {
			envVars[kv[0]] = kv[1]
		}
	}
	return envVars
}
