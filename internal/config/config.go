package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/saviobatista/ogn-feed/internal/ogn"
)

// Range is the centre and radius of the server side range filter
type Range struct {
	Latitude  float64 `yaml:"latitude" toml:"latitude"`
	Longitude float64 `yaml:"longitude" toml:"longitude"`
	RadiusKm  float64 `yaml:"radius_km" toml:"radius_km"`
}

// Config holds the application configuration
type Config struct {
	Server     string `yaml:"server" toml:"server"`
	User       string `yaml:"user" toml:"user"`
	Passcode   string `yaml:"passcode" toml:"passcode"`
	AppName    string `yaml:"app_name" toml:"app_name"`
	AppVersion string `yaml:"app_version" toml:"app_version"`

	// Filter is sent verbatim when set, otherwise it is built from Range
	Filter string `yaml:"filter" toml:"filter"`
	Range  Range  `yaml:"range" toml:"range"`

	// AircraftTypes selects which identified aircraft are displayed. "all" disables filtering.
	AircraftTypes []string `yaml:"aircraft_types" toml:"aircraft_types"`

	Reconnect      bool          `yaml:"reconnect" toml:"reconnect"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`

	LogLevel   string `yaml:"log_level" toml:"log_level"`
	TimeFormat string `yaml:"time_format" toml:"time_format"`

	NATSURL       string        `yaml:"nats_url" toml:"nats_url"`
	RedisAddr     string        `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" toml:"redis_password"`
	HTTPAddr      string        `yaml:"http_addr" toml:"http_addr"`
	DBConnStr     string        `yaml:"db_conn_str" toml:"db_conn_str"`
	StatsInterval time.Duration `yaml:"stats_interval" toml:"stats_interval"`
	StatsTTL      time.Duration `yaml:"stats_ttl" toml:"stats_ttl"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Server:         "aprs.glidernet.org:14580",
		User:           "ognfeed",
		Passcode:       "-1", // receive only
		AppName:        "ogn-feed",
		AppVersion:     "0.1.0",
		Range:          Range{Latitude: 47.217, Longitude: 8.804, RadiusKm: 30},
		AircraftTypes:  []string{ogn.Paraglider.String()},
		ReconnectDelay: 5 * time.Second,
		LogLevel:       "info",
		StatsInterval:  time.Minute,
		StatsTTL:       5 * time.Minute,
	}
}

// Load loads the configuration from defaults, an optional config file named by
// OGN_CONFIG, environment variables and .env file, in that order of precedence
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	return LoadFile(os.Getenv("OGN_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server, "OGN_SERVER")
	setString(&c.User, "OGN_USER")
	setString(&c.Passcode, "OGN_PASSCODE")
	setString(&c.AppName, "OGN_APP_NAME")
	setString(&c.AppVersion, "OGN_APP_VERSION")
	setString(&c.Filter, "OGN_FILTER")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.TimeFormat, "OGN_TIME_FORMAT")
	setString(&c.NATSURL, "NATS_URL")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.DBConnStr, "DB_CONN_STR")

	if v := os.Getenv("OGN_AIRCRAFT_TYPES"); v != "" {
		c.AircraftTypes = splitList(v)
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"OGN_RANGE_LAT", &c.Range.Latitude},
		{"OGN_RANGE_LON", &c.Range.Longitude},
		{"OGN_RANGE_KM", &c.Range.RadiusKm},
	} {
		if v := os.Getenv(f.name); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", f.name, err)
			}
			*f.dst = parsed
		}
	}

	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"OGN_RECONNECT_DELAY", &c.ReconnectDelay},
		{"STATS_INTERVAL", &c.StatsInterval},
		{"STATS_TTL", &c.StatsTTL},
	} {
		if v := os.Getenv(d.name); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.name, err)
			}
			*d.dst = parsed
		}
	}

	if v := os.Getenv("OGN_RECONNECT"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OGN_RECONNECT: %w", err)
		}
		c.Reconnect = parsed
	}

	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EffectiveFilter returns the filter sent at login
func (c *Config) EffectiveFilter() string {
	if c.Filter != "" {
		return c.Filter
	}
	return fmt.Sprintf("r/%s/%s/%s",
		strconv.FormatFloat(c.Range.Latitude, 'f', -1, 64),
		strconv.FormatFloat(c.Range.Longitude, 'f', -1, 64),
		strconv.FormatFloat(c.Range.RadiusKm, 'f', -1, 64),
	)
}

// AircraftTypeFilter parses AircraftTypes. A nil result means every type is accepted.
func (c *Config) AircraftTypeFilter() ([]ogn.AircraftType, error) {
	var out []ogn.AircraftType
	for _, name := range c.AircraftTypes {
		if strings.EqualFold(name, "all") {
			return nil, nil
		}
		t, err := ogn.ParseAircraftType(name)
		if err != nil {
			return nil, fmt.Errorf("invalid aircraft type: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Validate checks the values the login line and session depend on
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server address is required")
	}

	fields := []struct {
		name  string
		value string
	}{
		{"user", c.User},
		{"passcode", c.Passcode},
		{"app name", c.AppName},
		{"app version", c.AppVersion},
		{"filter", c.EffectiveFilter()},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
		if strings.ContainsAny(f.value, " \t\r\n") {
			return fmt.Errorf("%s must not contain whitespace: %q", f.name, f.value)
		}
	}

	if c.Filter == "" {
		if c.Range.Latitude < -90 || c.Range.Latitude > 90 {
			return fmt.Errorf("range latitude out of bounds: %v", c.Range.Latitude)
		}
		if c.Range.Longitude < -180 || c.Range.Longitude > 180 {
			return fmt.Errorf("range longitude out of bounds: %v", c.Range.Longitude)
		}
		if c.Range.RadiusKm <= 0 {
			return fmt.Errorf("range radius must be positive: %v", c.Range.RadiusKm)
		}
	}

	if len(c.AircraftTypes) == 0 {
		return fmt.Errorf("at least one aircraft type is required")
	}
	if _, err := c.AircraftTypeFilter(); err != nil {
		return err
	}

	if c.Reconnect && c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}
	if c.DBConnStr != "" && c.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive")
	}

	return nil
}
