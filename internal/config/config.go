// Package config loads the nepa configuration file. Every field is optional;
// the Get* accessors fall back to the built-in defaults.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uva-nepa/nepa/internal/collector"
	"github.com/uva-nepa/nepa/internal/flush"
	"github.com/uva-nepa/nepa/internal/serialmux"
	"github.com/uva-nepa/nepa/internal/session"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/nepa.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Scanner names accepted by the scanner key.
const (
	ScannerBLE    = "ble"
	ScannerSerial = "serial"
	ScannerReplay = "replay"
)

const (
	defaultDBPath         = "nepa.db"
	defaultListen         = ":8080"
	defaultSerialPort     = "/dev/ttyUSB0"
	defaultReplayInterval = 100 * time.Millisecond
	defaultBufferCapacity = session.DefaultQueueSize
)

// Config is the root of the configuration file. Durations are strings such
// as "1s" or "250ms".
type Config struct {
	CollectorURL *string `json:"collector_url,omitempty" yaml:"collector_url,omitempty"`
	HTTPTimeout  *string `json:"http_timeout,omitempty" yaml:"http_timeout,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`

	FlushInterval *string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"`

	// Session params
	WindowWidth    *string `json:"window_width,omitempty" yaml:"window_width,omitempty"`
	WindowCount    *int    `json:"window_count,omitempty" yaml:"window_count,omitempty"`
	SampleDuration *string `json:"sample_duration,omitempty" yaml:"sample_duration,omitempty"`
	BufferCapacity *int    `json:"buffer_capacity,omitempty" yaml:"buffer_capacity,omitempty"`

	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty" yaml:"listen,omitempty"`

	// Scanner params
	Scanner        *string                `json:"scanner,omitempty" yaml:"scanner,omitempty"`
	BLEUUIDPrefix  *string                `json:"ble_uuid_prefix,omitempty" yaml:"ble_uuid_prefix,omitempty"`
	SerialPort     *string                `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	Serial         *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	ReplayFile     *string                `json:"replay_file,omitempty" yaml:"replay_file,omitempty"`
	ReplayInterval *string                `json:"replay_interval,omitempty" yaml:"replay_interval,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig reads a .json, .yaml or .yml file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty YAML document decodes to io.EOF
		if err := dec.Decode(cfg); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics if the file cannot be loaded and is meant
// for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks every field that is set.
func (c *Config) Validate() error {
	if c.CollectorURL != nil && *c.CollectorURL != "" {
		u, err := url.Parse(*c.CollectorURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("collector_url must be an http(s) URL, got %q", *c.CollectorURL)
		}
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"http_timeout", c.HTTPTimeout},
		{"poll_interval", c.PollInterval},
		{"flush_interval", c.FlushInterval},
		{"window_width", c.WindowWidth},
		{"sample_duration", c.SampleDuration},
		{"replay_interval", c.ReplayInterval},
	} {
		if err := validDuration(d.name, d.v); err != nil {
			return err
		}
	}

	if c.WindowCount != nil && *c.WindowCount <= 0 {
		return fmt.Errorf("window_count must be positive, got %d", *c.WindowCount)
	}
	if c.BufferCapacity != nil && *c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", *c.BufferCapacity)
	}

	if c.Scanner != nil {
		switch *c.Scanner {
		case "", ScannerBLE, ScannerSerial, ScannerReplay:
		default:
			return fmt.Errorf("scanner must be one of %s, %s or %s, got %q", ScannerBLE, ScannerSerial, ScannerReplay, *c.Scanner)
		}
	}
	if err := c.SessionDefaults().ValidateTiming(); err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%s: %s", timingKeys[verr.Field], verr.Reason)
		}
		return err
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}
	if c.GetScanner() == ScannerReplay && c.GetReplayFile() == "" {
		return fmt.Errorf("replay_file is required when scanner is %q", ScannerReplay)
	}
	return nil
}

// timingKeys maps session.Request fields to their config keys.
var timingKeys = map[string]string{
	"width":    "window_width",
	"count":    "window_count",
	"duration": "sample_duration",
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func (c *Config) GetCollectorURL() string {
	return stringOr(c.CollectorURL, collector.DefaultBaseURL)
}

func (c *Config) GetHTTPTimeout() time.Duration {
	return durationOr(c.HTTPTimeout, collector.DefaultTimeout)
}

func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, collector.DefaultPollInterval)
}

func (c *Config) GetFlushInterval() time.Duration {
	return durationOr(c.FlushInterval, flush.DefaultPeriod)
}

func (c *Config) GetWindowWidth() time.Duration {
	return durationOr(c.WindowWidth, session.DefaultWindowWidth)
}

func (c *Config) GetWindowCount() int {
	if c.WindowCount == nil || *c.WindowCount <= 0 {
		return session.DefaultWindowCount
	}
	return *c.WindowCount
}

func (c *Config) GetSampleDuration() time.Duration {
	return durationOr(c.SampleDuration, session.DefaultSampleDuration)
}

func (c *Config) GetBufferCapacity() int {
	if c.BufferCapacity == nil || *c.BufferCapacity <= 0 {
		return defaultBufferCapacity
	}
	return *c.BufferCapacity
}

func (c *Config) GetDBPath() string { return stringOr(c.DBPath, defaultDBPath) }

func (c *Config) GetListen() string { return stringOr(c.Listen, defaultListen) }

func (c *Config) GetScanner() string { return stringOr(c.Scanner, ScannerBLE) }

func (c *Config) GetBLEUUIDPrefix() string { return stringOr(c.BLEUUIDPrefix, "") }

func (c *Config) GetSerialPort() string { return stringOr(c.SerialPort, defaultSerialPort) }

// GetSerialOptions returns the serial block with defaults applied. Invalid
// options are caught by Validate, so the zero-value defaults are returned
// for them here.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	norm, err := opts.Normalise()
	if err != nil {
		norm, _ = serialmux.PortOptions{}.Normalise()
	}
	return norm
}

func (c *Config) GetReplayFile() string { return stringOr(c.ReplayFile, "") }

func (c *Config) GetReplayInterval() time.Duration {
	return durationOr(c.ReplayInterval, defaultReplayInterval)
}

// SessionDefaults returns the timing used for sessions that do not set
// their own.
func (c *Config) SessionDefaults() session.Request {
	return session.Request{
		Width:    c.GetWindowWidth(),
		Count:    c.GetWindowCount(),
		Duration: c.GetSampleDuration(),
	}
}

// Overrides carries command line values that replace file values when set.
type Overrides struct {
	CollectorURL string
	Scanner      string
	SerialPort   string
	Listen       string
	DBPath       string
	ReplayFile   string
}

// Apply copies every non-empty override into c and revalidates.
func (c *Config) Apply(o Overrides) error {
	for _, f := range []struct {
		v   string
		dst **string
	}{
		{o.CollectorURL, &c.CollectorURL},
		{o.Scanner, &c.Scanner},
		{o.SerialPort, &c.SerialPort},
		{o.Listen, &c.Listen},
		{o.DBPath, &c.DBPath},
		{o.ReplayFile, &c.ReplayFile},
	} {
		if f.v != "" {
			*f.dst = ptrString(f.v)
		}
	}
	return c.Validate()
}
