package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/uva-nepa/nepa/internal/serialmux"
	"github.com/uva-nepa/nepa/internal/session"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	c := Empty()

	if got := c.GetCollectorURL(); got != "http://nepa.1dev.nl/api" {
		t.Errorf("GetCollectorURL() = %q", got)
	}
	if got := c.GetHTTPTimeout(); got != 10*time.Second {
		t.Errorf("GetHTTPTimeout() = %v", got)
	}
	if got := c.GetPollInterval(); got != 10*time.Second {
		t.Errorf("GetPollInterval() = %v", got)
	}
	if got := c.GetFlushInterval(); got != 3*time.Second {
		t.Errorf("GetFlushInterval() = %v", got)
	}
	if got := c.GetBufferCapacity(); got != 256 {
		t.Errorf("GetBufferCapacity() = %d", got)
	}
	if got := c.GetScanner(); got != ScannerBLE {
		t.Errorf("GetScanner() = %q", got)
	}
	if got := c.GetReplayInterval(); got != 100*time.Millisecond {
		t.Errorf("GetReplayInterval() = %v", got)
	}

	want := session.Request{Width: time.Second, Count: 180, Duration: 3 * time.Second}
	if diff := cmp.Diff(want, c.SessionDefaults()); diff != "" {
		t.Errorf("SessionDefaults() mismatch (-want +got):\n%s", diff)
	}

	wantSerial := serialmux.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}
	if diff := cmp.Diff(wantSerial, c.GetSerialOptions()); diff != "" {
		t.Errorf("GetSerialOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	c := MustLoadDefaultConfig()
	// the shipped file spells out the built-in defaults
	empty := Empty()
	if c.GetWindowCount() != empty.GetWindowCount() || c.GetFlushInterval() != empty.GetFlushInterval() {
		t.Errorf("defaults file disagrees with built-in defaults")
	}
	if c.GetCollectorURL() != empty.GetCollectorURL() {
		t.Errorf("collector_url = %q", c.GetCollectorURL())
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "nepa.yaml", `
scanner: serial
serial_port: /dev/ttyACM0
serial:
  baud_rate: 9600
  parity: even
window_width: 500ms
window_count: 20
sample_duration: 2s
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.GetScanner() != ScannerSerial || c.GetSerialPort() != "/dev/ttyACM0" {
		t.Errorf("scanner = %q port = %q", c.GetScanner(), c.GetSerialPort())
	}
	if got := c.GetSerialOptions(); got.BaudRate != 9600 || got.Parity != "E" {
		t.Errorf("GetSerialOptions() = %+v", got)
	}
	want := session.Request{Width: 500 * time.Millisecond, Count: 20, Duration: 2 * time.Second}
	if diff := cmp.Diff(want, c.SessionDefaults()); diff != "" {
		t.Errorf("SessionDefaults() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_ExampleYAML(t *testing.T) {
	for _, path := range []string{"../../config/nepa.example.yaml", "config/nepa.example.yaml"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		c, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%s): %v", path, err)
		}
		if c.GetScanner() != ScannerSerial {
			t.Errorf("scanner = %q", c.GetScanner())
		}
		return
	}
	t.Skip("example config not found")
}

func TestLoadConfig_PartialJSON(t *testing.T) {
	path := writeConfig(t, "nepa.json", `{"flush_interval": "5s", "listen": "127.0.0.1:9000"}`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.GetFlushInterval() != 5*time.Second {
		t.Errorf("GetFlushInterval() = %v", c.GetFlushInterval())
	}
	if c.GetListen() != "127.0.0.1:9000" {
		t.Errorf("GetListen() = %q", c.GetListen())
	}
	if c.GetDBPath() != "nepa.db" {
		t.Errorf("GetDBPath() = %q", c.GetDBPath())
	}
}

func TestLoadConfig_EmptyYAML(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "empty.yml", "\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.GetWindowCount() != session.DefaultWindowCount {
		t.Errorf("GetWindowCount() = %d", c.GetWindowCount())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "nepa.toml", `scanner = "ble"`, "extension"},
		{"bad json", "nepa.json", `{"scanner": `, "failed to parse config JSON"},
		{"unknown json key", "nepa.json", `{"colector_url": "http://x"}`, "unknown field"},
		{"unknown yaml key", "nepa.yaml", "window_cnt: 3\n", "failed to parse config YAML"},
		{"bad duration", "nepa.json", `{"flush_interval": "soon"}`, "invalid flush_interval"},
		{"negative duration", "nepa.json", `{"window_width": "-1s"}`, "window_width must be positive"},
		{"zero count", "nepa.yaml", "window_count: 0\n", "window_count must be positive"},
		{"too many windows", "nepa.yaml", "window_count: 10000000\n", "window_count: must be at most 86400"},
		{"window length over a day", "nepa.json", `{"window_width": "1h", "window_count": 180}`, "window_width: times count 180 must be at most 24h0m0s"},
		{"long sample", "nepa.json", `{"sample_duration": "48h"}`, "sample_duration: must be at most 24h0m0s"},
		{"bad scanner", "nepa.json", `{"scanner": "wifi"}`, "scanner must be one of"},
		{"bad url", "nepa.json", `{"collector_url": "nepa.1dev.nl/api"}`, "collector_url must be an http(s) URL"},
		{"bad serial", "nepa.yaml", "serial:\n  baud_rate: 12345\n", "invalid serial options"},
		{"replay without file", "nepa.json", `{"scanner": "replay"}`, "replay_file is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_TooLarge(t *testing.T) {
	body := `{"listen": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := LoadConfig(writeConfig(t, "big.json", body))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("LoadConfig() error = %v", err)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil || !strings.Contains(err.Error(), "failed to stat") {
		t.Errorf("LoadConfig() error = %v", err)
	}
}

func TestGetters_IgnoreInvalidValues(t *testing.T) {
	c := &Config{
		WindowWidth:    ptrString("nonsense"),
		WindowCount:    ptrInt(-4),
		BufferCapacity: ptrInt(0),
		Serial:         &serialmux.PortOptions{BaudRate: 7},
	}
	if c.GetWindowWidth() != session.DefaultWindowWidth {
		t.Errorf("GetWindowWidth() = %v", c.GetWindowWidth())
	}
	if c.GetWindowCount() != session.DefaultWindowCount {
		t.Errorf("GetWindowCount() = %d", c.GetWindowCount())
	}
	if c.GetBufferCapacity() != 256 {
		t.Errorf("GetBufferCapacity() = %d", c.GetBufferCapacity())
	}
	if c.GetSerialOptions().BaudRate != serialmux.DefaultBaudRate {
		t.Errorf("GetSerialOptions() = %+v", c.GetSerialOptions())
	}
}

func TestApplyOverrides(t *testing.T) {
	c := &Config{Scanner: ptrString(ScannerBLE), Listen: ptrString(":8080")}

	if err := c.Apply(Overrides{Scanner: ScannerSerial, SerialPort: "/dev/ttyS0"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.GetScanner() != ScannerSerial || c.GetSerialPort() != "/dev/ttyS0" {
		t.Errorf("scanner = %q port = %q", c.GetScanner(), c.GetSerialPort())
	}
	if c.GetListen() != ":8080" {
		t.Errorf("empty overrides must keep file values, listen = %q", c.GetListen())
	}

	if err := c.Apply(Overrides{Scanner: "replay"}); err == nil {
		t.Error("expected replay without a file to be rejected")
	}
}
