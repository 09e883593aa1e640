package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestFlagDefaults verifies the package flags exist with the documented
// defaults.
func TestFlagDefaults(t *testing.T) {
	if mode == nil || *mode != ModeServe {
		t.Fatalf("expected -mode default %q", ModeServe)
	}
	for name, v := range map[string]*string{
		"config":    configFile,
		"location":  location,
		"section":   section,
		"collector": collectorURL,
		"scanner":   scanner,
		"port":      port,
		"listen":    listen,
		"db":        dbPath,
		"replay":    replayFile,
	} {
		if v == nil {
			t.Fatalf("-%s flag not defined", name)
		}
		// empty means "use the config file value"
		if *v != "" {
			t.Errorf("-%s default = %q, want empty", name, *v)
		}
	}
	if *devMode || *skipPoll || *listPorts || *showVersion {
		t.Error("boolean flags should default to false")
	}
}

func TestValidMode(t *testing.T) {
	for _, m := range []string{ModeLive, ModeTrain, ModeSample, ModeTrack, ModeServe} {
		if !validMode(m) {
			t.Errorf("validMode(%q) = false", m)
		}
	}
	for _, m := range []string{"", "LIVE", "scan"} {
		if validMode(m) {
			t.Errorf("validMode(%q) = true", m)
		}
	}
}

func setFlag(t *testing.T, p *string, v string) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nepa.yaml")
	body := "scanner: serial\nserial_port: /dev/ttyACM0\nflush_interval: 5s\nlisten: :9000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	setFlag(t, configFile, path)
	setFlag(t, port, "/dev/ttyUSB3")
	setFlag(t, dbPath, filepath.Join(t.TempDir(), "j.db"))

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.GetSerialPort(); got != "/dev/ttyUSB3" {
		t.Errorf("serial port = %q, want the flag value", got)
	}
	if got := cfg.GetScanner(); got != "serial" {
		t.Errorf("scanner = %q, want the file value", got)
	}
	if got := cfg.GetFlushInterval(); got != 5*time.Second {
		t.Errorf("flush interval = %v", got)
	}
	if got := cfg.GetListen(); got != ":9000" {
		t.Errorf("listen = %q", got)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	setFlag(t, collectorURL, "http://localhost:3000/api")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetCollectorURL() != "http://localhost:3000/api" {
		t.Errorf("collector = %q", cfg.GetCollectorURL())
	}
	if cfg.GetScanner() != "ble" {
		t.Errorf("scanner = %q", cfg.GetScanner())
	}
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	setFlag(t, scanner, "wifi")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected an unknown scanner to be rejected")
	}
}
