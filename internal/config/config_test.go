package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshcat.yaml")
	content := []byte("remote: \"!2a\"\nhop_limit: 5\nlog:\n  level: debug\nmqtt:\n  root_topic: msh/EU_868\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MESHCAT_WIFI", "meshtastic.local")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.BoolP("binary", "b", false, "")
	fs.Uint32("hop-limit", 3, "")
	if err := fs.Parse([]string{"-b", "--hop-limit", "6"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.Binary {
		t.Fatalf("binary flag not applied")
	}
	if cfg.Remote != "!2a" {
		t.Fatalf("remote from file not applied: %q", cfg.Remote)
	}
	if cfg.HopLimit != 6 {
		t.Fatalf("flag must override file, got hop_limit=%d", cfg.HopLimit)
	}
	if cfg.Wifi != "meshtastic.local" {
		t.Fatalf("env not applied: %q", cfg.Wifi)
	}
	if cfg.Log.Level != "debug" || cfg.MQTT.RootTopic != "msh/EU_868" {
		t.Fatalf("nested keys not applied: %+v %+v", cfg.Log, cfg.MQTT)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("MESHCAT_LOG_LEVEL", "chatty")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected error for invalid log level")
	}

	t.Setenv("MESHCAT_LOG_LEVEL", "info")
	t.Setenv("MESHCAT_HOP_LIMIT", "9")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected error for hop limit above 7")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
