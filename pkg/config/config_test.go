package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_TOKEN", "s3cret")
	cfg := sample{Name: "default", Port: 1}
	if err := Load(write(t, "port: 8080\ntoken: ${SAMPLE_TOKEN}\n"), &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "default" || cfg.Port != 8080 || cfg.Token != "s3cret" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	var cfg sample
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("missing file should fail")
	}
	if err := Load(write(t, "port: [\n"), &cfg); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("bad yaml err = %v", err)
	}
	if err := Load(write(t, "port: 0\n"), &cfg); err == nil || !strings.Contains(err.Error(), "validation") {
		t.Errorf("invalid err = %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	cfg := sample{Port: 9}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "none.yaml"), &cfg)
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if cfg.Port != 9 {
		t.Errorf("defaults changed: %+v", cfg)
	}

	bad := sample{}
	if _, err := LoadOptional(filepath.Join(t.TempDir(), "none.yaml"), &bad); err == nil {
		t.Error("invalid defaults should still fail validation")
	}

	found, err = LoadOptional(write(t, "port: 7\n"), &cfg)
	if err != nil || !found || cfg.Port != 7 {
		t.Errorf("found=%v err=%v cfg=%+v", found, err, cfg)
	}
}
