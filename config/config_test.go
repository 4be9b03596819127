package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Syntax.Flexible {
		t.Error("Expected Flexible=false")
	}
	if cfg.Assembly.ImplicitExternals {
		t.Error("Expected ImplicitExternals=false")
	}
	if !cfg.Assembly.SectionStacking {
		t.Error("Expected SectionStacking=true")
	}
	if cfg.Output.ListingSuffix != ".lst" {
		t.Errorf("Expected ListingSuffix=.lst, got %s", cfg.Output.ListingSuffix)
	}
	if cfg.Output.ObjectSuffix != ".obj" {
		t.Errorf("Expected ObjectSuffix=.obj, got %s", cfg.Output.ObjectSuffix)
	}
}

func TestTextPathEnvOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.TextPath = "/from/config"

	t.Setenv("TEXTPATH", "/from/env")
	if got := cfg.TextPath(); got != "/from/env" {
		t.Errorf("Expected env override, got %s", got)
	}

	t.Setenv("TEXTPATH", "")
	if got := cfg.TextPath(); got != "/from/config" {
		t.Errorf("Expected config fallback, got %s", got)
	}
}

func TestOutputPaths(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ListingPath("dir/prog.cal"); got != "dir/prog.lst" {
		t.Errorf("ListingPath: got %s", got)
	}
	if got := cfg.ObjectPath("prog.cal"); got != "prog.obj" {
		t.Errorf("ObjectPath: got %s", got)
	}

	cfg.Output.ObjectSuffix = ".bin"
	if got := cfg.ObjectPath("prog.cal"); got != "prog.bin" {
		t.Errorf("ObjectPath with custom suffix: got %s", got)
	}
}

func TestLoadFrom(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.toml")

	content := `
[syntax]
flexible = true

[assembly]
implicit_externals = true
default_ident = "MYPROG"

[search]
text_path = "/usr/share/caltext"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !loaded.Syntax.Flexible {
		t.Error("Expected Flexible=true")
	}
	if !loaded.Assembly.ImplicitExternals {
		t.Error("Expected ImplicitExternals=true")
	}
	if loaded.Assembly.DefaultIdent != "MYPROG" {
		t.Errorf("Expected DefaultIdent=MYPROG, got %s", loaded.Assembly.DefaultIdent)
	}
	if loaded.Search.TextPath != "/usr/share/caltext" {
		t.Errorf("Expected TextPath=/usr/share/caltext, got %s", loaded.Search.TextPath)
	}
	// Settings the file omits keep their defaults.
	if loaded.Output.ObjectSuffix != ".obj" {
		t.Errorf("Expected default ObjectSuffix, got %s", loaded.Output.ObjectSuffix)
	}
}

func TestLoadNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.toml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom should not error on non-existent file: %v", err)
	}
	if cfg.Output.ObjectSuffix != ".obj" {
		t.Error("Expected default config when file doesn't exist")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.toml")

	invalidTOML := `
[syntax]
flexible = "not a bool"
`
	if err := os.WriteFile(configPath, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if _, err := LoadFrom(configPath); err == nil {
		t.Error("Expected error when loading invalid TOML")
	}
}
