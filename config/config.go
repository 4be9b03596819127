package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// configDirName is the per-user directory holding config.toml.
const configDirName = "cal-as"

// Config supplies defaults for the command-line flags. Flags override
// config values.
type Config struct {
	// Syntax settings
	Syntax struct {
		Flexible  bool `toml:"flexible"`
		OldFormat bool `toml:"old_format"`
	} `toml:"syntax"`

	// Assembly settings
	Assembly struct {
		ImplicitExternals bool   `toml:"implicit_externals"`
		SectionStacking   bool   `toml:"section_stacking"`
		WarningsAreErrors bool   `toml:"warnings_are_errors"`
		DefaultIdent      string `toml:"default_ident"`
	} `toml:"assembly"`

	// Output settings
	Output struct {
		ListingSuffix string `toml:"listing_suffix"`
		ObjectSuffix  string `toml:"object_suffix"`
	} `toml:"output"`

	// Search settings
	Search struct {
		TextPath string `toml:"text_path"` // colon/semicolon-separated directories
	} `toml:"search"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Syntax.Flexible = false
	cfg.Syntax.OldFormat = false

	cfg.Assembly.ImplicitExternals = false
	cfg.Assembly.SectionStacking = true
	cfg.Assembly.WarningsAreErrors = false
	cfg.Assembly.DefaultIdent = ""

	cfg.Output.ListingSuffix = ".lst"
	cfg.Output.ObjectSuffix = ".obj"

	cfg.Search.TextPath = ""

	return cfg
}

// Load reads the user's config file from the platform config directory
// (for example ~/.config/cal-as/config.toml). A missing directory or file
// yields the defaults.
func Load() (*Config, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(filepath.Join(dir, configDirName, "config.toml"))
}

// LoadFrom reads configuration from the given file, applying it over the
// defaults. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) // #nosec G304 -- user config path
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// TextPath returns the external-text search path: the TEXTPATH environment
// variable when set, else the configured value.
func (c *Config) TextPath() string {
	return env.Str("TEXTPATH", c.Search.TextPath)
}

// ListingPath derives the default listing file written beside a source
// file, using the configured suffix.
func (c *Config) ListingPath(srcFile string) string {
	return replaceExt(srcFile, c.Output.ListingSuffix)
}

// ObjectPath derives the default object file written beside a source file.
func (c *Config) ObjectPath(srcFile string) string {
	return replaceExt(srcFile, c.Output.ObjectSuffix)
}

func replaceExt(name, suffix string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + suffix
}
