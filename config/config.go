// Package config handles unborrow.toml project configuration.
package config

import (
	"fmt"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/unborrow/expand"
	"github.com/chazu/unborrow/rewrite"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "unborrow.toml"

// Config represents an unborrow.toml file.
type Config struct {
	Rewrite Rewrite `toml:"rewrite"`
	Files   Files   `toml:"files"`

	// Dir is the directory containing the unborrow.toml file (set at load time).
	Dir string `toml:"-"`
	// Path is the file the configuration was loaded from. It is empty for
	// Default.
	Path string `toml:"-"`
}

// Rewrite configures the generated code.
type Rewrite struct {
	Prefix    string `toml:"prefix"`
	Directive string `toml:"directive"`
}

// Files selects which Go files are processed.
type Files struct {
	// Exclude holds filepath.Match patterns, tried against the base name and
	// against the slash-separated path relative to Dir.
	Exclude []string `toml:"exclude"`
	Tests   bool     `toml:"tests"`
}

// Default returns the configuration used when no unborrow.toml exists.
func Default() *Config {
	return &Config{
		Rewrite: Rewrite{
			Prefix:    rewrite.DefaultPrefix,
			Directive: expand.DefaultDirective,
		},
		Files: Files{Tests: true},
	}
}

// Load parses the unborrow.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file. Keys it leaves out keep their
// defaults.
func LoadFile(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", file, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", file, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", file, undecoded[0])
	}

	c.Path, err = filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", file, err)
	}
	c.Dir = filepath.Dir(c.Path)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an unborrow.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		file := filepath.Join(dir, FileName)
		if _, err := os.Stat(file); err == nil {
			return LoadFile(file)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !token.IsIdentifier(c.Rewrite.Prefix) {
		return fmt.Errorf("rewrite.prefix %q is not a Go identifier", c.Rewrite.Prefix)
	}
	d := c.Rewrite.Directive
	switch {
	case d == "":
		return fmt.Errorf("rewrite.directive is empty")
	case strings.ContainsAny(d, " \t\r\n"):
		return fmt.Errorf("rewrite.directive %q contains whitespace", d)
	case strings.HasPrefix(d, "/"):
		return fmt.Errorf("rewrite.directive %q must be given without the leading //", d)
	}
	for _, pat := range c.Files.Exclude {
		if _, err := filepath.Match(pat, ""); err != nil {
			return fmt.Errorf("files.exclude pattern %q: %w", pat, err)
		}
	}
	return nil
}

// Expander returns the expander settings of the configuration.
func (c *Config) Expander() expand.Config {
	return expand.Config{Prefix: c.Rewrite.Prefix, Directive: c.Rewrite.Directive}
}

// Excluded reports whether file is left alone.
func (c *Config) Excluded(file string) bool {
	if !c.Files.Tests && strings.HasSuffix(file, "_test.go") {
		return true
	}
	base := filepath.Base(file)
	rel := filepath.ToSlash(file)
	if c.Dir != "" {
		if abs, err := filepath.Abs(file); err == nil {
			if r, err := filepath.Rel(c.Dir, abs); err == nil && !strings.HasPrefix(r, "..") {
				rel = filepath.ToSlash(r)
			}
		}
	}
	for _, pat := range c.Files.Exclude {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
