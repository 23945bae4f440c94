// Package config reads the sectioned configuration file shared by the
// parser components. The file is YAML with one mapping per section:
//
//	global:
//	  char_filter_file: filter.txt
//	parser:
//	  maxDepSpan: 20
//	  host: localhost
//
// All values are kept as strings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Global is the section consulted when a key is not set in its own section.
const Global = "global"

var ErrFormat = errors.New("invalid configuration file")

// Config is a set of sections of string values.
type Config struct {
	dir      string
	sections map[string]map[string]string
}

// New returns an empty configuration whose relative paths resolve against
// the working directory.
func New() *Config {
	return &Config{sections: make(map[string]map[string]string)}
}

// Load reads the configuration at path. Relative file names inside it are
// resolved against the directory of path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	return Parse(f, filepath.Dir(path))
}

// Parse reads a configuration from r. dir is the base for relative paths.
func Parse(r io.Reader, dir string) (*Config, error) {
	raw := make(map[string]map[string]any)
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	c := New()
	c.dir = dir
	for section, values := range raw {
		for key, value := range values {
			switch v := value.(type) {
			case nil:
				c.Set(section, key, "")
			case map[string]any, []any:
				return nil, fmt.Errorf("%w: %s.%s is not a scalar", ErrFormat, section, key)
			default:
				c.Set(section, key, fmt.Sprint(v))
			}
		}
	}
	return c, nil
}

// Set stores value under key in section.
func (c *Config) Set(section, key, value string) {
	if c.sections[section] == nil {
		c.sections[section] = make(map[string]string)
	}
	c.sections[section][key] = value
}

// LookUp returns the value of key in section, or "" when it is not set.
func (c *Config) LookUp(key, section string) string {
	return c.sections[section][key]
}

// LookUpAny returns the first non-empty value of key in the given sections.
func (c *Config) LookUpAny(key string, sections ...string) string {
	for _, s := range sections {
		if v := c.LookUp(key, s); v != "" {
			return v
		}
	}
	return ""
}

// Path returns a file value resolved against the configuration directory.
// URLs such as s3://bucket/key are returned unchanged.
func (c *Config) Path(value string) string {
	if value == "" || strings.Contains(value, "://") || filepath.IsAbs(value) || c.dir == "" {
		return value
	}
	return filepath.Join(c.dir, value)
}
