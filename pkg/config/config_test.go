package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const remoteConfig = `
global:
  char_filter_file: filters/nl.txt
tagger:
  set: http://ilk.uvt.nl/folia/sets/frog-mbpos-cgn
parser:
  host: localhost
  port: 12345
  pairs_base: dutch.pairs
  dirs_base: dutch.dir
  rels_base: dutch.rels
  maxDepSpan: 10
  timeout: 5
`

func TestParse_LookUp(t *testing.T) {
	c, err := Parse(strings.NewReader(remoteConfig), "/etc/depparse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		key, section, want string
	}{
		{"host", "parser", "localhost"},
		{"port", "parser", "12345"},
		{"maxDepSpan", "parser", "10"},
		{"set", "tagger", "http://ilk.uvt.nl/folia/sets/frog-mbpos-cgn"},
		{"missing", "parser", ""},
		{"host", "nosection", ""},
	}
	for _, tt := range tests {
		if got := c.LookUp(tt.key, tt.section); got != tt.want {
			t.Errorf("LookUp(%q, %q) = %q, want %q", tt.key, tt.section, got, tt.want)
		}
	}
}

func TestParse_RejectsNested(t *testing.T) {
	_, err := Parse(strings.NewReader("parser:\n  host:\n    name: x\n"), "")
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(strings.NewReader(""), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LookUp("host", ParserSection) != "" {
		t.Fatal("expected no values")
	}
}

func TestPath(t *testing.T) {
	c, _ := Parse(strings.NewReader(""), "/etc/depparse")

	tests := []struct {
		in, want string
	}{
		{"pairs.train", "/etc/depparse/pairs.train"},
		{"/data/pairs.train", "/data/pairs.train"},
		{"s3://models/pairs.train", "s3://models/pairs.train"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := c.Path(tt.in); got != tt.want {
			t.Errorf("Path(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParserSettings_Remote(t *testing.T) {
	c, err := Parse(strings.NewReader(remoteConfig), "/etc/depparse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := c.ParserSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.IsRemote() || s.Local != nil {
		t.Fatal("expected remote settings")
	}
	if s.Remote.PairsBase != "dutch.pairs" || s.Remote.Port != "12345" {
		t.Errorf("unexpected remote settings %+v", s.Remote)
	}
	if s.MaxDepSpan != 10 {
		t.Errorf("expected maxDepSpan 10, got %d", s.MaxDepSpan)
	}
	if s.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %s", s.Timeout)
	}
	if s.Set != DefaultSet || s.Version != DefaultVersion || s.OutputClass != DefaultOutputClass {
		t.Errorf("expected defaults, got %+v", s)
	}
	if s.CharFilterFile != "/etc/depparse/filters/nl.txt" {
		t.Errorf("expected char filter from the global section, got %q", s.CharFilterFile)
	}
	if s.POSSet != "http://ilk.uvt.nl/folia/sets/frog-mbpos-cgn" {
		t.Errorf("unexpected pos set %q", s.POSSet)
	}
}

func TestParserSettings_Local(t *testing.T) {
	c := New()
	c.Set(ParserSection, "pairsFile", "/models/pairs.train")
	c.Set(ParserSection, "dirFile", "/models/dir.train")
	c.Set(ParserSection, "relsFile", "/models/rels.train")
	c.Set(ParserSection, "relsOptions", "-a0 -k3")

	s, err := c.ParserSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.IsRemote() {
		t.Fatal("expected local settings")
	}
	if s.Local.PairsOptions != DefaultOptions || s.Local.RelsOptions != "-a0 -k3" {
		t.Errorf("unexpected options %+v", s.Local)
	}
	if s.MaxDepSpan != DefaultMaxDepSpan || s.ParallelSentences != DefaultParallelSentences {
		t.Errorf("expected defaults, got %+v", s)
	}
}

func TestParserSettings_ZeroSpan(t *testing.T) {
	c := New()
	for k, v := range map[string]string{"host": "h", "port": "1", "pairs_base": "p", "dirs_base": "d", "rels_base": "r", "maxDepSpan": "0"} {
		c.Set(ParserSection, k, v)
	}

	s, err := c.ParserSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.MaxDepSpan != 0 {
		t.Fatalf("expected maxDepSpan 0, got %d", s.MaxDepSpan)
	}
}

func TestParserSettings_OutputClass(t *testing.T) {
	tests := []struct {
		name   string
		global string
		parser string
		want   string
	}{
		{"default", "", "", DefaultOutputClass},
		{"global", "OCR", "", "OCR"},
		{"parser section wins", "OCR", "current", "current"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for k, v := range map[string]string{"host": "h", "port": "1", "pairs_base": "p", "dirs_base": "d", "rels_base": "r"} {
				c.Set(ParserSection, k, v)
			}
			if tt.global != "" {
				c.Set(Global, "outputclass", tt.global)
			}
			if tt.parser != "" {
				c.Set(ParserSection, "outputclass", tt.parser)
			}

			s, err := c.ParserSettings()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.OutputClass != tt.want {
				t.Fatalf("expected outputclass %q, got %q", tt.want, s.OutputClass)
			}
		})
	}
}

func TestParserSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		missing []string
	}{
		{
			name:    "remote without bases",
			values:  map[string]string{"host": "localhost", "port": "1"},
			missing: []string{"pairs_base", "dirs_base", "rels_base"},
		},
		{
			name:    "local without files",
			values:  map[string]string{"pairsFile": "p"},
			missing: []string{"dirFile", "relsFile"},
		},
		{
			name:    "span too large",
			values:  map[string]string{"host": "h", "port": "1", "pairs_base": "p", "dirs_base": "d", "rels_base": "r", "maxDepSpan": "50"},
			missing: []string{"maxDepSpan"},
		},
		{
			name:    "negative span",
			values:  map[string]string{"host": "h", "port": "1", "pairs_base": "p", "dirs_base": "d", "rels_base": "r", "maxDepSpan": "-1"},
			missing: []string{"maxDepSpan"},
		},
		{
			name:    "span not a number",
			values:  map[string]string{"host": "h", "port": "1", "pairs_base": "p", "dirs_base": "d", "rels_base": "r", "maxDepSpan": "wide"},
			missing: []string{"maxDepSpan"},
		},
		{
			name:    "bad timeout",
			values:  map[string]string{"host": "h", "port": "1", "pairs_base": "p", "dirs_base": "d", "rels_base": "r", "timeout": "soon"},
			missing: []string{"timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for k, v := range tt.values {
				c.Set(ParserSection, k, v)
			}
			_, err := c.ParserSettings()
			if !errors.Is(err, ErrInvalidSetting) {
				t.Fatalf("expected ErrInvalidSetting, got %v", err)
			}
			for _, key := range tt.missing {
				if !strings.Contains(err.Error(), key) {
					t.Errorf("expected error to mention %s, got %v", key, err)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "depparse.yaml")
	if err := os.WriteFile(path, []byte("parser:\n  pairsFile: pairs.train\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Path(c.LookUp("pairsFile", ParserSection)); got != filepath.Join(dir, "pairs.train") {
		t.Fatalf("expected path relative to the config, got %q", got)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
