package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[rewrite]
prefix = "tmp"
directive = "precompute"

[files]
exclude = ["*_gen.go", "testdata/*"]
tests = false
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Rewrite.Prefix != "tmp" {
		t.Errorf("prefix = %q, want tmp", c.Rewrite.Prefix)
	}
	if c.Rewrite.Directive != "precompute" {
		t.Errorf("directive = %q, want precompute", c.Rewrite.Directive)
	}
	if len(c.Files.Exclude) != 2 {
		t.Errorf("exclude count = %d, want 2", len(c.Files.Exclude))
	}
	if c.Files.Tests {
		t.Error("files.tests = true, want false")
	}
	if c.Path != filepath.Join(c.Dir, FileName) {
		t.Errorf("path = %q, dir = %q", c.Path, c.Dir)
	}

	ec := c.Expander()
	if ec.Prefix != "tmp" || ec.Directive != "precompute" {
		t.Errorf("Expander() = %+v", ec)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[files]
exclude = ["*.pb.go"]
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Rewrite.Prefix != "arg" {
		t.Errorf("default prefix = %q, want arg", c.Rewrite.Prefix)
	}
	if c.Rewrite.Directive != "unborrow" {
		t.Errorf("default directive = %q, want unborrow", c.Rewrite.Directive)
	}
	if !c.Files.Tests {
		t.Error("default files.tests = false, want true")
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"prefix not an identifier", "[rewrite]\nprefix = \"1x\"\n", "not a Go identifier"},
		{"empty prefix", "[rewrite]\nprefix = \"\"\n", "not a Go identifier"},
		{"empty directive", "[rewrite]\ndirective = \"\"\n", "directive is empty"},
		{"directive with space", "[rewrite]\ndirective = \"un borrow\"\n", "whitespace"},
		{"directive with slashes", "[rewrite]\ndirective = \"//unborrow\"\n", "without the leading //"},
		{"bad pattern", "[files]\nexclude = [\"[\"]\n", "files.exclude"},
		{"unknown key", "[rewrite]\nprefx = \"tmp\"\n", "unknown key rewrite.prefx"},
		{"not toml", "[rewrite\n", "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without unborrow.toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "[rewrite]\nprefix = \"found\"\n")

	c, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if c.Rewrite.Prefix != "found" {
		t.Errorf("prefix = %q, want found", c.Rewrite.Prefix)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if c != nil {
		t.Error("expected nil config when no unborrow.toml exists")
	}
}

func TestExcluded(t *testing.T) {
	c := Default()
	c.Dir = "/proj"
	c.Files.Exclude = []string{"*_gen.go", "testdata/*"}

	tests := []struct {
		file string
		want bool
	}{
		{"/proj/main.go", false},
		{"/proj/types_gen.go", true},
		{"/proj/sub/types_gen.go", true},
		{"/proj/testdata/x.go", true},
		{"/proj/sub/testdata/x.go", false},
		{"/proj/main_test.go", false},
	}
	for _, tt := range tests {
		if got := c.Excluded(tt.file); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.file, got, tt.want)
		}
	}

	c.Files.Tests = false
	if !c.Excluded("/proj/main_test.go") {
		t.Error("test file not excluded with files.tests = false")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}
