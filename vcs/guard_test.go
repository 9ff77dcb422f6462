package vcs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestGuard(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	write(t, filepath.Join(dir, "clean.go"), "package p\n")
	write(t, filepath.Join(dir, "dirty.go"), "package p\n")
	for _, name := range []string{"clean.go", "dirty.go"} {
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	write(t, filepath.Join(dir, "dirty.go"), "package p\n\nvar x int\n")
	write(t, filepath.Join(dir, "staged.go"), "package p\n")
	if _, err := wt.Add("staged.go"); err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(dir, "untracked.go"), "package p\n")

	g := NewGuard()
	tests := []struct {
		file  string
		state string
	}{
		{"clean.go", ""},
		{"dirty.go", "modified"},
		{"staged.go", "staged"},
		{"untracked.go", "untracked"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			err := g.Check(filepath.Join(dir, tt.file))
			if tt.state == "" {
				if err != nil {
					t.Errorf("Check = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrDirty) {
				t.Fatalf("Check = %v, want ErrDirty", err)
			}
			if !strings.Contains(err.Error(), tt.state) {
				t.Errorf("Check = %q, want it to mention %q", err, tt.state)
			}
		})
	}
}

func TestGuardOutsideRepository(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	write(t, path, "package main\n")
	if err := NewGuard().Check(path); err != nil {
		t.Errorf("Check outside a repository = %v, want nil", err)
	}
}

func TestGuardSubdirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "pkg", "inner")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sub, "x.go")
	write(t, path, "package inner\n")

	err := NewGuard().Check(path)
	if !errors.Is(err, ErrDirty) || !strings.Contains(err.Error(), "untracked") {
		t.Errorf("Check = %v, want untracked ErrDirty", err)
	}
}
