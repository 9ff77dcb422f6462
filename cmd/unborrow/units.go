package main

import (
	"cmp"
	"errors"
	"fmt"
	"go/build"
	"go/parser"
	"go/token"
	"go/types"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"

	"github.com/chazu/unborrow/config"
	"github.com/chazu/unborrow/expand"
)

// A unit is the files of one package in one directory. They are
// type-checked together.
type unit struct {
	dir   string
	pkg   string
	files []string
}

func trimPattern(path string) string {
	if path == "..." {
		return "."
	}
	return strings.TrimSuffix(path, string(filepath.Separator)+"...")
}

// collect resolves paths to units. A path is a Go file, a directory, or a
// directory followed by /... for the tree below it. Anything else is a
// package pattern for the go command. Files named explicitly are kept even
// when the configuration excludes them.
func collect(paths []string, cfg *config.Config) ([]*unit, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(file string) {
		if abs, err := filepath.Abs(file); err == nil && !seen[abs] {
			seen[abs] = true
			files = append(files, file)
		}
	}

	for _, p := range paths {
		p = filepath.Clean(p)
		recursive := p == "..." || strings.HasSuffix(p, string(filepath.Separator)+"...")
		root := trimPattern(p)

		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			pkgFiles, err := patternFiles(p, cfg)
			if err != nil {
				return nil, err
			}
			for _, f := range pkgFiles {
				add(f)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if recursive {
				return nil, fmt.Errorf("%s: not a directory", root)
			}
			add(root)
			continue
		}
		if !recursive {
			dirFiles, err := goFiles(root, cfg)
			if err != nil {
				return nil, err
			}
			for _, f := range dirFiles {
				add(f)
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			dirFiles, err := goFiles(path, cfg)
			if err != nil {
				return err
			}
			for _, f := range dirFiles {
				add(f)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return group(files)
}

// patternFiles lists the Go files of the packages matching pattern.
func patternFiles(pattern string, cfg *config.Config) ([]string, error) {
	lc := &packages.Config{
		Mode:  packages.NeedName | packages.NeedFiles,
		Tests: cfg.Files.Tests,
	}
	pkgs, err := packages.Load(lc, pattern)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", pattern, err)
	}
	var files []string
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, fmt.Errorf("%s: %v", pattern, pkg.Errors[0])
		}
		for _, file := range pkg.GoFiles {
			if cfg.Excluded(file) {
				log.Debugf("%s: excluded by configuration", file)
				continue
			}
			files = append(files, file)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: matched no Go files", pattern)
	}
	return files, nil
}

// skipDir reports whether a directory is left out of a /... walk, as the go
// command does.
func skipDir(name string) bool {
	return name == "testdata" || name == "vendor" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// goFiles lists the Go files of dir that the current build would compile
// and the configuration does not exclude.
func goFiles(dir string, cfg *config.Config) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}
		file := filepath.Join(dir, name)
		if cfg.Excluded(file) {
			log.Debugf("%s: excluded by configuration", file)
			continue
		}
		if ok, err := build.Default.MatchFile(dir, name); err != nil || !ok {
			log.Debugf("%s: not part of this build", file)
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

// group splits files into units by directory and package clause, so that an
// external _test package is checked apart from the package it tests.
func group(files []string) ([]*unit, error) {
	byKey := make(map[[2]string]*unit)
	var units []*unit
	for _, file := range files {
		f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.PackageClauseOnly)
		if err != nil {
			return nil, err
		}
		key := [2]string{filepath.Dir(file), f.Name.Name}
		u, ok := byKey[key]
		if !ok {
			u = &unit{dir: key[0], pkg: key[1]}
			byKey[key] = u
			units = append(units, u)
		}
		u.files = append(u.files, file)
	}
	slices.SortFunc(units, func(a, b *unit) int {
		return cmp.Or(cmp.Compare(a.dir, b.dir), cmp.Compare(a.pkg, b.pkg))
	})
	return units, nil
}

func (u *unit) expand(e *expand.Expander) ([]*expand.Result, error) {
	srcs := make([][]byte, len(u.files))
	for i, file := range u.files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		srcs[i] = src
	}
	imp := newImporter(u.dir)
	imp.preload(u.files)
	log.Debugf("%s: expanding package %s (%d files)", u.dir, u.pkg, len(u.files))
	return e.Package(u.files, srcs, imp)
}

// importer resolves imports through the go command, so that module
// dependencies and vendored packages type-check as the build sees them.
type importer struct {
	dir   string
	cache map[string]*types.Package
}

func newImporter(dir string) *importer {
	return &importer{dir: dir, cache: make(map[string]*types.Package)}
}

func (imp *importer) Import(path string) (*types.Package, error) {
	if path == "unsafe" {
		return types.Unsafe, nil
	}
	if pkg, ok := imp.cache[path]; ok {
		return pkg, nil
	}
	if err := imp.load(path); err != nil {
		return nil, err
	}
	if pkg, ok := imp.cache[path]; ok {
		return pkg, nil
	}
	return nil, fmt.Errorf("cannot find package %q", path)
}

// preload loads every import of files in one go command invocation.
func (imp *importer) preload(files []string) {
	var paths []string
	for _, file := range files {
		f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.ImportsOnly)
		if err != nil {
			continue
		}
		for _, spec := range f.Imports {
			path, err := strconv.Unquote(spec.Path.Value)
			if err != nil || path == "C" || path == "unsafe" || slices.Contains(paths, path) {
				continue
			}
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return
	}
	if err := imp.load(paths...); err != nil {
		log.Warningf("%s: %v", imp.dir, err)
	}
}

func (imp *importer) load(paths ...string) error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedImports | packages.NeedDeps,
		Dir:  imp.dir,
	}
	pkgs, err := packages.Load(cfg, paths...)
	if err != nil {
		return fmt.Errorf("loading %s: %w", strings.Join(paths, " "), err)
	}
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		if pkg.Types != nil && len(pkg.Errors) == 0 {
			imp.cache[pkg.PkgPath] = pkg.Types
		}
	})
	return nil
}
