// unborrow rewrites marked method calls so that every argument is evaluated
// into a temporary before the call is made.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/unborrow/config"
	"github.com/chazu/unborrow/expand"
	"github.com/chazu/unborrow/server"
	"github.com/chazu/unborrow/vcs"

	_ "github.com/tliron/commonlog/simple"
)

// version is set at link time.
var version = "dev"

var log = commonlog.GetLogger("unborrow")

const stdinName = "<standard input>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	write   bool
	list    bool
	diff    bool
	force   bool
	report  string
	config  string
	prefix  string
	lsp     bool
	verbose int
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("unborrow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.write, "w", false, "Write results back to the source files")
	fs.BoolVar(&opts.list, "l", false, "List files whose output differs from the source")
	fs.BoolVar(&opts.diff, "d", false, "Print diffs instead of rewritten source")
	fs.BoolVar(&opts.force, "force", false, "With -w, overwrite files that have uncommitted git changes")
	fs.StringVar(&opts.report, "report", "", "Write a YAML report of rewritten sites to `file`")
	fs.StringVar(&opts.config, "config", "", "Read configuration from `file` instead of the nearest "+config.FileName)
	fs.StringVar(&opts.prefix, "prefix", "", "Prefix for generated temporaries (overrides the configuration)")
	fs.BoolVar(&opts.lsp, "lsp", false, "Start the language server on stdio")
	verbose := fs.Bool("v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: unborrow [options] [paths...]\n\n")
		fmt.Fprintf(stderr, "Rewrites calls marked with //%s so that their arguments are\n", expand.DefaultDirective)
		fmt.Fprintf(stderr, "evaluated into temporaries before the call. With no paths, reads standard input.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  unborrow main.go            # Print the rewritten file\n")
		fmt.Fprintf(stderr, "  unborrow -d ./...           # Show what would change\n")
		fmt.Fprintf(stderr, "  unborrow -w ./pkg           # Rewrite a package in place\n")
		fmt.Fprintf(stderr, "  unborrow -w -report r.yaml ./...  # Rewrite and record every site\n")
		fmt.Fprintf(stderr, "\nLanguage Server:\n")
		fmt.Fprintf(stderr, "  unborrow -lsp               # Offer the rewrite as a code action\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *verbose {
		opts.verbose = 2
	}
	commonlog.Configure(opts.verbose, nil)

	paths := fs.Args()
	cfg, err := loadConfig(opts.config, paths)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if opts.prefix != "" {
		cfg.Rewrite.Prefix = opts.prefix
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Error: -prefix: %v\n", err)
			return 2
		}
	}
	if cfg.Path != "" {
		log.Infof("using configuration %s", cfg.Path)
	}
	e := expand.New(cfg.Expander())

	if opts.lsp {
		if err := server.NewLSP(e, version).Run(); err != nil {
			fmt.Fprintf(stderr, "Error: language server: %v\n", err)
			return 1
		}
		return 0
	}

	if len(paths) == 0 {
		if opts.write {
			fmt.Fprintf(stderr, "Error: cannot use -w with standard input\n")
			return 2
		}
		src, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		res, err := e.File(stdinName, src)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		p := &printer{opts: opts, stdout: stdout}
		if err := p.print(res); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return writeReport(opts.report, e, []*expand.Result{res}, stderr)
	}

	units, err := collect(paths, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	p := &printer{opts: opts, stdout: stdout}
	if opts.write && !opts.force {
		p.guard = vcs.NewGuard()
	}
	status := 0
	var all []*expand.Result
	for _, u := range units {
		// Per-file errors come back in the results.
		results, err := u.expand(e)
		if err != nil && results == nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
			continue
		}
		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(stderr, "%v\n", res.Err)
				status = 1
				continue
			}
			if err := p.print(res); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				status = 1
				continue
			}
			all = append(all, res)
		}
	}
	if s := writeReport(opts.report, e, all, stderr); s != 0 {
		status = s
	}
	return status
}

func loadConfig(file string, paths []string) (*config.Config, error) {
	if file != "" {
		return config.LoadFile(file)
	}
	start := "."
	if len(paths) > 0 {
		start = paths[0]
		if info, err := os.Stat(start); err != nil || !info.IsDir() {
			start = filepath.Dir(start)
		}
	}
	cfg, err := config.FindAndLoad(trimPattern(start))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func writeReport(path string, e *expand.Expander, results []*expand.Result, stderr io.Writer) int {
	if path == "" {
		return 0
	}
	r := expand.NewReport(e.Directive())
	r.Add(results...)
	if err := r.WriteFile(path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	log.Infof("wrote %d sites to %s", r.Count(), path)
	return 0
}

// printer emits one result the way the flags ask for.
type printer struct {
	opts   options
	stdout io.Writer
	guard  *vcs.Guard
}

func (p *printer) print(res *expand.Result) error {
	changed := res.Changed()
	if p.opts.list && changed {
		fmt.Fprintln(p.stdout, res.Filename)
	}
	if p.opts.diff && changed {
		if _, err := io.WriteString(p.stdout, unifiedDiff(res.Filename, res.Original, res.Output)); err != nil {
			return err
		}
	}
	if p.opts.write {
		if changed {
			return p.writeFile(res)
		}
		return nil
	}
	if !p.opts.list && !p.opts.diff {
		_, err := io.Copy(p.stdout, bytes.NewReader(res.Output))
		return err
	}
	return nil
}

func (p *printer) writeFile(res *expand.Result) error {
	if p.guard != nil {
		if err := p.guard.Check(res.Filename); err != nil {
			if errors.Is(err, vcs.ErrDirty) {
				return fmt.Errorf("%w; commit it first or pass -force", err)
			}
			return err
		}
	}
	info, err := os.Stat(res.Filename)
	if err != nil {
		return err
	}
	if err := os.WriteFile(res.Filename, res.Output, info.Mode().Perm()); err != nil {
		return err
	}
	log.Infof("%s: rewrote %d sites", res.Filename, len(res.Sites))
	return nil
}
