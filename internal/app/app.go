// Package app implements the goplay command line: one-shot runs, a file
// watcher, the version catalog and the MCP server.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"codeberg.org/sigterm-de/goplay/assets"
	"codeberg.org/sigterm-de/goplay/internal/evaluator"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/logging"
	"codeberg.org/sigterm-de/goplay/internal/logs"
	"codeberg.org/sigterm-de/goplay/internal/playground"
	"codeberg.org/sigterm-de/goplay/internal/server"
	"codeberg.org/sigterm-de/goplay/internal/session"
	"codeberg.org/sigterm-de/goplay/internal/versions"
)

const usage = `usage: goplay <command> [flags]

commands:
  run [file|-]     compile and run a snippet once (default: the last session)
  watch <file>     run a file on every save
  versions [query] list library versions
  mcp              serve the playground as MCP tools over stdio
`

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitStartup = 3
)

// env is what every command needs.
type env struct {
	cfg      UserConfiguration
	settings Settings
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	version  string
}

// runFlags are shared by run and watch.
type runFlags struct {
	version string
	verbose bool
	dom     bool
	code    bool
	timeout time.Duration
}

func (f *runFlags) register(fs *flag.FlagSet, s Settings) {
	fs.StringVar(&f.version, "version", "", "library version (default from settings: "+s.Version+")")
	fs.BoolVar(&f.verbose, "v", false, "mirror the log to stderr")
	fs.BoolVar(&f.dom, "dom", false, "print the rendered root element")
	fs.BoolVar(&f.code, "code", false, "print the compiled script")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "abandon a run after this long")
}

// Run executes the command line args (without the program name) and
// returns the process exit code.
func Run(args []string, appVersion string) int {
	return run(args, appVersion, os.Stdin, os.Stdout, os.Stderr)
}

func run(args []string, appVersion string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	cfg, err := NewUserConfiguration()
	if err != nil {
		fmt.Fprintf(stderr, "goplay: %v\n", err)
		return exitStartup
	}
	if _, err := logging.InitLogger(appName); err != nil {
		fmt.Fprintf(stderr, "goplay: warning: cannot initialise logger: %v\n", err)
	}
	logging.Logf(logging.INFO, "", "goplay %s starting: %s", appVersion, args[0])

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		fmt.Fprintf(stderr, "goplay: warning: %v; using defaults\n", err)
	}

	e := &env{cfg: cfg, settings: settings, stdin: stdin, stdout: stdout, stderr: stderr, version: appVersion}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		return e.cmdRun(ctx, args[1:])
	case "watch":
		return e.cmdWatch(ctx, args[1:])
	case "versions":
		return e.cmdVersions(ctx, args[1:])
	case "mcp":
		return e.cmdMCP(ctx, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	fmt.Fprintf(stderr, "goplay: unknown command %q\n\n%s", args[0], usage)
	return exitUsage
}

// newPlayground builds a playground from the settings. fileName names the
// source in stack traces.
func (e *env) newPlayground(fileName string, cb playground.Callbacks) (*playground.Playground, error) {
	loader := library.NewLoader(library.Config{
		Fetcher: library.NewHTTPFetcher(e.settings.HTTPTimeout),
		CDN:     e.settings.CDN,
		Canary:  e.settings.Canary,
	})
	return playground.New(playground.Config{
		Loader:      loader,
		Session:     session.NewStore(e.cfg.SessionPath),
		Stylesheets: e.settings.Stylesheets,
		FileName:    fileName,
		TypeSystem:  e.settings.typeSystem(),
		ViewPreset:  e.settings.View,
		Options:     e.settings.Compiler,
		Callbacks:   cb,
	})
}

func (e *env) catalogOptions() versions.Options {
	return versions.Options{
		Registry:  e.settings.Registry,
		CachePath: e.cfg.VersionsCachePath,
		Client:    &http.Client{Timeout: e.settings.HTTPTimeout},
	}
}

// ── run ──────────────────────────────────────────────────────────────────────

func (e *env) cmdRun(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var f runFlags
	f.register(fs, e.settings)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if f.verbose {
		logging.Mirror(e.stderr, logging.DEBUG)
	}

	path := fs.Arg(0)
	pg, err := e.newPlayground(sourceName(path), e.echoCallbacks())
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitStartup
	}
	defer pg.Close()

	source, version, err := pg.Start(assets.DefaultSource(), e.settings.Version)
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitStartup
	}
	if path != "" {
		if source, err = readSource(path, e.stdin); err != nil {
			fmt.Fprintf(e.stderr, "goplay: %v\n", err)
			return exitUsage
		}
	}
	if f.version != "" {
		version = f.version
	}
	if !versions.Valid(version) {
		fmt.Fprintf(e.stderr, "goplay: invalid version %q\n", version)
		return exitUsage
	}

	return e.runOnce(ctx, pg, source, version, f)
}

// runOnce runs source and prints the outcome.
func (e *env) runOnce(ctx context.Context, pg *playground.Playground, source, version string, f runFlags) int {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := pg.Set(ctx, source, version)
	var rec *evaluator.Record
	switch {
	case errors.As(err, &rec):
		fmt.Fprintln(e.stderr, rec.Trace())
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(e.stderr, "goplay: run abandoned after %v; it will be guarded on the next start\n", f.timeout)
		return exitFailed
	case err != nil:
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitFailed
	}

	if f.code && out.Result != nil {
		fmt.Fprintln(e.stdout, out.Result.Code)
	}
	if f.dom {
		html, derr := pg.RootHTML(ctx)
		if derr != nil {
			fmt.Fprintf(e.stderr, "goplay: dom: %v\n", derr)
		} else {
			fmt.Fprintln(e.stdout, html)
		}
	}
	if rec != nil {
		return exitFailed
	}
	return exitOK
}

// echoCallbacks print console output and version fallbacks as they happen.
func (e *env) echoCallbacks() playground.Callbacks {
	return playground.Callbacks{
		OnLog: func(l logs.Log) {
			w := e.stdout
			if l.Method == "error" || l.Method == "warn" {
				w = e.stderr
			}
			fmt.Fprintln(w, l.String())
		},
		OnVersionFallback: func(v string) {
			fmt.Fprintf(e.stderr, "goplay: version unavailable, using %s\n", v)
		},
	}
}

func sourceName(path string) string {
	if path == "" || path == "-" {
		return ""
	}
	return filepath.Base(path)
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ── versions ─────────────────────────────────────────────────────────────────

func (e *env) cmdVersions(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("versions", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	limit := fs.Int("n", 0, "print at most n versions (0: all)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cat, err := versions.Load(ctx, e.catalogOptions())
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitFailed
	}
	list := cat.All()
	if q := fs.Arg(0); q != "" {
		list = cat.Search(q)
	}
	if *limit > 0 && len(list) > *limit {
		list = list[:*limit]
	}
	for _, v := range list {
		fmt.Fprintln(e.stdout, v)
	}
	return exitOK
}

// ── mcp ──────────────────────────────────────────────────────────────────────

func (e *env) cmdMCP(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	timeout := fs.Duration("timeout", 30*time.Second, "abandon an evaluation after this long")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	pg, err := e.newPlayground("", playground.Callbacks{})
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitStartup
	}
	defer pg.Close()
	if _, _, err := pg.Start(assets.DefaultSource(), e.settings.Version); err != nil {
		logging.Logf(logging.WARN, "mcp", "session: %v", err)
	}

	opts := e.catalogOptions()
	srv, err := server.New(server.Config{
		Playground: pg,
		Catalog: func(ctx context.Context) (versions.Catalog, error) {
			return versions.Load(ctx, opts)
		},
		Timeout: *timeout,
		Version: e.version,
	})
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitStartup
	}
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(e.stderr, "goplay: mcp: %v\n", err)
		return exitFailed
	}
	return exitOK
}
