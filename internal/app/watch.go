package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"codeberg.org/sigterm-de/goplay/internal/playground"
	"github.com/fsnotify/fsnotify"
)

// watchDelay is the quiet interval after the last save before a run.
const watchDelay = 300 * time.Millisecond

func (e *env) cmdWatch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var f runFlags
	f.register(fs, e.settings)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	path := fs.Arg(0)
	if path == "" || path == "-" {
		fmt.Fprintln(e.stderr, "goplay: watch needs a file")
		return exitUsage
	}
	if f.verbose {
		logging.Mirror(e.stderr, logging.DEBUG)
	}
	version := f.version
	if version == "" {
		version = e.settings.Version
	}

	pg, err := e.newPlayground(sourceName(path), e.echoCallbacks())
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitStartup
	}
	defer pg.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return exitStartup
	}
	defer watcher.Close()
	// Editors replace files on save, so the directory is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		fmt.Fprintf(e.stderr, "goplay: watch: %v\n", err)
		return exitStartup
	}

	runs := make(chan struct{}, 1)
	trigger := func() {
		select {
		case runs <- struct{}{}:
		default:
		}
	}
	debounce := playground.NewDebouncer(watchDelay)
	defer debounce.Stop()

	target, _ := filepath.Abs(path)
	trigger()
	for {
		select {
		case <-ctx.Done():
			return exitOK
		case ev, ok := <-watcher.Events:
			if !ok {
				return exitOK
			}
			if abs, _ := filepath.Abs(ev.Name); abs != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce.Trigger(trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return exitOK
			}
			logging.Logf(logging.WARN, "watch", "%v", err)
		case <-runs:
			if e.watchRun(ctx, pg, path, version, f) {
				_, version = pg.Current()
			}
		}
	}
}

// watchRun reruns path after a change and reports whether it ran. The
// caller adopts the playground's version afterwards, so a run that fell back
// to master stays on master.
func (e *env) watchRun(ctx context.Context, pg *playground.Playground, path, version string, f runFlags) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(e.stderr, "goplay: %v\n", err)
		return false
	}
	fmt.Fprintf(e.stderr, "-- %s (%s) --\n", filepath.Base(path), time.Now().Format(time.TimeOnly))
	e.runOnce(ctx, pg, string(data), version, f)
	return true
}
