package library

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"github.com/dop251/goja"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Bundle is one fetched and compiled library. Program is runtime
// independent; executing it inside a realm yields the module exports.
type Bundle struct {
	Name     string
	Version  string
	URL      string
	FileName string // program name in engine stack traces
	Source   string
	Requires []string
	Program  *goja.Program
}

// Key identifies the bundle in caches.
func (b *Bundle) Key() string { return cacheKey(b.Name, b.Version) }

// ModuleParams are the parameters of the function a bundle is wrapped in.
var ModuleParams = []string{"exports", "require", "module", "process", "console"}

var sourceMappingComment = regexp.MustCompile(`(?m)^//# sourceMappingURL=.*$`)

// Loader resolves bundles by (name, version).
type Loader interface {
	// Load returns the bundle for (name, version). Concurrent and repeated
	// calls for the same pair MUST share one fetch and then return the
	// identical *Bundle, or the identical error when the load failed.
	Load(ctx context.Context, name, version string) (*Bundle, error)

	// LoadAll loads names in parallel and returns the bundles in the order
	// of names. The first failure is returned.
	LoadAll(ctx context.Context, names []string, version string) ([]*Bundle, error)

	// Specs returns the library registry the loader serves.
	Specs() []Spec

	// Fetches returns the number of network fetches performed so far.
	Fetches() int64
}

// Config wires a Loader.
type Config struct {
	Specs   []Spec
	Fetcher Fetcher
	CDN     string
	Canary  string
}

type entry struct {
	bundle *Bundle
	err    error
}

type loader struct {
	specs   []Spec
	byName  map[string]Spec
	fetcher Fetcher
	cdn     string
	canary  string

	mu      sync.Mutex
	cache   map[string]entry
	group   singleflight.Group
	fetches atomic.Int64
}

// NewLoader returns a Loader that caches for its whole lifetime.
func NewLoader(cfg Config) Loader {
	if cfg.Specs == nil {
		cfg.Specs = DefaultSpecs()
	}
	if cfg.CDN == "" {
		cfg.CDN = DefaultCDN
	}
	if cfg.Canary == "" {
		cfg.Canary = DefaultCanary
	}
	byName := make(map[string]Spec, len(cfg.Specs))
	for _, s := range cfg.Specs {
		byName[s.Name] = s
	}
	return &loader{
		specs:   cfg.Specs,
		byName:  byName,
		fetcher: cfg.Fetcher,
		cdn:     cfg.CDN,
		canary:  cfg.Canary,
		cache:   make(map[string]entry),
	}
}

func cacheKey(name, version string) string { return name + "@" + version }

func (l *loader) Specs() []Spec { return append([]Spec(nil), l.specs...) }

func (l *loader) Fetches() int64 { return l.fetches.Load() }

// Load implements Loader.
func (l *loader) Load(ctx context.Context, name, version string) (*Bundle, error) {
	key := cacheKey(name, version)

	l.mu.Lock()
	if e, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return e.bundle, e.err
	}
	l.mu.Unlock()

	ch := l.group.DoChan(key, func() (any, error) {
		l.mu.Lock()
		if e, ok := l.cache[key]; ok {
			l.mu.Unlock()
			return e, nil
		}
		l.mu.Unlock()

		// The fetch outlives any single caller; the fetcher's own timeout
		// bounds it.
		b, err := l.fetch(context.WithoutCancel(ctx), name, version)
		e := entry{bundle: b, err: err}

		l.mu.Lock()
		l.cache[key] = e
		l.mu.Unlock()
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		e := res.Val.(entry)
		return e.bundle, e.err
	}
}

// LoadAll implements Loader.
func (l *loader) LoadAll(ctx context.Context, names []string, version string) ([]*Bundle, error) {
	out := make([]*Bundle, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			b, err := l.Load(gctx, name, version)
			if err != nil {
				return err
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *loader) fetch(ctx context.Context, name, version string) (*Bundle, error) {
	spec, ok := l.byName[name]
	if !ok {
		return nil, &FetchError{Name: name, Version: version, Err: errors.New("unknown library")}
	}
	if l.fetcher == nil {
		return nil, &FetchError{Name: name, Version: version, Err: errors.New("no fetcher configured")}
	}
	url := spec.URL(version, l.cdn, l.canary)

	l.fetches.Add(1)
	logging.Logf(logging.INFO, "library", "fetch %s@%s from %s", name, version, url)
	body, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		fe := &FetchError{Name: name, Version: version, URL: url, Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			fe.Status = se.Code
		}
		logging.Log(logging.WARN, "library", fe.Error())
		return nil, fe
	}

	b, err := compileBundle(spec, version, url, string(body))
	if err != nil {
		fe := &FetchError{Name: name, Version: version, URL: url, Err: err}
		logging.Log(logging.WARN, "library", fe.Error())
		return nil, fe
	}
	return b, nil
}

// BundleFileName is the program name of a bundle in stack traces.
func BundleFileName(name, version string) string {
	return strings.ReplaceAll(name, "/", "-") + "." + version + ".js"
}

// compileBundle wraps source in a CommonJS function and compiles it. The
// strict directive shares the first line with the source so bundle line
// numbers stay intact.
func compileBundle(spec Spec, version, url, source string) (*Bundle, error) {
	source = sourceMappingComment.ReplaceAllString(source, "")
	fileName := BundleFileName(spec.Name, version)
	wrapped := "(function (" + strings.Join(ModuleParams, ", ") + ") {'use strict';" + source + "\n})"

	prg, err := goja.Compile(fileName, wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("compile bundle: %w", err)
	}
	return &Bundle{
		Name:     spec.Name,
		Version:  version,
		URL:      url,
		FileName: fileName,
		Source:   source,
		Requires: append([]string(nil), spec.Requires...),
		Program:  prg,
	}, nil
}
