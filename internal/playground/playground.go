// Package playground wires the evaluation pipeline into one session: it
// owns the realm manager, the console log buffer and the evaluator, and
// turns source and version changes into runs.
package playground

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"codeberg.org/sigterm-de/goplay/internal/compiler"
	"codeberg.org/sigterm-de/goplay/internal/evaluator"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/logging"
	"codeberg.org/sigterm-de/goplay/internal/logs"
	"codeberg.org/sigterm-de/goplay/internal/realm"
	"codeberg.org/sigterm-de/goplay/internal/runstate"
	"codeberg.org/sigterm-de/goplay/internal/session"
)

// Callbacks are the notifications a front end subscribes to. Nil fields are
// skipped.
type Callbacks struct {
	OnRunStateChanged   func(s runstate.State)
	OnError             func(rec *evaluator.Record)
	OnCompiledCodeReady func(code string)
	OnVersionFallback   func(version string)
	// OnLog is called on the realm event loop for every console call and
	// MUST NOT block.
	OnLog func(l logs.Log)
}

// Config configures a Playground.
type Config struct {
	// Loader resolves library bundles. Required.
	Loader library.Loader

	// Compiler defaults to compiler.New(nil).
	Compiler compiler.Compiler

	// Session persists source, version and the stuck flag. Optional.
	Session *session.Store

	// Stylesheets is the head whitelist of every realm. Defaults to
	// realm.DefaultStylesheets.
	Stylesheets []string

	FileName string
	// TypeSystem is typescript, flow or none; empty detects it from the
	// file name and source.
	TypeSystem string
	ViewPreset string
	Options    compiler.PluginOptions

	Callbacks Callbacks
}

// Playground is one editing session. It is safe for concurrent use.
type Playground struct {
	cfg      Config
	realms   *realm.Manager
	logs     *logs.Buffer
	activity *realm.ActivityLog
	ev       *evaluator.Evaluator

	mu      sync.Mutex
	source  string
	version string
}

// New builds a Playground with a mounted realm manager.
func New(cfg Config) (*Playground, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("playground: %w: Loader is required", evaluator.ErrConfiguration)
	}

	p := &Playground{
		cfg:      cfg,
		logs:     logs.NewBuffer(),
		activity: realm.NewActivityLog(),
		version:  library.Master,
	}
	if cfg.Callbacks.OnLog != nil {
		p.logs.Subscribe(cfg.Callbacks.OnLog)
	}
	p.realms = realm.NewManager(realm.Options{
		Sink:        p.logs,
		Recorder:    p.activity,
		Stylesheets: cfg.Stylesheets,
		OnActivate:  func(*realm.Realm) { p.logs.RealmActivated() },
	})

	state := runstate.NewStore()
	if cb := cfg.Callbacks.OnRunStateChanged; cb != nil {
		state.Subscribe(cb)
	}
	var stuck evaluator.StuckFlag
	if cfg.Session != nil {
		stuck = cfg.Session
	}

	ev, err := evaluator.New(evaluator.Config{
		Loader:   cfg.Loader,
		Realms:   p.realms,
		Compiler: cfg.Compiler,
		State:    state,
		Recorder: p.activity,
		Stuck:    stuck,
		Callbacks: evaluator.Callbacks{
			OnError:             cfg.Callbacks.OnError,
			OnCompiledCodeReady: cfg.Callbacks.OnCompiledCodeReady,
			OnVersionFallback:   p.fellBack,
		},
	})
	if err != nil {
		p.realms.Close()
		return nil, fmt.Errorf("playground: %w", err)
	}
	p.ev = ev
	return p, nil
}

// Start restores the previous session, guarding its source when the last
// run never finished. Without a session store the defaults are used.
func (p *Playground) Start(defaultSource, defaultVersion string) (source, version string, err error) {
	st := session.State{Source: defaultSource, Version: defaultVersion}
	if p.cfg.Session != nil {
		if st, err = p.cfg.Session.Start(defaultSource, defaultVersion); err != nil {
			return "", "", fmt.Errorf("playground: %w", err)
		}
	}
	if st.Version == "" {
		st.Version = library.Master
	}

	p.mu.Lock()
	p.source, p.version = st.Source, st.Version
	p.mu.Unlock()
	p.logs.Observe(st.Source, st.Version)
	return st.Source, st.Version, nil
}

// Current returns the source and version the next run uses.
func (p *Playground) Current() (source, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, p.version
}

// SetSource replaces the source and runs it.
func (p *Playground) SetSource(ctx context.Context, source string) (*evaluator.Outcome, error) {
	_, version := p.Current()
	return p.Set(ctx, source, version)
}

// SetVersion selects a library version and runs the current source on it.
func (p *Playground) SetVersion(ctx context.Context, version string) (*evaluator.Outcome, error) {
	source, _ := p.Current()
	return p.Set(ctx, source, version)
}

// Set replaces source and version and runs. The realm and the logs are
// discarded when either differs from the current one.
func (p *Playground) Set(ctx context.Context, source, version string) (*evaluator.Outcome, error) {
	if version == "" {
		version = library.Master
	}
	p.mu.Lock()
	changed := source != p.source || version != p.version
	p.source, p.version = source, version
	p.mu.Unlock()

	if changed {
		p.realms.Invalidate()
		p.logs.Observe(source, version)
		p.remember(source, version)
	}
	return p.Run(ctx)
}

// Run evaluates the current source in the live realm. ErrDeferred is
// returned while unmounted.
func (p *Playground) Run(ctx context.Context) (*evaluator.Outcome, error) {
	source, version := p.Current()
	typeSystem := p.cfg.TypeSystem
	if typeSystem == "" {
		typeSystem = compiler.DetectTypeSystem(p.cfg.FileName, source)
	}
	out, err := p.ev.Evaluate(ctx, evaluator.Request{
		Source:     source,
		Version:    version,
		FileName:   p.cfg.FileName,
		TypeSystem: typeSystem,
		ViewPreset: p.cfg.ViewPreset,
		Options:    p.cfg.Options,
	})
	if errors.Is(err, evaluator.ErrDeferred) {
		logging.Log(logging.DEBUG, "playground", "run deferred until mount")
	}
	return out, err
}

// Mount attaches the host document and re-triggers evaluation.
func (p *Playground) Mount(ctx context.Context) (*evaluator.Outcome, error) {
	p.realms.Mount()
	return p.Run(ctx)
}

// Unmount detaches the host document and discards the realm.
func (p *Playground) Unmount() { p.realms.Unmount() }

// State returns the current run state.
func (p *Playground) State() runstate.State { return p.ev.State().Get() }

// Logs returns the console output captured since the last reset.
func (p *Playground) Logs() []logs.Log { return p.logs.Logs() }

// Activity returns the registry of listeners, timers and creator calls.
func (p *Playground) Activity() *realm.ActivityLog { return p.activity }

// Stats returns realm lifecycle counters.
func (p *Playground) Stats() realm.Stats { return p.realms.Stats() }

// RootHTML serialises the root element of the live realm, or returns ""
// when there is none.
func (p *Playground) RootHTML(ctx context.Context) (string, error) {
	r := p.realms.Current()
	if r == nil {
		return "", nil
	}
	html, err := r.RootHTML(ctx)
	if errors.Is(err, realm.ErrClosed) {
		return "", nil
	}
	return html, err
}

// Close discards the realm. The playground is unusable afterwards.
func (p *Playground) Close() { p.realms.Close() }

// fellBack adopts the version a run fell back to.
func (p *Playground) fellBack(version string) {
	p.mu.Lock()
	p.version = version
	source := p.source
	p.mu.Unlock()

	p.logs.Observe(source, version)
	p.remember(source, version)
	if cb := p.cfg.Callbacks.OnVersionFallback; cb != nil {
		cb(version)
	}
}

func (p *Playground) remember(source, version string) {
	if p.cfg.Session == nil {
		return
	}
	if err := p.cfg.Session.Remember(source, version); err != nil {
		logging.Logf(logging.WARN, "playground", "persist session: %v", err)
	}
}
