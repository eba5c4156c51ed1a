package evaluator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/realm"
	"codeberg.org/sigterm-de/goplay/internal/runstate"
)

const fakeEffector = `
function unit(kind) { return {kind: kind, sid: null, shortName: ''} }
exports.createStore = function (v) { var s = unit('store'); s.getState = function () { return v }; return s }
exports.createEvent = function () { return unit('event') }
exports.is = {store: function (v) { return v && v.kind === 'store' }}
`

// fakeFetcher serves bodies by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.bodies[url]
	if !ok {
		return nil, &library.StatusError{Code: http.StatusNotFound}
	}
	return []byte(body), nil
}

// stuckLog records every stuck flag write.
type stuckLog struct {
	mu     sync.Mutex
	writes []bool
}

func (s *stuckLog) SetStuck(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, v)
	return nil
}

func (s *stuckLog) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.writes...)
}

type consoleSink struct {
	mu      sync.Mutex
	entries []realm.Entry
}

func (c *consoleSink) Log(e realm.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *consoleSink) snapshot() []realm.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realm.Entry(nil), c.entries...)
}

type fixture struct {
	ev        *Evaluator
	realms    *realm.Manager
	fetcher   *fakeFetcher
	stuck     *stuckLog
	console   *consoleSink
	activity  *realm.ActivityLog
	states    []runstate.State
	errs      []*Record
	code      []string
	fallbacks []string
	mu        sync.Mutex
}

func newFixture(t *testing.T, bodies map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:  &fakeFetcher{bodies: bodies},
		stuck:    &stuckLog{},
		console:  &consoleSink{},
		activity: realm.NewActivityLog(),
	}
	f.realms = realm.NewManager(realm.Options{Sink: f.console, Recorder: f.activity})
	t.Cleanup(f.realms.Close)

	loader := library.NewLoader(library.Config{
		Specs: []library.Spec{{
			Name:         library.Effector,
			VersionedURL: "{cdn}/effector@{version}/effector.cjs.js",
			CanaryURL:    "{canary}/effector.cjs.js",
		}},
		Fetcher: f.fetcher,
		CDN:     "https://cdn.test",
		Canary:  "https://canary.test",
	})
	state := runstate.NewStore()
	state.Subscribe(func(s runstate.State) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states = append(f.states, s)
	})

	ev, err := New(Config{
		Loader:   loader,
		Realms:   f.realms,
		State:    state,
		Recorder: f.activity,
		Stuck:    f.stuck,
		Callbacks: Callbacks{
			OnError: func(rec *Record) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.errs = append(f.errs, rec)
			},
			OnCompiledCodeReady: func(code string) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.code = append(f.code, code)
			},
			OnVersionFallback: func(v string) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.fallbacks = append(f.fallbacks, v)
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.ev = ev
	return f
}

const canaryURL = "https://canary.test/effector.cjs.js"

func masterOnly() map[string]string {
	return map[string]string{canaryURL: fakeEffector}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("New(Config{}) = %v; want ErrConfiguration", err)
	}
}

func TestEvaluateSuccess(t *testing.T) {
	f := newFixture(t, masterOnly())
	out, err := f.ev.Evaluate(context.Background(), Request{Source: "export const x = 1\n"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.State != runstate.Done || out.Version != library.Master || out.FellBack {
		t.Errorf("outcome = %+v", out)
	}
	if got := f.ev.State().Get(); got != runstate.Done {
		t.Errorf("state = %v", got)
	}
	if want := []runstate.State{runstate.Running, runstate.Done}; !equalStates(f.states, want) {
		t.Errorf("transitions = %v; want %v", f.states, want)
	}
	if len(f.errs) != 1 || f.errs[0] != nil {
		t.Errorf("OnError calls = %v; want a single nil", f.errs)
	}
	if len(f.code) != 1 || !strings.Contains(f.code[0], "async function main()") {
		t.Errorf("compiled code = %q", f.code)
	}
	if got := f.stuck.snapshot(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("stuck writes = %v; want [true false]", got)
	}
}

func TestEvaluateRuntimeError(t *testing.T) {
	f := newFixture(t, masterOnly())
	out, err := f.ev.Evaluate(context.Background(), Request{Source: "throw new Error('boom')\n"})
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("err = %v; want ErrRuntime", err)
	}
	rec := out.Record
	if out.State != runstate.Failed || rec.Kind != KindRuntime {
		t.Fatalf("outcome = %+v", out)
	}
	if rec.Header != "Error" || rec.Message != "boom" {
		t.Errorf("header, message = %q, %q", rec.Header, rec.Message)
	}
	if len(rec.StackFrames) == 0 {
		t.Fatalf("no stack frames; stack = %q", rec.Stack)
	}
	mapped := false
	for _, fr := range rec.StackFrames {
		if fr.Mapped() && fr.Original.Line == 1 {
			mapped = true
		}
	}
	if !mapped {
		t.Errorf("no frame mapped to line 1: %+v", rec.StackFrames)
	}
	if got := f.stuck.snapshot(); len(got) != 2 || got[1] {
		t.Errorf("stuck writes = %v", got)
	}
	if len(f.code) != 0 {
		t.Error("compiled code published for a failed run")
	}
}

func TestEvaluateAsyncRejection(t *testing.T) {
	f := newFixture(t, masterOnly())
	src := "await new Promise(resolve => setTimeout(resolve, 5))\nthrow new TypeError('late')\n"
	out, err := f.ev.Evaluate(context.Background(), Request{Source: src})
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("err = %v", err)
	}
	if out.Record.Name != "TypeError" || out.Record.Message != "late" {
		t.Errorf("record = %+v", out.Record)
	}
}

func TestEvaluateCompileError(t *testing.T) {
	f := newFixture(t, masterOnly())
	out, err := f.ev.Evaluate(context.Background(), Request{Source: "const = 1\n"})
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("err = %v; want ErrCompile", err)
	}
	if out.Record.Kind != KindCompile || len(out.Record.StackFrames) != 0 || out.Record.StackFrames == nil {
		t.Errorf("record = %+v", out.Record)
	}
	if out.Result != nil {
		t.Error("Result set for a compile failure")
	}
}

func TestEvaluateFallsBackToMaster(t *testing.T) {
	f := newFixture(t, masterOnly())
	out, err := f.ev.Evaluate(context.Background(), Request{Source: "export const x = 1\n", Version: "22.0.0"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.FellBack || out.Version != library.Master {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.fallbacks) != 1 || f.fallbacks[0] != library.Master {
		t.Errorf("fallbacks = %v", f.fallbacks)
	}

	// The failed version is cached: a second run falls back without
	// fetching it again.
	before := f.fetcher.calls
	if _, err := f.ev.Evaluate(context.Background(), Request{Source: "1\n", Version: "22.0.0"}); err != nil {
		t.Fatal(err)
	}
	if f.fetcher.calls != before {
		t.Errorf("fetches = %d; want %d", f.fetcher.calls, before)
	}
}

func TestEvaluateBootstrapThrowFallsBack(t *testing.T) {
	bodies := masterOnly()
	bodies["https://cdn.test/effector@1.2.3/effector.cjs.js"] = "throw new Error('bootstrap')\n"
	f := newFixture(t, bodies)
	out, err := f.ev.Evaluate(context.Background(), Request{Source: "console.log('ran')\n", Version: "1.2.3"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.FellBack || out.State != runstate.Done || out.Version != library.Master {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.fallbacks) != 1 || f.fallbacks[0] != library.Master {
		t.Errorf("fallbacks = %v", f.fallbacks)
	}
}

func TestEvaluateLoadErrorIsTerminal(t *testing.T) {
	f := newFixture(t, map[string]string{})
	out, err := f.ev.Evaluate(context.Background(), Request{Source: "1\n", Version: "22.0.0"})
	if !errors.Is(err, ErrLoad) || !errors.Is(err, library.ErrFetch) {
		t.Fatalf("err = %v; want ErrLoad wrapping ErrFetch", err)
	}
	if out.State != runstate.Failed || out.Record.Kind != KindLoad || len(f.fallbacks) != 1 {
		t.Errorf("outcome = %+v, fallbacks = %v", out, f.fallbacks)
	}
}

func TestEvaluateDeferredWhileUnmounted(t *testing.T) {
	f := newFixture(t, masterOnly())
	f.realms.Unmount()
	if _, err := f.ev.Evaluate(context.Background(), Request{Source: "1\n"}); !errors.Is(err, ErrDeferred) {
		t.Fatalf("err = %v; want ErrDeferred", err)
	}
	if got := f.ev.State().Get(); got != runstate.Idle {
		t.Errorf("state = %v; want idle", got)
	}
	if len(f.stuck.snapshot()) != 0 {
		t.Error("stuck flag written for a deferred run")
	}
}

func TestEvaluateAnnotatesAndRecordsCreators(t *testing.T) {
	f := newFixture(t, masterOnly())
	src := strings.Join([]string{
		"import {createStore} from 'effector'",
		"import {foo} from 'unknown-package'",
		"const $count = createStore(0)",
		"console.log($count.shortName, typeof $count.sid, __VERSION__)",
	}, "\n")
	out, err := f.ev.Evaluate(context.Background(), Request{Source: src})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if strings.Contains(out.Result.Code, "unknown-package") {
		t.Error("unknown import left in compiled code")
	}
	if got := f.activity.Methods(); len(got) != 1 || got[0] != "createStore" {
		t.Errorf("invocations = %v", got)
	}
	entries := f.console.snapshot()
	if len(entries) != 1 {
		t.Fatalf("console = %+v", entries)
	}
	args := entries[0].Args
	if args[0] != "$count" || args[1] != "string" || args[2] != library.Master {
		t.Errorf("console args = %v", args)
	}
}

func TestEvaluateCancelLeavesStuckFlag(t *testing.T) {
	f := newFixture(t, masterOnly())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.ev.Evaluate(ctx, Request{Source: "while (true) {}\n"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v; want DeadlineExceeded", err)
	}
	if got := f.stuck.snapshot(); len(got) != 1 || !got[0] {
		t.Errorf("stuck writes = %v; want [true]", got)
	}
	if f.realms.Current() != nil {
		t.Error("stuck realm was not discarded")
	}

	// The next run gets a fresh realm.
	if _, err := f.ev.Evaluate(context.Background(), Request{Source: "1\n"}); err != nil {
		t.Fatalf("run after cancel: %v", err)
	}
	if got := f.realms.Stats().Constructions; got != 2 {
		t.Errorf("constructions = %d; want 2", got)
	}
}

func TestRecordError(t *testing.T) {
	cases := []struct {
		name, message, want string
	}{
		{"Error", "boom", "Error: boom"},
		{"", "plain", "plain"},
		{"Error", "TypeError: x", "TypeError: x"},
	}
	for _, tc := range cases {
		r := newRecord(KindRuntime, tc.name, tc.message, nil)
		if got := r.Error(); got != tc.want {
			t.Errorf("Record(%q, %q).Error() = %q; want %q", tc.name, tc.message, got, tc.want)
		}
	}
}

func equalStates(a, b []runstate.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
