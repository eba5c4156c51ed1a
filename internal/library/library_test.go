package library

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFetcher serves bodies by URL and counts calls.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
	total  atomic.Int64
	gate   chan struct{} // when non-nil, every fetch waits for it
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[url]++
	body, ok := f.bodies[url]
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, &StatusError{Code: http.StatusNotFound}
	}
	return []byte(body), nil
}

const effectorURL = "https://cdn.test/effector@22.0.0/effector.cjs.js"

func testLoader(f Fetcher) Loader {
	return NewLoader(Config{Fetcher: f, CDN: "https://cdn.test", Canary: "https://canary.test"})
}

func TestLoadIsIdempotentUnderConcurrency(t *testing.T) {
	f := newFakeFetcher(map[string]string{effectorURL: "exports.version = '22.0.0'\n"})
	f.gate = make(chan struct{})
	l := testLoader(f)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Bundle, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.Load(context.Background(), Effector, "22.0.0")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("Load #%d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("Load #%d returned a different bundle", i)
		}
	}
	again, err := l.Load(context.Background(), Effector, "22.0.0")
	if err != nil || again != results[0] {
		t.Errorf("cached Load = %p, %v; want %p", again, err, results[0])
	}
	if got := f.total.Load(); got != 1 {
		t.Errorf("fetches = %d; want 1", got)
	}
	if l.Fetches() != 1 {
		t.Errorf("Fetches() = %d; want 1", l.Fetches())
	}
	if results[0].FileName != "effector.22.0.0.js" || results[0].Program == nil {
		t.Errorf("bundle = %+v", results[0])
	}
}

func TestLoadCachesFailures(t *testing.T) {
	f := newFakeFetcher(nil)
	l := testLoader(f)

	_, err1 := l.Load(context.Background(), Effector, "0.0.1")
	_, err2 := l.Load(context.Background(), Effector, "0.0.1")
	if err1 == nil || err1 != err2 {
		t.Fatalf("errors = %v, %v; want the same cached error", err1, err2)
	}
	if !errors.Is(err1, ErrFetch) {
		t.Errorf("errors.Is(err, ErrFetch) = false for %v", err1)
	}
	var fe *FetchError
	if !errors.As(err1, &fe) || fe.Status != http.StatusNotFound {
		t.Errorf("FetchError = %+v", fe)
	}
	if f.total.Load() != 1 {
		t.Errorf("fetches = %d; want 1", f.total.Load())
	}
}

func TestLoadBootstrapFailure(t *testing.T) {
	f := newFakeFetcher(map[string]string{effectorURL: "exports.x = ;"})
	_, err := testLoader(f).Load(context.Background(), Effector, "22.0.0")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("syntax error in bundle = %v; want ErrFetch", err)
	}
}

func TestLoadStripsSourceMappingComment(t *testing.T) {
	f := newFakeFetcher(map[string]string{effectorURL: "exports.a = 1\n//# sourceMappingURL=effector.cjs.js.map\n"})
	b, err := testLoader(f).Load(context.Background(), Effector, "22.0.0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Source != "exports.a = 1\n\n" {
		t.Errorf("Source = %q", b.Source)
	}
}

func TestLoadCallerCancellationIsNotCached(t *testing.T) {
	f := newFakeFetcher(map[string]string{effectorURL: "exports.a = 1"})
	f.gate = make(chan struct{})
	l := testLoader(f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, Effector, "22.0.0")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Load = %v", err)
	}

	close(f.gate)
	b, err := l.Load(context.Background(), Effector, "22.0.0")
	if err != nil || b == nil {
		t.Fatalf("Load after cancellation = %v, %v", b, err)
	}
	if f.total.Load() != 1 {
		t.Errorf("fetches = %d; want 1", f.total.Load())
	}
}

func TestLoadAllKeepsOrder(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"https://canary.test/effector/effector.cjs.js": "exports.a = 1",
		"https://canary.test/forest/forest.cjs.js":     "exports.b = 2",
	})
	l := testLoader(f)
	bundles, err := l.LoadAll(context.Background(), []string{Forest, Effector}, Master)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if bundles[0].Name != Forest || bundles[1].Name != Effector {
		t.Errorf("order = %s, %s", bundles[0].Name, bundles[1].Name)
	}

	if _, err := l.LoadAll(context.Background(), []string{Effector, Patronum}, Master); !errors.Is(err, ErrFetch) {
		t.Errorf("LoadAll with a missing bundle = %v", err)
	}
}

func TestSpecURL(t *testing.T) {
	specs := DefaultSpecs()
	byName := map[string]Spec{}
	for _, s := range specs {
		byName[s.Name] = s
	}
	cases := []struct {
		name, version, want string
	}{
		{Effector, "22.8.6", "https://cdn.test/effector@22.8.6/effector.cjs.js"},
		{Effector, Master, "https://canary.test/effector/effector.cjs.js"},
		{EffectorReact, "22.8.6", "https://canary.test/effector-react/effector-react.cjs.js"},
		{SyncShim, Master, "https://cdn.test/use-sync-external-store/cjs/use-sync-external-store-shim.production.min.js"},
		{Patronum, Master, "https://cdn.test/patronum/patronum.cjs"},
		{EffectorReactSSR, Master, "https://canary.test/effector-react/scope.js"},
	}
	for _, tc := range cases {
		t.Run(tc.name+"@"+tc.version, func(t *testing.T) {
			if got := byName[tc.name].URL(tc.version, "https://cdn.test/", "https://canary.test"); got != tc.want {
				t.Errorf("URL = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	release, err := Plan(DefaultSpecs(), "22.8.6")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, name := range release {
		if name == Forest || name == Patronum || name == EffectorReactSSR {
			t.Errorf("master-only library %q planned for a release", name)
		}
	}

	master, err := Plan(DefaultSpecs(), Master)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(master) != len(DefaultSpecs()) {
		t.Errorf("master plan = %v", master)
	}
	pos := map[string]int{}
	for i, name := range master {
		pos[name] = i
	}
	for _, s := range DefaultSpecs() {
		for _, dep := range s.Requires {
			if pos[dep] > pos[s.Name] {
				t.Errorf("%s planned before its requirement %s", s.Name, dep)
			}
		}
	}

	if _, err := Plan([]Spec{{Name: "a", Requires: []string{"b"}}, {Name: "b", Requires: []string{"a"}}}, Master); err == nil {
		t.Error("cycle not detected")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.js" {
			_, _ = w.Write([]byte("exports.ok = true"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	body, err := f.Fetch(context.Background(), srv.URL+"/ok.js")
	if err != nil || string(body) != "exports.ok = true" {
		t.Errorf("Fetch ok = %q, %v", body, err)
	}
	_, err = f.Fetch(context.Background(), srv.URL+"/missing.js")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("Fetch missing = %v", err)
	}
}
