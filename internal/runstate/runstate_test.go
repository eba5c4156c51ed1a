package runstate

import (
	"sync"
	"testing"
)

func TestStoreLastWriteWins(t *testing.T) {
	s := NewStore()
	if s.Get() != Idle {
		t.Fatalf("initial state = %v", s.Get())
	}

	var got []State
	unsubscribe := s.Subscribe(func(st State) { got = append(got, st) })
	s.Set(Running)
	s.Set(Running)
	s.Set(Done)
	unsubscribe()
	s.Set(Failed)

	want := []State{Running, Running, Done}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %v; want %v", i, got[i], want[i])
		}
	}
	if s.Get() != Failed {
		t.Errorf("state = %v; want failed", s.Get())
	}
}

func TestStoreConcurrentSet(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var last State
	s.Subscribe(func(st State) {
		mu.Lock()
		last = st
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set(State(i % 4))
		}()
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if last != s.Get() {
		t.Errorf("last notification %v differs from state %v", last, s.Get())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Idle: "idle", Running: "running", Done: "done", Failed: "failed", State(9): "unknown"}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("%d.String() = %q; want %q", st, st.String(), want)
		}
	}
	if !Done.Terminal() || !Failed.Terminal() || Running.Terminal() {
		t.Error("Terminal mismatch")
	}
}
