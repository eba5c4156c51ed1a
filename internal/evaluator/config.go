package evaluator

import (
	"fmt"

	"codeberg.org/sigterm-de/goplay/internal/compiler"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/realm"
	"codeberg.org/sigterm-de/goplay/internal/runstate"
	"codeberg.org/sigterm-de/goplay/internal/stackframe"
)

// StuckFlag persists whether a run is in progress, so that a session
// started after a hang can guard the stored source.
type StuckFlag interface {
	SetStuck(stuck bool) error
}

// Callbacks are the outbound notifications of a run. Nil fields are skipped.
// They are called from the goroutine running Evaluate.
type Callbacks struct {
	// OnError receives the failure record of a run, or nil when a run
	// succeeded.
	OnError func(rec *Record)

	// OnCompiledCodeReady receives the compiled script of a successful run.
	OnCompiledCodeReady func(code string)

	// OnVersionFallback is told which version a run fell back to after the
	// selected one failed to load.
	OnVersionFallback func(version string)
}

// Config configures an Evaluator.
type Config struct {
	// Loader resolves library bundles. Required.
	Loader library.Loader

	// Realms provides the realm runs execute in. Required.
	Realms *realm.Manager

	// Compiler compiles user source. Defaults to compiler.New(nil).
	Compiler compiler.Compiler

	// Symbolicator maps runtime stacks to the original source. Defaults to
	// stackframe.NewSymbolicator().
	Symbolicator stackframe.Symbolicator

	// State receives the run state transitions. Defaults to a fresh store.
	State *runstate.Store

	// Recorder is told about every call through a wrapped framework
	// creator. Optional.
	Recorder realm.ActivityRecorder

	// Stuck persists the in-progress flag. Optional.
	Stuck StuckFlag

	Callbacks Callbacks
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if c.Loader == nil {
		return fmt.Errorf("%w: Loader is required", ErrConfiguration)
	}
	if c.Realms == nil {
		return fmt.Errorf("%w: Realms is required", ErrConfiguration)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Compiler == nil {
		c.Compiler = compiler.New(nil)
	}
	if c.Symbolicator == nil {
		c.Symbolicator = stackframe.NewSymbolicator()
	}
	if c.State == nil {
		c.State = runstate.NewStore()
	}
	if c.Recorder == nil {
		c.Recorder = realm.DiscardActivity
	}
}
