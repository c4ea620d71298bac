// Package gojs loads precompiled js/wasm guests under wazero and supplies
// the host surface their runtime imports: value dispatch, stdio, clocks,
// timers and the cooperative run loop.
package gojs

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tetratelabs/wazero"
	internal "github.com/wasmbridge/wazero-gojs/internal"
	"go.uber.org/zap"
)

// Sentinel errors returned by Run.
var (
	ErrNotLoaded         = internal.ErrNotLoaded
	ErrAlreadyRunning    = internal.ErrAlreadyRunning
	ErrExited            = internal.ErrExited
	ErrInterrupted       = internal.ErrInterrupted
	ErrCallbackAfterExit = internal.ErrCallbackAfterExit
)

// Clock supplies the guest's monotonic and wall time sources.
type Clock = internal.Clock

// Config describes one guest module and the host resources it runs against.
// Only Module is required.
type Config struct {
	// Module holds the compiled wasm binary of a js/wasm guest.
	Module []byte

	// Stdout and Stderr receive the guest's file descriptor 1 and 2
	// writes. They default to the process stdio.
	Stdout io.Writer
	Stderr io.Writer

	// Rand seeds the guest's entropy. Defaults to crypto/rand.
	Rand io.Reader

	// Clock drives the guest's time imports. Defaults to the system clock.
	Clock Clock

	// Env is the initial environment visible to the guest.
	Env map[string]string

	Logger *zap.Logger
}

// Bridge owns one guest module through its whole lifecycle: load,
// instantiate, run, exit. A Bridge is safe for concurrent use, but only one
// Run can be in flight and a Bridge does not survive its guest; use Reset to
// load a fresh instance.
type Bridge struct {
	mu          sync.Mutex
	cfg         Config
	env         map[string]string
	exitFn      func(code int)
	loadStarted bool
	loadErr     error
	loaded      chan struct{}
	runtime     wazero.Runtime
	engine      *internal.Engine
	log         *zap.Logger
}

func New(cfg Config) *Bridge {
	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		cfg:    cfg,
		env:    env,
		loaded: make(chan struct{}),
		log:    log,
	}
}

// Load compiles and instantiates the guest. It can run on its own goroutine;
// Run and WaitLoaded block until it completes. Loading twice without a Reset
// in between is an error.
func (b *Bridge) Load(ctx context.Context) error {
	b.mu.Lock()
	if b.loadStarted {
		b.mu.Unlock()
		return fmt.Errorf("gojs: module is already loaded; use Reset to reload")
	}
	b.loadStarted = true
	loaded := b.loaded
	b.mu.Unlock()

	rt, eng, err := b.instantiate(ctx)

	b.mu.Lock()
	b.runtime = rt
	b.engine = eng
	b.loadErr = err
	close(loaded)
	b.mu.Unlock()
	return err
}

func (b *Bridge) instantiate(ctx context.Context) (wazero.Runtime, *internal.Engine, error) {
	if len(b.cfg.Module) == 0 {
		return nil, nil, fmt.Errorf("gojs: no module bytes configured")
	}
	rt := wazero.NewRuntime(ctx)

	compiled, err := rt.CompileModule(ctx, b.cfg.Module)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, nil, fmt.Errorf("gojs: could not compile module: %w", err)
	}

	exporter, err := NewFunctionExporter(compiled)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, nil, err
	}

	eng := internal.NewEngine(internal.Config{
		Stdout: b.cfg.Stdout,
		Stderr: b.cfg.Stderr,
		Rand:   b.cfg.Rand,
		Clock:  b.cfg.Clock,
		Logger: b.log,
	})
	eng.OnExit(b.handleExit)
	ctx = eng.Attach(ctx)

	builder := rt.NewHostModuleBuilder(HostModuleName)
	exporter.ExportFunctions(builder)
	if _, err := builder.Instantiate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, nil, fmt.Errorf("gojs: could not instantiate host module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("guest").
		WithStartFunctions())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, nil, fmt.Errorf("gojs: could not instantiate module: %w", err)
	}

	guest, err := newWazeroGuest(mod)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, nil, err
	}
	eng.Bind(guest)
	b.log.Debug("module loaded", zap.Int("size", len(b.cfg.Module)))
	return rt, eng, nil
}

// WaitLoaded blocks until an in-flight Load completes and reports its
// outcome.
func (b *Bridge) WaitLoaded(ctx context.Context) error {
	b.mu.Lock()
	started := b.loadStarted
	loaded := b.loaded
	b.mu.Unlock()
	if !started {
		return ErrNotLoaded
	}
	select {
	case <-loaded:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadErr
}

// Loaded reports whether the guest is instantiated and ready to run.
func (b *Bridge) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.loaded:
		return b.loadErr == nil
	default:
		return false
	}
}

// Run starts the guest program and drives it until it exits. It waits for an
// in-flight Load first. The arguments become the guest's argv; when empty
// the conventional program name "js" is used. The environment snapshot is
// taken at call time.
func (b *Bridge) Run(ctx context.Context, args ...string) error {
	if err := b.WaitLoaded(ctx); err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"js"}
	}
	b.mu.Lock()
	eng := b.engine
	env := make(map[string]string, len(b.env))
	for k, v := range b.env {
		env[k] = v
	}
	b.mu.Unlock()
	return eng.Run(ctx, args, env)
}

// Reset discards the current instance and loads a fresh one, giving the
// guest a clean memory, value table and run state.
func (b *Bridge) Reset(ctx context.Context) error {
	b.mu.Lock()
	rt := b.runtime
	b.runtime = nil
	b.engine = nil
	b.loadErr = nil
	b.loadStarted = false
	b.loaded = make(chan struct{})
	b.mu.Unlock()
	if rt != nil {
		if err := rt.Close(ctx); err != nil {
			return fmt.Errorf("gojs: could not discard previous instance: %w", err)
		}
	}
	return b.Load(ctx)
}

// Close releases the wasm runtime and everything instantiated in it.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	rt := b.runtime
	b.runtime = nil
	b.engine = nil
	b.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Close(ctx)
}

// SetEnv sets one environment variable for subsequent Runs.
func (b *Bridge) SetEnv(key, value string) {
	b.mu.Lock()
	b.env[key] = value
	b.mu.Unlock()
}

// Env returns a copy of the environment the next Run would see.
func (b *Bridge) Env() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	env := make(map[string]string, len(b.env))
	for k, v := range b.env {
		env[k] = v
	}
	return env
}

// OnExit registers a callback invoked once with the guest's exit code.
func (b *Bridge) OnExit(fn func(code int)) {
	b.mu.Lock()
	b.exitFn = fn
	b.mu.Unlock()
}

// ExitCode returns the guest's exit code once it has exited.
func (b *Bridge) ExitCode() (int, bool) {
	b.mu.Lock()
	eng := b.engine
	b.mu.Unlock()
	if eng == nil || !eng.Exited() {
		return 0, false
	}
	return eng.ExitCode(), true
}

func (b *Bridge) handleExit(code int) {
	b.mu.Lock()
	fn := b.exitFn
	b.mu.Unlock()
	if fn != nil {
		fn(code)
	}
}
