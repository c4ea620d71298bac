package gojs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Run states. The engine moves strictly forward: created, bound, running,
// then exited, or interrupted when a Run aborts with the guest suspended.
const (
	StateUnbound int32 = iota
	StateReady
	StateRunning
	StateExited
	StateInterrupted
)

// Guest is the narrow surface the engine needs from an instantiated module:
// its three re-entrant entry points and its linear memory.
type Guest interface {
	// Run starts the guest program with the marshalled argument block.
	Run(ctx context.Context, argc, argv uint32) error
	// Resume re-enters the guest event loop after a host-side wakeup.
	Resume(ctx context.Context) error
	// SP reads the guest's current stack pointer.
	SP(ctx context.Context) (uint32, error)
	Memory() Memory
}

// Engine owns all host state for one guest instance: the value table, the
// host object graph, the timer set and the run loop. An Engine drives exactly
// one guest and is not reusable after exit.
type Engine struct {
	cfg Config
	log *zap.Logger

	guest Guest
	state atomic.Int32

	values *valueTable
	global *Object
	membuf *MemoryObject
	bridge *bridgeValue

	objectCtor     *Func
	arrayCtor      *Func
	uint8ArrayCtor *Func

	pendingEvent *event

	timerMu     sync.Mutex
	timers      map[uint32]*time.Timer
	nextTimerID uint32

	wake *wakeSlot

	exitMu   sync.Mutex
	exitFn   func(code int)
	exitCode int
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		cfg:    cfg.withDefaults(),
		timers: make(map[uint32]*time.Timer),
		wake:   newWakeSlot(),
	}
	e.log = e.cfg.Logger
	e.global = e.buildGlobal()
	e.membuf = &MemoryObject{e: e}
	e.bridge = newBridgeValue(e)
	e.values = newValueTable(e.global, e.membuf, e.bridge)
	return e
}

// Bind attaches the instantiated guest. Must happen before Run and before
// any host function fires.
func (e *Engine) Bind(g Guest) {
	e.guest = g
	e.state.CompareAndSwap(StateUnbound, StateReady)
}

// Global returns the host global object so embedders can publish additional
// values to the guest before it runs.
func (e *Engine) Global() *Object {
	return e.global
}

// OnExit registers the callback invoked once with the guest's exit code.
func (e *Engine) OnExit(fn func(code int)) {
	e.exitMu.Lock()
	e.exitFn = fn
	e.exitMu.Unlock()
}

func (e *Engine) State() int32 {
	return e.state.Load()
}

func (e *Engine) Exited() bool {
	return e.state.Load() == StateExited
}

// ExitCode returns the code passed to the guest's exit call. Only meaningful
// once Exited reports true.
func (e *Engine) ExitCode() int {
	e.exitMu.Lock()
	defer e.exitMu.Unlock()
	return e.exitCode
}

// exit is the single termination path: it flips the state, cancels every
// outstanding timer, releases the value table and fires the exit callback.
func (e *Engine) exit(code int) {
	if e.state.Swap(StateExited) == StateExited {
		return
	}
	e.timerMu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.timerMu.Unlock()
	e.pendingEvent = nil
	e.values.release()
	e.wake.Close()

	e.exitMu.Lock()
	e.exitCode = code
	fn := e.exitFn
	e.exitMu.Unlock()
	e.log.Debug("module exited", zap.Int("code", code))
	if fn != nil {
		fn(code)
	}
}

// view returns fresh typed accessors over the guest memory. Acquire one per
// host call; a re-entrant operation can grow and replace the buffer.
func (e *Engine) view() view {
	return view{mem: e.guest.Memory()}
}

func (e *Engine) storeValue(addr uint32, v any) {
	e.view().setUint64(addr, e.values.encode(v))
}

func (e *Engine) loadValue(addr uint32) any {
	return e.values.decode(e.view().uint64(addr))
}

// loadValueSlice decodes the guest's boxed-array argument form: a pointer to
// n consecutive 8-byte slots.
func (e *Engine) loadValueSlice(addr, n uint32) []any {
	out := make([]any, n)
	for i := uint32(0); i < n; i++ {
		out[i] = e.loadValue(addr + i*8)
	}
	return out
}

// loadString reads the guest string header at addr: a data pointer and a
// byte length, each stored as a 64-bit integer.
func (e *Engine) loadString(addr uint32) string {
	v := e.view()
	ptr := uint32(v.int64(addr))
	n := uint32(v.int64(addr + 8))
	return v.stringAt(ptr, n)
}

// refreshSP re-reads the guest stack pointer. Required after any host
// operation that re-entered the guest, since the frame may have moved.
func (e *Engine) refreshSP(ctx context.Context) uint32 {
	sp, err := e.guest.SP(ctx)
	if err != nil {
		panic(fmt.Errorf("gojs: could not read guest stack pointer: %w", err))
	}
	return sp
}

type engineKey struct{}

// Attach stores the engine on the context so host functions invoked by the
// wasm runtime can find their way back.
func (e *Engine) Attach(ctx context.Context) context.Context {
	return context.WithValue(ctx, engineKey{}, e)
}

func engineFromContext(ctx context.Context) *Engine {
	e, ok := ctx.Value(engineKey{}).(*Engine)
	if !ok {
		panic(fmt.Errorf("gojs: no engine attached to context"))
	}
	return e
}
