package gojs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// wakeSlot is the single-slot suspension primitive behind the run loop. The
// loop waits on it between guest invocations; timer callbacks signal it. The
// slot is unbuffered so wakeups are consumed strictly one at a time, in the
// order the timers resolved.
type wakeSlot struct {
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

func newWakeSlot() *wakeSlot {
	return &wakeSlot{
		ch:   make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Signal resolves the pending suspension. After Close it reports
// ErrCallbackAfterExit instead of silently dropping the wakeup.
func (w *wakeSlot) Signal() error {
	select {
	case w.ch <- struct{}{}:
		return nil
	case <-w.done:
		return ErrCallbackAfterExit
	}
}

// Wait blocks until a wakeup arrives, the slot closes or the context ends.
func (w *wakeSlot) Wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *wakeSlot) Close() {
	w.once.Do(func() {
		close(w.done)
	})
}

// scheduleTimeout arms a one-shot timer and returns its id. When the timer
// elapses it removes itself and wakes the run loop.
func (e *Engine) scheduleTimeout(delay time.Duration) uint32 {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	id := e.nextTimerID
	e.nextTimerID++
	e.timers[id] = time.AfterFunc(delay, func() {
		e.fireTimeout(id)
	})
	return id
}

func (e *Engine) fireTimeout(id uint32) {
	e.timerMu.Lock()
	delete(e.timers, id)
	e.timerMu.Unlock()
	if err := e.wake.Signal(); err != nil {
		e.log.Error("timer resolved after module exit",
			zap.Uint32("timer_id", id),
			zap.Error(err))
		panic(err)
	}
}

func (e *Engine) clearTimeout(id uint32) {
	e.timerMu.Lock()
	t, ok := e.timers[id]
	if ok {
		delete(e.timers, id)
	}
	e.timerMu.Unlock()
	if ok {
		t.Stop()
	}
}

// argsBase is where the argument block starts in guest memory, below the
// region the guest's own allocator hands out.
const argsBase = 4096

// writeArgs marshals argv and the environment into the scratch region: each
// string NUL-terminated and 8-byte aligned, followed by the pointer array the
// guest walks, with environment entries sorted by key after the argv NUL
// separator. Pointers are stored at 8-byte stride with a zeroed upper word.
func (e *Engine) writeArgs(args []string, env map[string]string) (argc, argv uint32) {
	v := e.view()
	offset := uint32(argsBase)
	writeString := func(s string) uint32 {
		ptr := offset
		b := append([]byte(s), 0)
		v.setBytes(offset, b)
		offset += uint32(len(b))
		if pad := offset % 8; pad != 0 {
			offset += 8 - pad
		}
		return ptr
	}

	ptrs := make([]uint32, 0, len(args)+len(env)+2)
	for _, a := range args {
		ptrs = append(ptrs, writeString(a))
	}
	ptrs = append(ptrs, 0)

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ptrs = append(ptrs, writeString(k+"="+env[k]))
	}
	ptrs = append(ptrs, 0)

	argv = offset
	for _, p := range ptrs {
		v.setUint32(offset, p)
		v.setUint32(offset+4, 0)
		offset += 8
	}
	return uint32(len(args)), argv
}

// Run drives the guest to completion: one run invocation with the marshalled
// arguments, then one resume per wakeup, never concurrently, until the guest
// exits or the context is cancelled.
func (e *Engine) Run(ctx context.Context, args []string, env map[string]string) error {
	if e.guest == nil {
		return ErrNotLoaded
	}
	if !e.state.CompareAndSwap(StateReady, StateRunning) {
		switch e.state.Load() {
		case StateRunning:
			return ErrAlreadyRunning
		case StateExited:
			return ErrExited
		case StateInterrupted:
			return ErrInterrupted
		default:
			return ErrNotLoaded
		}
	}
	ctx = e.Attach(ctx)
	argc, argv := e.writeArgs(args, env)
	e.log.Debug("starting module", zap.Strings("args", args), zap.Int("env", len(env)))
	if err := e.guestErr(e.guest.Run(ctx, argc, argv)); err != nil {
		return e.interrupted(err)
	}
	for !e.Exited() {
		if err := e.wake.Wait(ctx); err != nil {
			return e.interrupted(err)
		}
		if e.Exited() {
			break
		}
		if err := e.guestErr(e.guest.Resume(ctx)); err != nil {
			return e.interrupted(err)
		}
	}
	return nil
}

// interrupted parks the engine when a Run aborts with the guest still
// suspended: the program already started, so a fresh Run cannot replay it.
// Use Reset on the bridge to get a runnable instance again.
func (e *Engine) interrupted(err error) error {
	e.state.CompareAndSwap(StateRunning, StateInterrupted)
	return err
}

// guestErr folds a wasm-level exit trap into the normal exit path so a guest
// that terminates by closing its module still reports a clean code.
func (e *Engine) guestErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		e.exit(int(exitErr.ExitCode()))
		return nil
	}
	return err
}
