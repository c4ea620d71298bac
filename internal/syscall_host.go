package gojs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Host functions for the guest's runtime package: process control, stdio,
// clocks, timers and entropy. Each receives the guest stack pointer as its
// only wasm argument; operands start at sp+8 and results are written after
// them at fixed offsets.

var WasmExit = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	code := int32(e.view().uint32(sp + 8))
	e.exit(int(code))
})

var WasmWrite = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	v := e.view()
	fd := v.int64(sp + 8)
	ptr := uint32(v.int64(sp + 16))
	n := v.uint32(sp + 24)
	if _, err := e.writeFD(int(fd), v.bytes(ptr, n)); err != nil {
		panic(fmt.Errorf("gojs: runtime write to fd %d failed: %w", fd, err))
	}
})

var ResetMemoryDataView = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	// Views over guest memory are re-acquired on every host call, so a
	// buffer replacement needs no bookkeeping here.
	e := engineFromContext(ctx)
	e.log.Debug("guest memory grown", zap.Uint32("size", e.view().mem.Size()))
})

var Nanotime1 = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	e.view().setInt64(sp+8, e.cfg.Clock.NanoTime())
})

var Walltime = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	sec, nsec := e.cfg.Clock.WallTime()
	v := e.view()
	v.setInt64(sp+8, sec)
	v.setUint32(sp+16, uint32(nsec))
})

var ScheduleTimeoutEvent = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	v := e.view()
	delay := time.Duration(v.int64(sp+8)) * time.Millisecond
	id := e.scheduleTimeout(delay)
	v.setUint32(sp+16, id)
})

var ClearTimeoutEvent = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	e.clearTimeout(e.view().uint32(sp + 8))
})

var GetRandomData = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	v := e.view()
	ptr := uint32(v.int64(sp + 8))
	n := uint32(v.int64(sp + 16))
	buf := make([]byte, n)
	if _, err := io.ReadFull(e.cfg.Rand, buf); err != nil {
		panic(fmt.Errorf("gojs: random source failed: %w", err))
	}
	v.setBytes(ptr, buf)
})

var Debug = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	e.log.Debug("guest debug", zap.Uint64("value", stack[0]))
})
