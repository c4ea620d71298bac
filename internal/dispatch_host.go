package gojs

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Host functions for the guest's value dispatch layer. References travel as
// boxed 8-byte slots, property names as pointer/length string headers.
//
// Call, invoke and construct isolate host-side failures: the error is boxed
// as the result and an ok flag distinguishes success from failure, so a bad
// dispatch surfaces in the guest instead of tearing down the bridge. The
// plain accessors have no failure channel and treat errors as fatal.

var FinalizeRef = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	// The table is append-only with no reference counting: ids stay bound
	// until exit, so releasing one is a no-op.
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	id := e.view().uint32(sp + 8)
	e.log.Debug("finalizeRef ignored", zap.Uint32("id", id))
})

var StringVal = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	s := e.loadString(sp + 8)
	e.storeValue(sp+24, s)
})

var ValueGet = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	key := e.loadString(sp + 16)
	result, err := e.reflectGet(target, key)
	if err != nil {
		panic(err)
	}
	sp = e.refreshSP(ctx)
	e.storeValue(sp+32, result)
})

var ValueSet = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	key := e.loadString(sp + 16)
	value := e.loadValue(sp + 32)
	if err := e.reflectSet(target, key, value); err != nil {
		panic(err)
	}
})

var ValueDelete = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	key := e.loadString(sp + 16)
	if err := e.reflectDelete(target, key); err != nil {
		panic(err)
	}
})

var ValueIndex = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	i := e.view().int64(sp + 16)
	result, err := e.reflectIndex(target, int(i))
	if err != nil {
		panic(err)
	}
	sp = e.refreshSP(ctx)
	e.storeValue(sp+24, result)
})

var ValueSetIndex = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	i := e.view().int64(sp + 16)
	value := e.loadValue(sp + 24)
	if err := e.reflectSetIndex(target, int(i), value); err != nil {
		panic(err)
	}
})

var ValueCall = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	name := e.loadString(sp + 16)
	v := e.view()
	args := e.loadValueSlice(uint32(v.int64(sp+32)), uint32(v.int64(sp+40)))
	result, err := e.reflectMethod(ctx, target, name, args)
	e.storeResult(ctx, 56, result, err)
})

var ValueInvoke = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	v := e.view()
	args := e.loadValueSlice(uint32(v.int64(sp+16)), uint32(v.int64(sp+24)))
	result, err := e.reflectApply(ctx, target, Undefined, args)
	e.storeResult(ctx, 40, result, err)
})

var ValueNew = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	v := e.view()
	args := e.loadValueSlice(uint32(v.int64(sp+16)), uint32(v.int64(sp+24)))
	result, err := e.reflectConstruct(ctx, target, args)
	e.storeResult(ctx, 40, result, err)
})

// storeResult writes the boxed outcome of an isolated dispatch at the given
// offset from the refreshed stack pointer, followed by the ok flag. When the
// dispatch made the guest exit there is no frame to write into.
func (e *Engine) storeResult(ctx context.Context, offset uint32, result any, err error) {
	if e.Exited() {
		return
	}
	sp := e.refreshSP(ctx)
	if err != nil {
		e.log.Debug("dispatch failed", zap.Error(err))
		e.storeValue(sp+offset, errorObject(err))
		e.view().setByte(sp+offset+8, 0)
		return
	}
	e.storeValue(sp+offset, result)
	e.view().setByte(sp+offset+8, 1)
}

var ValueLength = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	target := e.loadValue(sp + 8)
	n, err := e.reflectLength(target)
	if err != nil {
		panic(err)
	}
	e.view().setInt64(sp+16, int64(n))
})

var ValuePrepareString = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	s := valueString(e.loadValue(sp + 8))
	e.storeValue(sp+16, s)
	e.view().setInt64(sp+24, int64(len(s)))
})

var ValueLoadString = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	s, ok := e.loadValue(sp + 8).(string)
	if !ok {
		panic(fmt.Errorf("gojs: loadString on non-string reference"))
	}
	v := e.view()
	ptr := uint32(v.int64(sp + 16))
	n := uint32(v.int64(sp + 24))
	if n > uint32(len(s)) {
		n = uint32(len(s))
	}
	v.setBytes(ptr, []byte(s)[:n])
})

var ValueInstanceOf = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	value := e.loadValue(sp + 8)
	ctor := e.loadValue(sp + 16)
	r := byte(0)
	if e.instanceOf(value, ctor) {
		r = 1
	}
	e.view().setByte(sp+24, r)
})

var CopyBytesToGo = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	v := e.view()
	ptr := uint32(v.int64(sp + 8))
	dstLen := uint32(v.int64(sp + 16))
	src, ok := e.loadValue(sp + 32).(*Uint8Array)
	if !ok {
		v.setByte(sp+48, 0)
		return
	}
	n := copyLen(int(dstLen), len(src.Data))
	dst := v.bytes(ptr, dstLen)
	copy(dst[:n], src.Data[:n])
	v.setBytes(ptr, dst)
	v.setInt64(sp+40, int64(n))
	v.setByte(sp+48, 1)
})

var CopyBytesToJS = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := engineFromContext(ctx)
	sp := uint32(stack[0])
	dst, ok := e.loadValue(sp + 8).(*Uint8Array)
	v := e.view()
	if !ok {
		v.setByte(sp+48, 0)
		return
	}
	ptr := uint32(v.int64(sp + 16))
	srcLen := uint32(v.int64(sp + 24))
	src := v.bytes(ptr, srcLen)
	n := copyLen(len(dst.Data), int(srcLen))
	copy(dst.Data[:n], src[:n])
	v.setInt64(sp+40, int64(n))
	v.setByte(sp+48, 1)
})

func copyLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}
