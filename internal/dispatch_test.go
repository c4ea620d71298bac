package gojs

import (
	"bytes"
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fixedClock struct {
	nano int64
	sec  int64
	nsec int32
}

func (c fixedClock) NanoTime() int64 {
	return c.nano
}

func (c fixedClock) WallTime() (int64, int32) {
	return c.sec, c.nsec
}

// The host functions receive the guest stack pointer as their only argument,
// so they can be driven directly against a scripted guest. The scratch
// addresses below sit between the argument block and the parked stack
// pointer.
var _ = Describe("Host functions", func() {
	const (
		strAddr = uint32(8192)
		argAddr = uint32(12288)
	)

	var (
		e      *Engine
		g      *fakeGuest
		ctx    context.Context
		sp     uint32
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	)

	v := func() view {
		return e.view()
	}

	// putName writes a property name and its pointer/length header at the
	// conventional sp+16/sp+24 operand slots.
	putName := func(name string) {
		v().setBytes(strAddr, []byte(name))
		v().setInt64(sp+16, int64(strAddr))
		v().setInt64(sp+24, int64(len(name)))
	}

	// putArgs boxes values into a guest-side argument array.
	putArgs := func(addrSlot, lenSlot uint32, args ...any) {
		for i, a := range args {
			v().setUint64(argAddr+uint32(i)*8, e.values.encode(a))
		}
		v().setInt64(addrSlot, int64(argAddr))
		v().setInt64(lenSlot, int64(len(args)))
	}

	BeforeEach(func() {
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
		e, g = newTestEngine(Config{
			Stdout: stdout,
			Stderr: stderr,
			Rand:   bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
			Clock:  fixedClock{nano: 123456789, sec: 1700000000, nsec: 500},
		})
		ctx = e.Attach(context.Background())
		sp = g.sp
	})

	Describe("runtime.wasmExit", func() {
		It("terminates with the guest's code", func() {
			v().setUint32(sp+8, 7)
			WasmExit(ctx, nil, []uint64{uint64(sp)})
			Expect(e.Exited()).To(BeTrue())
			Expect(e.ExitCode()).To(Equal(7))
		})
	})

	Describe("runtime.wasmWrite", func() {
		It("routes fd 2 to stderr", func() {
			v().setBytes(strAddr, []byte("oops\n"))
			v().setInt64(sp+8, 2)
			v().setInt64(sp+16, int64(strAddr))
			v().setUint32(sp+24, 5)
			WasmWrite(ctx, nil, []uint64{uint64(sp)})
			Expect(stderr.String()).To(Equal("oops\n"))
			Expect(stdout.Len()).To(BeZero())
		})
	})

	Describe("runtime clocks", func() {
		It("writes the monotonic reading", func() {
			Nanotime1(ctx, nil, []uint64{uint64(sp)})
			Expect(v().int64(sp + 8)).To(Equal(int64(123456789)))
		})

		It("splits the wall clock into seconds and nanoseconds", func() {
			Walltime(ctx, nil, []uint64{uint64(sp)})
			Expect(v().int64(sp + 8)).To(Equal(int64(1700000000)))
			Expect(v().uint32(sp + 16)).To(Equal(uint32(500)))
		})
	})

	Describe("runtime timers", func() {
		It("hands out sequential ids and honours cancellation", func() {
			v().setInt64(sp+8, 1000)
			ScheduleTimeoutEvent(ctx, nil, []uint64{uint64(sp)})
			Expect(v().uint32(sp + 16)).To(Equal(uint32(0)))

			ScheduleTimeoutEvent(ctx, nil, []uint64{uint64(sp)})
			Expect(v().uint32(sp + 16)).To(Equal(uint32(1)))

			v().setUint32(sp+8, 0)
			ClearTimeoutEvent(ctx, nil, []uint64{uint64(sp)})
			e.timerMu.Lock()
			defer e.timerMu.Unlock()
			Expect(e.timers).To(HaveLen(1))
			Expect(e.timers).To(HaveKey(uint32(1)))
		})
	})

	Describe("runtime.getRandomData", func() {
		It("fills the requested region from the configured source", func() {
			v().setInt64(sp+8, int64(strAddr))
			v().setInt64(sp+16, 8)
			GetRandomData(ctx, nil, []uint64{uint64(sp)})
			Expect(v().bytes(strAddr, 8)).To(Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
		})
	})

	Describe("syscall/js.stringVal", func() {
		It("interns the guest string", func() {
			v().setBytes(strAddr, []byte("hello"))
			v().setInt64(sp+8, int64(strAddr))
			v().setInt64(sp+16, 5)
			StringVal(ctx, nil, []uint64{uint64(sp)})
			Expect(e.loadValue(sp + 24)).To(Equal("hello"))
		})
	})

	Describe("syscall/js.valueGet", func() {
		It("resolves properties on the global object", func() {
			e.storeValue(sp+8, e.global)
			putName("fs")
			ValueGet(ctx, nil, []uint64{uint64(sp)})
			Expect(e.loadValue(sp + 32)).To(BeIdenticalTo(e.global.Get("fs")))
		})

		It("reads undefined for missing properties", func() {
			e.storeValue(sp+8, e.global)
			putName("missing")
			ValueGet(ctx, nil, []uint64{uint64(sp)})
			Expect(e.loadValue(sp + 32)).To(Equal(Undefined))
		})
	})

	Describe("syscall/js.valueSet", func() {
		It("stores properties on objects", func() {
			obj := NewObject()
			e.storeValue(sp+8, obj)
			putName("x")
			e.storeValue(sp+32, 7.5)
			ValueSet(ctx, nil, []uint64{uint64(sp)})
			Expect(obj.Get("x")).To(Equal(7.5))
		})
	})

	Describe("syscall/js.valueCall", func() {
		It("reports success through the ok flag", func() {
			e.global.Set("answer", &Func{
				Name: "answer",
				Call: func(ctx context.Context, this any, args []any) (any, error) {
					return 42.0, nil
				},
			})
			e.storeValue(sp+8, e.global)
			putName("answer")
			putArgs(sp+32, sp+40)
			ValueCall(ctx, nil, []uint64{uint64(sp)})
			Expect(e.loadValue(sp + 56)).To(Equal(42.0))
			Expect(v().byteAt(sp + 64)).To(Equal(byte(1)))
		})

		It("boxes failures instead of tearing down the bridge", func() {
			e.global.Set("boom", &Func{
				Name: "boom",
				Call: func(ctx context.Context, this any, args []any) (any, error) {
					return nil, fmt.Errorf("kaboom")
				},
			})
			e.global.Set("fine", &Func{
				Name: "fine",
				Call: func(ctx context.Context, this any, args []any) (any, error) {
					return "ok", nil
				},
			})

			e.storeValue(sp+8, e.global)
			putName("boom")
			putArgs(sp+32, sp+40)
			ValueCall(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 64)).To(Equal(byte(0)))
			errObj, ok := e.loadValue(sp + 56).(*Object)
			Expect(ok).To(BeTrue())
			Expect(errObj.Get("message")).To(Equal("kaboom"))

			// The failed dispatch leaves the bridge fully usable.
			putName("fine")
			putArgs(sp+32, sp+40)
			ValueCall(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 64)).To(Equal(byte(1)))
			Expect(e.loadValue(sp + 56)).To(Equal("ok"))
		})

		It("passes boxed arguments through", func() {
			var got []any
			e.global.Set("record", &Func{
				Name: "record",
				Call: func(ctx context.Context, this any, args []any) (any, error) {
					got = args
					return nil, nil
				},
			})
			e.storeValue(sp+8, e.global)
			putName("record")
			putArgs(sp+32, sp+40, 1.5, "two", true)
			ValueCall(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 64)).To(Equal(byte(1)))
			Expect(got).To(Equal([]any{1.5, "two", true}))
		})
	})

	Describe("syscall/js.valueNew", func() {
		It("constructs byte arrays", func() {
			e.storeValue(sp+8, e.global.Get("Uint8Array"))
			putArgs(sp+16, sp+24, 8.0)
			ValueNew(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 48)).To(Equal(byte(1)))
			arr, ok := e.loadValue(sp + 40).(*Uint8Array)
			Expect(ok).To(BeTrue())
			Expect(arr.Data).To(HaveLen(8))
		})
	})

	Describe("syscall/js.valueInstanceOf", func() {
		It("matches values against the published constructors", func() {
			e.storeValue(sp+8, &Uint8Array{Data: make([]byte, 2)})
			e.storeValue(sp+16, e.global.Get("Uint8Array"))
			ValueInstanceOf(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 24)).To(Equal(byte(1)))

			e.storeValue(sp+8, NewObject())
			ValueInstanceOf(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 24)).To(Equal(byte(0)))
		})
	})

	Describe("syscall/js string loading", func() {
		It("round-trips a string through prepare and load", func() {
			e.storeValue(sp+8, "héllo")
			ValuePrepareString(ctx, nil, []uint64{uint64(sp)})
			n := v().int64(sp + 24)
			Expect(n).To(Equal(int64(len("héllo"))))
			prepared := v().uint64(sp + 16)

			v().setUint64(sp+8, prepared)
			v().setInt64(sp+16, int64(strAddr))
			v().setInt64(sp+24, n)
			ValueLoadString(ctx, nil, []uint64{uint64(sp)})
			Expect(v().stringAt(strAddr, uint32(n))).To(Equal("héllo"))
		})
	})

	Describe("syscall/js byte copies", func() {
		It("copies host bytes into guest memory", func() {
			v().setInt64(sp+8, int64(strAddr))
			v().setInt64(sp+16, 4)
			e.storeValue(sp+32, &Uint8Array{Data: []byte("abcdef")})
			CopyBytesToGo(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 48)).To(Equal(byte(1)))
			Expect(v().int64(sp + 40)).To(Equal(int64(4)))
			Expect(v().bytes(strAddr, 4)).To(Equal([]byte("abcd")))
		})

		It("copies guest memory into host bytes", func() {
			dst := &Uint8Array{Data: make([]byte, 6)}
			e.storeValue(sp+8, dst)
			v().setBytes(strAddr, []byte("abcd"))
			v().setInt64(sp+16, int64(strAddr))
			v().setInt64(sp+24, 4)
			CopyBytesToJS(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 48)).To(Equal(byte(1)))
			Expect(v().int64(sp + 40)).To(Equal(int64(4)))
			Expect(dst.Data[:4]).To(Equal([]byte("abcd")))
		})

		It("rejects a non-byte-array source", func() {
			v().setInt64(sp+8, int64(strAddr))
			v().setInt64(sp+16, 4)
			e.storeValue(sp+32, NewObject())
			CopyBytesToGo(ctx, nil, []uint64{uint64(sp)})
			Expect(v().byteAt(sp + 48)).To(Equal(byte(0)))
		})
	})

	Describe("syscall/js.finalizeRef", func() {
		It("keeps the binding alive", func() {
			o := NewObject()
			boxed := e.values.encode(o)
			v().setUint32(sp+8, uint32(boxed))
			FinalizeRef(ctx, nil, []uint64{uint64(sp)})
			Expect(e.values.decode(boxed)).To(BeIdenticalTo(o))
		})
	})
})
