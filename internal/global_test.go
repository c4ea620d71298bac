package gojs

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tetratelabs/wazero/sys"
)

var _ = Describe("Host object graph", func() {
	var (
		e      *Engine
		g      *fakeGuest
		ctx    context.Context
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	)

	BeforeEach(func() {
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
		e, g = newTestEngine(Config{Stdout: stdout, Stderr: stderr})
		ctx = e.Attach(context.Background())
	})

	// capture returns a callback Func and a pointer to the arguments it was
	// last invoked with.
	capture := func() (*Func, *[]any) {
		var got []any
		return &Func{
			Name: "callback",
			Call: func(ctx context.Context, this any, args []any) (any, error) {
				got = args
				return nil, nil
			},
		}, &got
	}

	Describe("fs", func() {
		var fs *Object

		BeforeEach(func() {
			fs = e.global.Get("fs").(*Object)
		})

		It("publishes sentinel open flags", func() {
			constants := fs.Get("constants").(*Object)
			Expect(constants.Get("O_WRONLY")).To(Equal(-1.0))
			Expect(constants.Get("O_CREAT")).To(Equal(-1.0))
		})

		It("writes synchronously to stdout", func() {
			n, err := e.reflectMethod(ctx, fs, "writeSync", []any{1.0, &Uint8Array{Data: []byte("hello")}})
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(5.0))
			Expect(stdout.String()).To(Equal("hello"))
		})

		It("writes asynchronously through the error-first callback", func() {
			cb, got := capture()
			_, err := e.reflectMethod(ctx, fs, "write", []any{
				2.0, &Uint8Array{Data: []byte("__oops__")}, 2.0, 4.0, nil, cb,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(stderr.String()).To(Equal("oops"))
			Expect(*got).To(Equal([]any{nil, 4.0}))
		})

		It("reports unknown file descriptors to the callback", func() {
			cb, got := capture()
			_, err := e.reflectMethod(ctx, fs, "write", []any{
				9.0, &Uint8Array{Data: []byte("x")}, 0.0, 1.0, nil, cb,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(*got).To(HaveLen(1))
			errObj := (*got)[0].(*Object)
			Expect(errObj.Get("code")).To(Equal("EBADF"))
		})

		It("reports positioned writes as unsupported", func() {
			cb, got := capture()
			_, err := e.reflectMethod(ctx, fs, "write", []any{
				1.0, &Uint8Array{Data: []byte("x")}, 0.0, 1.0, 10.0, cb,
			})
			Expect(err).ToNot(HaveOccurred())
			errObj := (*got)[0].(*Object)
			Expect(errObj.Get("code")).To(Equal("ENOSYS"))
		})

		It("stubs the rest of the file system with ENOSYS", func() {
			cb, got := capture()
			_, err := e.reflectMethod(ctx, fs, "open", []any{"/etc/passwd", 0.0, 0.0, cb})
			Expect(err).ToNot(HaveOccurred())
			errObj := (*got)[0].(*Object)
			Expect(errObj.Get("code")).To(Equal("ENOSYS"))
		})
	})

	Describe("process", func() {
		var process *Object

		BeforeEach(func() {
			process = e.global.Get("process").(*Object)
		})

		It("reports ids as -1", func() {
			Expect(process.Get("pid")).To(Equal(-1.0))
			uid, err := e.reflectMethod(ctx, process, "getuid", nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(uid).To(Equal(-1.0))
		})

		It("has no working directory", func() {
			_, err := e.reflectMethod(ctx, process, "cwd", nil)
			Expect(err).To(HaveOccurred())
			Expect(errorObject(err).Get("code")).To(Equal("ENOSYS"))
		})
	})

	Describe("constructors", func() {
		It("builds empty objects and arrays", func() {
			o, err := e.reflectConstruct(ctx, e.global.Get("Object"), nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(o).To(BeAssignableToTypeOf(&Object{}))

			a, err := e.reflectConstruct(ctx, e.global.Get("Array"), nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(a).To(BeAssignableToTypeOf(&Array{}))
		})

		It("rejects negative byte array lengths", func() {
			_, err := e.reflectConstruct(ctx, e.global.Get("Uint8Array"), []any{-1.0})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("function wrappers", func() {
		It("delivers events to the guest and returns the result", func() {
			wrapper, err := e.reflectMethod(ctx, e.bridge, "_makeFuncWrapper", []any{7.0})
			Expect(err).ToNot(HaveOccurred())

			g.resumeFn = func(ctx context.Context) error {
				ev, err := e.reflectGet(e.bridge, "_pendingEvent")
				Expect(err).ToNot(HaveOccurred())
				pending := ev.(*event)
				Expect(e.reflectGet(pending, "id")).To(Equal(7.0))
				Expect(pending.args.Elems).To(Equal([]any{"x", 2.0}))
				Expect(e.reflectSet(pending, "result", "done")).To(Succeed())
				Expect(e.reflectSet(e.bridge, "_pendingEvent", nil)).To(Succeed())
				return nil
			}

			result, err := e.reflectApply(ctx, wrapper, Undefined, []any{"x", 2.0})
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal("done"))
			Expect(g.resumes).To(Equal(1))
			Expect(e.pendingEvent).To(BeNil())
		})

		It("treats a module-close trap during the callback as a clean exit", func() {
			wrapper, err := e.reflectMethod(ctx, e.bridge, "_makeFuncWrapper", []any{9.0})
			Expect(err).ToNot(HaveOccurred())

			g.resumeFn = func(ctx context.Context) error {
				return sys.NewExitError(4)
			}

			result, err := e.reflectApply(ctx, wrapper, Undefined, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal(Undefined))
			Expect(e.Exited()).To(BeTrue())
			Expect(e.ExitCode()).To(Equal(4))
		})
	})

	Describe("indexing", func() {
		It("reads and writes array elements", func() {
			a := &Array{Elems: []any{1.0, 2.0}}
			Expect(e.reflectSetIndex(a, 1, "two")).To(Succeed())
			Expect(e.reflectIndex(a, 1)).To(Equal("two"))
			Expect(e.reflectIndex(a, 5)).To(Equal(Undefined))
			Expect(e.reflectSetIndex(a, 5, "nope")).ToNot(Succeed())
		})

		It("reads and writes byte array elements as numbers", func() {
			b := &Uint8Array{Data: []byte{0, 0}}
			Expect(e.reflectSetIndex(b, 0, 255.0)).To(Succeed())
			Expect(e.reflectIndex(b, 0)).To(Equal(255.0))
		})
	})

	Describe("deletion", func() {
		It("removes object properties", func() {
			o := NewObject()
			o.Set("k", 1.0)
			Expect(e.reflectDelete(o, "k")).To(Succeed())
			Expect(o.Get("k")).To(Equal(Undefined))
		})
	})

	Describe("lengths", func() {
		It("measures arrays, byte arrays and strings", func() {
			Expect(e.reflectLength(&Array{Elems: make([]any, 3)})).To(Equal(3))
			Expect(e.reflectLength(&Uint8Array{Data: make([]byte, 4)})).To(Equal(4))
			Expect(e.reflectLength("abcde")).To(Equal(5))
		})
	})
})
