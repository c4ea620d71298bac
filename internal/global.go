package gojs

import (
	"context"
	"fmt"
	"io"
)

// buildGlobal assembles the object graph behind reserved id 5: the
// constructors, the file system shim and the process shim the guest's
// runtime looks up during startup.
func (e *Engine) buildGlobal() *Object {
	e.objectCtor = &Func{
		Name: "Object",
		Construct: func(ctx context.Context, args []any) (any, error) {
			return NewObject(), nil
		},
	}
	e.arrayCtor = &Func{
		Name: "Array",
		Construct: func(ctx context.Context, args []any) (any, error) {
			return &Array{}, nil
		},
	}
	e.uint8ArrayCtor = &Func{
		Name: "Uint8Array",
		Construct: func(ctx context.Context, args []any) (any, error) {
			if len(args) == 0 {
				return &Uint8Array{}, nil
			}
			n, err := numberArg(args, 0)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("gojs: negative byte array length %v", n)
			}
			return &Uint8Array{Data: make([]byte, int(n))}, nil
		},
	}

	g := NewObject()
	g.Set("Object", e.objectCtor)
	g.Set("Array", e.arrayCtor)
	g.Set("Uint8Array", e.uint8ArrayCtor)
	g.Set("fs", e.buildFS())
	g.Set("process", buildProcess())
	return g
}

// buildFS exposes the minimal file system surface: synchronous and
// asynchronous writes routed to the configured stdout and stderr, everything
// else reporting ENOSYS through the usual error-first callback.
func (e *Engine) buildFS() *Object {
	fs := NewObject()

	constants := NewObject()
	for _, name := range []string{"O_WRONLY", "O_RDWR", "O_CREAT", "O_TRUNC", "O_APPEND", "O_EXCL"} {
		constants.Set(name, float64(-1))
	}
	fs.Set("constants", constants)

	fs.Set("writeSync", &Func{
		Name: "writeSync",
		Call: func(ctx context.Context, this any, args []any) (any, error) {
			fd, err := numberArg(args, 0)
			if err != nil {
				return nil, err
			}
			buf, err := bytesArg(args, 1)
			if err != nil {
				return nil, err
			}
			n, err := e.writeFD(int(fd), buf.Data)
			if err != nil {
				return nil, err
			}
			return float64(n), nil
		},
	})

	fs.Set("write", &Func{
		Name: "write",
		Call: func(ctx context.Context, this any, args []any) (any, error) {
			if len(args) != 6 {
				return nil, fmt.Errorf("gojs: fs.write expects 6 arguments, got %d", len(args))
			}
			callback := args[5]
			fd, err := numberArg(args, 0)
			if err != nil {
				return nil, err
			}
			buf, err := bytesArg(args, 1)
			if err != nil {
				return nil, err
			}
			offset, err := numberArg(args, 2)
			if err != nil {
				return nil, err
			}
			length, err := numberArg(args, 3)
			if err != nil {
				return nil, err
			}
			n := 0
			werr := error(nil)
			if args[4] != nil {
				werr = enosys("fs.write with position")
			} else if offset < 0 || length < 0 || int(offset+length) > len(buf.Data) {
				werr = fmt.Errorf("gojs: fs.write range [%v, %v) out of bounds", offset, offset+length)
			} else {
				n, werr = e.writeFD(int(fd), buf.Data[int(offset):int(offset+length)])
			}
			if werr != nil {
				return e.reflectApply(ctx, callback, Undefined, []any{errorObject(werr)})
			}
			return e.reflectApply(ctx, callback, Undefined, []any{nil, float64(n)})
		},
	})

	for _, name := range []string{"chmod", "chown", "close", "fchmod", "fchown", "fstat", "fsync", "ftruncate", "lchown", "link", "lstat", "mkdir", "open", "read", "readdir", "readlink", "rename", "rmdir", "stat", "symlink", "truncate", "unlink", "utimes"} {
		fs.Set(name, enosysAsync(e, "fs."+name))
	}
	return fs
}

// enosysAsync builds a stub that reports ENOSYS through its trailing
// error-first callback.
func enosysAsync(e *Engine, name string) *Func {
	return &Func{
		Name: name,
		Call: func(ctx context.Context, this any, args []any) (any, error) {
			if len(args) == 0 {
				return nil, enosys(name)
			}
			callback := args[len(args)-1]
			return e.reflectApply(ctx, callback, Undefined, []any{errorObject(enosys(name))})
		},
	}
}

func buildProcess() *Object {
	p := NewObject()
	p.Set("pid", float64(-1))
	p.Set("ppid", float64(-1))
	for _, name := range []string{"getuid", "getgid", "geteuid", "getegid"} {
		p.Set(name, &Func{
			Name: name,
			Call: func(ctx context.Context, this any, args []any) (any, error) {
				return float64(-1), nil
			},
		})
	}
	for _, name := range []string{"cwd", "chdir", "umask"} {
		name := name
		p.Set(name, &Func{
			Name: name,
			Call: func(ctx context.Context, this any, args []any) (any, error) {
				return nil, enosys("process." + name)
			},
		})
	}
	p.Set("groups", &Func{
		Name: "groups",
		Call: func(ctx context.Context, this any, args []any) (any, error) {
			return nil, enosys("process.groups")
		},
	})
	return p
}

// writeFD routes guest file descriptor writes: 1 to stdout, 2 to stderr.
func (e *Engine) writeFD(fd int, p []byte) (int, error) {
	var w io.Writer
	switch fd {
	case 1:
		w = e.cfg.Stdout
	case 2:
		w = e.cfg.Stderr
	default:
		return 0, badFileDescriptor(fd)
	}
	return w.Write(p)
}
