package gojs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Object is a mutable property bag, the host analogue of a plain guest
// object. Missing properties read as Undefined.
type Object struct {
	props map[string]any
}

func NewObject() *Object {
	return &Object{props: make(map[string]any)}
}

func (o *Object) Get(key string) any {
	v, ok := o.props[key]
	if !ok {
		return Undefined
	}
	return v
}

func (o *Object) Set(key string, v any) {
	o.props[key] = v
}

func (o *Object) Delete(key string) {
	delete(o.props, key)
}

func (o *Object) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

// Array is a fixed-shape host array. Out-of-range reads yield Undefined,
// out-of-range writes fail.
type Array struct {
	Elems []any
}

// Uint8Array is a host byte buffer the guest can index, measure and use as a
// copy endpoint.
type Uint8Array struct {
	Data []byte
}

// Func is a callable host value. A Func with Construct set can also be used
// with the guest's new operator.
type Func struct {
	Name      string
	Call      func(ctx context.Context, this any, args []any) (any, error)
	Construct func(ctx context.Context, args []any) (any, error)
}

// funcWrapper is the handle minted for a guest function id: invoking it
// queues a dispatch event and re-enters the guest to drain it.
type funcWrapper struct {
	e  *Engine
	id uint32
}

func (w *funcWrapper) invoke(ctx context.Context, this any, args []any) (any, error) {
	ev := &event{id: w.id, this: w.e.bridge, args: &Array{Elems: args}}
	prev := w.e.pendingEvent
	w.e.pendingEvent = ev
	// A module-close trap during the callback is a clean exit, the same as
	// the run loop treats it.
	if err := w.e.guestErr(w.e.guest.Resume(ctx)); err != nil {
		return nil, err
	}
	if w.e.Exited() {
		return Undefined, nil
	}
	w.e.pendingEvent = prev
	return ev.result, nil
}

// event carries one pending guest callback invocation: which function id to
// run, with what receiver and arguments, and where the guest leaves the
// result.
type event struct {
	id     uint32
	this   any
	args   *Array
	result any
}

// bridgeValue is reserved id 7, the object the guest uses to exchange
// callback events with the host.
type bridgeValue struct {
	e *Engine

	makeFuncWrapper *Func
}

func newBridgeValue(e *Engine) *bridgeValue {
	b := &bridgeValue{e: e}
	b.makeFuncWrapper = &Func{
		Name: "_makeFuncWrapper",
		Call: func(ctx context.Context, this any, args []any) (any, error) {
			id, err := numberArg(args, 0)
			if err != nil {
				return nil, err
			}
			return &funcWrapper{e: e, id: uint32(id)}, nil
		},
	}
	return b
}

// MemoryObject is reserved id 6, the guest-visible handle for the linear
// memory buffer.
type MemoryObject struct {
	e *Engine
}

// jsError surfaces to the guest as an object carrying message and code
// properties, the shape its syscall layer inspects.
type jsError struct {
	message string
	code    string
}

func (e *jsError) Error() string { return e.message }

func enosys(op string) error {
	return &jsError{message: op + " not implemented", code: "ENOSYS"}
}

func badFileDescriptor(fd int) error {
	return &jsError{message: fmt.Sprintf("bad file descriptor %d", fd), code: "EBADF"}
}

// errorObject converts a host error into the guest-facing error shape.
func errorObject(err error) *Object {
	o := NewObject()
	o.Set("message", err.Error())
	var je *jsError
	if errors.As(err, &je) && je.code != "" {
		o.Set("code", je.code)
	}
	return o
}

func numberArg(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("gojs: missing argument %d", i)
	}
	f, ok := args[i].(float64)
	if !ok {
		return 0, fmt.Errorf("gojs: argument %d is %T, expected number", i, args[i])
	}
	return f, nil
}

func bytesArg(args []any, i int) (*Uint8Array, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("gojs: missing argument %d", i)
	}
	b, ok := args[i].(*Uint8Array)
	if !ok {
		return nil, fmt.Errorf("gojs: argument %d is %T, expected byte array", i, args[i])
	}
	return b, nil
}

// reflectGet resolves a named property on a host value.
func (e *Engine) reflectGet(target any, key string) (any, error) {
	switch t := target.(type) {
	case *Object:
		return t.Get(key), nil
	case *bridgeValue:
		switch key {
		case "_pendingEvent":
			if e.pendingEvent == nil {
				return nil, nil
			}
			return e.pendingEvent, nil
		case "_makeFuncWrapper":
			return t.makeFuncWrapper, nil
		}
	case *event:
		switch key {
		case "id":
			return float64(t.id), nil
		case "this":
			return t.this, nil
		case "args":
			return t.args, nil
		case "result":
			return t.result, nil
		}
	case *Array:
		if key == "length" {
			return float64(len(t.Elems)), nil
		}
	case *Uint8Array:
		if key == "length" {
			return float64(len(t.Data)), nil
		}
	case *MemoryObject:
		if key == "byteLength" {
			return float64(e.view().mem.Size()), nil
		}
	case *Func:
		if key == "name" {
			return t.Name, nil
		}
	}
	return nil, fmt.Errorf("gojs: no property %q on %T", key, target)
}

func (e *Engine) reflectSet(target any, key string, value any) error {
	switch t := target.(type) {
	case *Object:
		t.Set(key, value)
		return nil
	case *bridgeValue:
		if key == "_pendingEvent" && value == nil {
			e.pendingEvent = nil
			return nil
		}
	case *event:
		if key == "result" {
			t.result = value
			return nil
		}
	}
	return fmt.Errorf("gojs: cannot set property %q on %T", key, target)
}

func (e *Engine) reflectDelete(target any, key string) error {
	if o, ok := target.(*Object); ok {
		o.Delete(key)
		return nil
	}
	return fmt.Errorf("gojs: cannot delete property %q on %T", key, target)
}

func (e *Engine) reflectIndex(target any, i int) (any, error) {
	switch t := target.(type) {
	case *Array:
		if i < 0 || i >= len(t.Elems) {
			return Undefined, nil
		}
		return t.Elems[i], nil
	case *Uint8Array:
		if i < 0 || i >= len(t.Data) {
			return Undefined, nil
		}
		return float64(t.Data[i]), nil
	}
	return nil, fmt.Errorf("gojs: %T is not indexable", target)
}

func (e *Engine) reflectSetIndex(target any, i int, value any) error {
	switch t := target.(type) {
	case *Array:
		if i < 0 || i >= len(t.Elems) {
			return fmt.Errorf("gojs: index %d out of range for array of %d", i, len(t.Elems))
		}
		t.Elems[i] = value
		return nil
	case *Uint8Array:
		if i < 0 || i >= len(t.Data) {
			return fmt.Errorf("gojs: index %d out of range for byte array of %d", i, len(t.Data))
		}
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("gojs: cannot store %T in byte array", value)
		}
		t.Data[i] = byte(f)
		return nil
	}
	return fmt.Errorf("gojs: %T is not indexable", target)
}

// reflectApply invokes a callable host value with an explicit receiver.
func (e *Engine) reflectApply(ctx context.Context, target, this any, args []any) (any, error) {
	switch t := target.(type) {
	case *Func:
		if t.Call == nil {
			return nil, fmt.Errorf("gojs: %s is not callable", t.Name)
		}
		return t.Call(ctx, this, args)
	case *funcWrapper:
		return t.invoke(ctx, this, args)
	}
	return nil, fmt.Errorf("gojs: %T is not callable", target)
}

// reflectMethod resolves a named property and invokes it with the parent as
// receiver. Both the lookup and the call are part of the isolated operation.
func (e *Engine) reflectMethod(ctx context.Context, target any, name string, args []any) (any, error) {
	m, err := e.reflectGet(target, name)
	if err != nil {
		return nil, err
	}
	return e.reflectApply(ctx, m, target, args)
}

func (e *Engine) reflectConstruct(ctx context.Context, target any, args []any) (any, error) {
	if f, ok := target.(*Func); ok && f.Construct != nil {
		return f.Construct(ctx, args)
	}
	return nil, fmt.Errorf("gojs: %T is not a constructor", target)
}

func (e *Engine) reflectLength(target any) (int, error) {
	switch t := target.(type) {
	case *Array:
		return len(t.Elems), nil
	case *Uint8Array:
		return len(t.Data), nil
	case string:
		return len(t), nil
	}
	return 0, fmt.Errorf("gojs: %T has no length", target)
}

// instanceOf reports whether v was produced by the given constructor. Only
// the constructors published on the global object participate.
func (e *Engine) instanceOf(v, ctor any) bool {
	f, ok := ctor.(*Func)
	if !ok {
		return false
	}
	switch f {
	case e.objectCtor:
		_, ok := v.(*Object)
		return ok
	case e.arrayCtor:
		_, ok := v.(*Array)
		return ok
	case e.uint8ArrayCtor:
		_, ok := v.(*Uint8Array)
		return ok
	}
	return false
}

// valueString renders a host value the way the guest's string conversion
// would, for prepareString and debug output.
func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case undefinedType:
		return "undefined"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	case *Func:
		return "function " + t.Name
	case *Array:
		return fmt.Sprintf("[array of %d]", len(t.Elems))
	case *Uint8Array:
		return fmt.Sprintf("[%d bytes]", len(t.Data))
	default:
		return fmt.Sprintf("[object %T]", v)
	}
}
