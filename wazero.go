package gojs

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	internal "github.com/wasmbridge/wazero-gojs/internal"
)

// HostModuleName is the import module name the guest resolves its host
// functions from.
const HostModuleName = "go"

// FunctionExporter configures the functions in the "go" module imported by
// guests built for the wasm runtime bridge.
type FunctionExporter interface {
	// ExportFunctions builds the host functions with a
	// wazero.HostModuleBuilder named "go".
	ExportFunctions(wazero.HostModuleBuilder)
}

// NewFunctionExporter returns a FunctionExporter for the given compiled
// guest, or an error when the guest does not export the entry points the
// bridge drives.
func NewFunctionExporter(guest wazero.CompiledModule) (FunctionExporter, error) {
	for _, name := range []string{"run", "resume", "getsp"} {
		if _, ok := guest.ExportedFunctions()[name]; !ok {
			return nil, unexportedFunctionError{name: name}
		}
	}
	return functionExporter{}, nil
}

type unexportedFunctionError struct {
	name string
}

func (e unexportedFunctionError) Error() string {
	return fmt.Sprintf("the guest does not export the %q function; it must be compiled for the js/wasm ABI", e.name)
}

type functionExporter struct{}

// ExportFunctions implements FunctionExporter.ExportFunctions
func (e functionExporter) ExportFunctions(b wazero.HostModuleBuilder) {
	spParams := []api.ValueType{api.ValueTypeI32}

	export := func(name string, fn api.GoModuleFunction) {
		b.NewFunctionBuilder().
			WithName(name).
			WithParameterNames("sp").
			WithGoModuleFunction(fn, spParams, []api.ValueType{}).
			Export(name)
	}

	export("runtime.wasmExit", internal.WasmExit)
	export("runtime.wasmWrite", internal.WasmWrite)
	export("runtime.resetMemoryDataView", internal.ResetMemoryDataView)
	export("runtime.nanotime1", internal.Nanotime1)
	export("runtime.walltime", internal.Walltime)
	export("runtime.scheduleTimeoutEvent", internal.ScheduleTimeoutEvent)
	export("runtime.clearTimeoutEvent", internal.ClearTimeoutEvent)
	export("runtime.getRandomData", internal.GetRandomData)

	export("syscall/js.finalizeRef", internal.FinalizeRef)
	export("syscall/js.stringVal", internal.StringVal)
	export("syscall/js.valueGet", internal.ValueGet)
	export("syscall/js.valueSet", internal.ValueSet)
	export("syscall/js.valueDelete", internal.ValueDelete)
	export("syscall/js.valueIndex", internal.ValueIndex)
	export("syscall/js.valueSetIndex", internal.ValueSetIndex)
	export("syscall/js.valueCall", internal.ValueCall)
	export("syscall/js.valueInvoke", internal.ValueInvoke)
	export("syscall/js.valueNew", internal.ValueNew)
	export("syscall/js.valueLength", internal.ValueLength)
	export("syscall/js.valuePrepareString", internal.ValuePrepareString)
	export("syscall/js.valueLoadString", internal.ValueLoadString)
	export("syscall/js.valueInstanceOf", internal.ValueInstanceOf)
	export("syscall/js.copyBytesToGo", internal.CopyBytesToGo)
	export("syscall/js.copyBytesToJS", internal.CopyBytesToJS)

	b.NewFunctionBuilder().
		WithName("debug").
		WithParameterNames("value").
		WithGoModuleFunction(internal.Debug, spParams, []api.ValueType{}).
		Export("debug")
}

// wazeroGuest adapts an instantiated wazero module to the engine's guest
// surface.
type wazeroGuest struct {
	mod    api.Module
	run    api.Function
	resume api.Function
	getsp  api.Function
}

func newWazeroGuest(mod api.Module) (*wazeroGuest, error) {
	g := &wazeroGuest{
		mod:    mod,
		run:    mod.ExportedFunction("run"),
		resume: mod.ExportedFunction("resume"),
		getsp:  mod.ExportedFunction("getsp"),
	}
	if g.run == nil || g.resume == nil || g.getsp == nil {
		return nil, fmt.Errorf("gojs: instantiated guest is missing its entry points")
	}
	return g, nil
}

func (g *wazeroGuest) Run(ctx context.Context, argc, argv uint32) error {
	_, err := g.run.Call(ctx, uint64(argc), uint64(argv))
	return err
}

func (g *wazeroGuest) Resume(ctx context.Context) error {
	_, err := g.resume.Call(ctx)
	return err
}

func (g *wazeroGuest) SP(ctx context.Context) (uint32, error) {
	results, err := g.getsp.Call(ctx)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("gojs: getsp returned %d results", len(results))
	}
	return uint32(results[0]), nil
}

func (g *wazeroGuest) Memory() internal.Memory {
	return g.mod.Memory()
}
