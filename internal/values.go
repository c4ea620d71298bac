package gojs

import (
	"fmt"
	"math"
)

// Boxed value layout: numbers travel as raw IEEE 754 bits, everything else as
// a quiet NaN whose upper word carries nanHead plus a two-bit type flag and
// whose lower word is a value table id.
const (
	nanHead = 0x7FF80000

	typeFlagNone     = 0
	typeFlagString   = 1
	typeFlagSymbol   = 2
	typeFlagFunction = 3
)

// Table ids 0 through 7 are fixed at engine creation and never rebound.
const (
	idNaN = uint32(iota)
	idUndefined
	idNull
	idTrue
	idFalse
	idGlobal
	idMemory
	idBridge
	reservedIDs
)

type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

// Undefined is the host-side stand-in for the guest's absent value. The nil
// interface represents null, so absence needs a distinct sentinel.
var Undefined = undefinedType{}

// InvalidReference reports a guest-supplied reference id with no table
// binding. Since the engine never evicts entries, an unknown id means the
// guest fabricated or corrupted a reference.
type InvalidReference struct {
	ID uint32
}

func (e *InvalidReference) Error() string {
	return fmt.Sprintf("gojs: no value bound to reference id %d", e.ID)
}

// valueTable interns host values so the guest can name them by dense ids.
// Entries are append-only: an id stays bound to its value until the guest
// exits and the whole table is released at once.
type valueTable struct {
	values []any
	ids    map[any]uint32
}

func newValueTable(global *Object, mem *MemoryObject, bridge *bridgeValue) *valueTable {
	t := &valueTable{
		values: []any{math.NaN(), Undefined, nil, true, false, global, mem, bridge},
		ids:    make(map[any]uint32),
	}
	t.ids[global] = idGlobal
	t.ids[mem] = idMemory
	t.ids[bridge] = idBridge
	return t
}

func (t *valueTable) get(id uint32) any {
	if int(id) >= len(t.values) {
		panic(&InvalidReference{ID: id})
	}
	return t.values[id]
}

// intern returns the id bound to v, creating a new binding the first time a
// value is seen. Strings intern by content, everything else by identity.
func (t *valueTable) intern(v any) uint32 {
	if id, ok := t.ids[v]; ok {
		return id
	}
	id := uint32(len(t.values))
	t.values = append(t.values, v)
	t.ids[v] = id
	return id
}

func (t *valueTable) size() int {
	return len(t.values)
}

// release drops every binding. Loads after release panic with
// *InvalidReference, which is the desired failure mode for use after exit.
func (t *valueTable) release() {
	t.values = nil
	t.ids = nil
}

func boxRef(flag, id uint32) uint64 {
	return uint64(nanHead|flag)<<32 | uint64(id)
}

// encode boxes v into its 8-byte wire form.
func (t *valueTable) encode(v any) uint64 {
	switch x := v.(type) {
	case nil:
		return boxRef(typeFlagNone, idNull)
	case undefinedType:
		return boxRef(typeFlagNone, idUndefined)
	case bool:
		if x {
			return boxRef(typeFlagNone, idTrue)
		}
		return boxRef(typeFlagNone, idFalse)
	case float64:
		if math.IsNaN(x) {
			// Canonical NaN, so the guest never misreads a NaN payload
			// as a reference.
			return uint64(nanHead) << 32
		}
		return math.Float64bits(x)
	case int:
		return t.encode(float64(x))
	case int32:
		return t.encode(float64(x))
	case int64:
		return t.encode(float64(x))
	case uint32:
		return t.encode(float64(x))
	case uint64:
		return t.encode(float64(x))
	case string:
		return boxRef(typeFlagString, t.intern(x))
	case *Func:
		return boxRef(typeFlagFunction, t.intern(x))
	case *funcWrapper:
		return boxRef(typeFlagFunction, t.intern(x))
	default:
		return boxRef(typeFlagNone, t.intern(v))
	}
}

// decode maps an 8-byte slot back to the host value it encodes. Non-NaN bit
// patterns are numbers; NaN patterns carrying nanHead resolve through the
// table, any other NaN payload decodes as a plain NaN number.
func (t *valueTable) decode(b uint64) any {
	f := math.Float64frombits(b)
	if !math.IsNaN(f) {
		return f
	}
	if uint32(b>>32)&^uint32(3) != nanHead {
		return f
	}
	return t.get(uint32(b))
}
