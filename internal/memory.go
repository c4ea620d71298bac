package gojs

import "fmt"

// Memory is the read/write surface the engine needs from the guest's linear
// memory. It is the mutating subset of wazero's api.Memory, kept separate so
// tests can substitute a plain byte slice.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	ReadByte(offset uint32) (byte, bool)
	ReadUint32Le(offset uint32) (uint32, bool)
	ReadUint64Le(offset uint32) (uint64, bool)
	ReadFloat64Le(offset uint32) (float64, bool)
	Write(offset uint32, v []byte) bool
	WriteByte(offset uint32, v byte) bool
	WriteUint32Le(offset uint32, v uint32) bool
	WriteUint64Le(offset uint32, v uint64) bool
	WriteFloat64Le(offset uint32, v float64) bool
}

// MemoryFault reports a guest-supplied offset that falls outside the linear
// memory. Offsets come from the guest's own stack frames, so a fault means
// the two sides disagree about the ABI and the call cannot continue.
type MemoryFault struct {
	Op     string
	Offset uint32
	Count  uint32
	Size   uint32
}

func (f *MemoryFault) Error() string {
	return fmt.Sprintf("gojs: memory %s of %d byte(s) at offset %d out of range (memory size %d)", f.Op, f.Count, f.Offset, f.Size)
}

// view wraps a Memory with accessors that panic with *MemoryFault instead of
// returning ok flags. A view is cheap and must be re-acquired after any call
// back into the guest, since growth can replace the underlying buffer.
type view struct {
	mem Memory
}

func (v view) fault(op string, offset, count uint32) {
	panic(&MemoryFault{Op: op, Offset: offset, Count: count, Size: v.mem.Size()})
}

func (v view) byteAt(offset uint32) byte {
	b, ok := v.mem.ReadByte(offset)
	if !ok {
		v.fault("read", offset, 1)
	}
	return b
}

func (v view) setByte(offset uint32, b byte) {
	if !v.mem.WriteByte(offset, b) {
		v.fault("write", offset, 1)
	}
}

func (v view) uint32(offset uint32) uint32 {
	n, ok := v.mem.ReadUint32Le(offset)
	if !ok {
		v.fault("read", offset, 4)
	}
	return n
}

func (v view) setUint32(offset uint32, n uint32) {
	if !v.mem.WriteUint32Le(offset, n) {
		v.fault("write", offset, 4)
	}
}

// int64 assembles a 64-bit integer from its two 32-bit halves, low word
// first, matching how the guest stores long values.
func (v view) int64(offset uint32) int64 {
	low := v.uint32(offset)
	high := v.uint32(offset + 4)
	return int64(high)<<32 | int64(low)
}

func (v view) setInt64(offset uint32, n int64) {
	v.setUint32(offset, uint32(n))
	v.setUint32(offset+4, uint32(n>>32))
}

func (v view) uint64(offset uint32) uint64 {
	n, ok := v.mem.ReadUint64Le(offset)
	if !ok {
		v.fault("read", offset, 8)
	}
	return n
}

func (v view) setUint64(offset uint32, n uint64) {
	if !v.mem.WriteUint64Le(offset, n) {
		v.fault("write", offset, 8)
	}
}

func (v view) float64(offset uint32) float64 {
	f, ok := v.mem.ReadFloat64Le(offset)
	if !ok {
		v.fault("read", offset, 8)
	}
	return f
}

func (v view) setFloat64(offset uint32, f float64) {
	if !v.mem.WriteFloat64Le(offset, f) {
		v.fault("write", offset, 8)
	}
}

func (v view) bytes(offset, byteCount uint32) []byte {
	b, ok := v.mem.Read(offset, byteCount)
	if !ok {
		v.fault("read", offset, byteCount)
	}
	return b
}

func (v view) setBytes(offset uint32, b []byte) {
	if !v.mem.Write(offset, b) {
		v.fault("write", offset, uint32(len(b)))
	}
}

func (v view) stringAt(offset, byteCount uint32) string {
	return string(v.bytes(offset, byteCount))
}
