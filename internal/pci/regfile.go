package pci

import "encoding/binary"

// RegisterFile is a fixed-size, byte-addressable, little-endian register
// block. Sub-word access at arbitrary byte offsets is supported for sizes
// 1/2/4/8; any access whose offset+size crosses the declared length is
// rejected without touching adjacent memory.
type RegisterFile struct {
	data []byte
}

// NewRegisterFile returns a zero-filled register file of the given size.
func NewRegisterFile(size int) *RegisterFile {
	return &RegisterFile{
		data: make([]byte, size),
	}
}

// Len returns the declared length in bytes.
func (r *RegisterFile) Len() int {
	return len(r.data)
}

// Read returns the value at offset for sizes 1/2/4/8. The second return is
// false for out-of-bounds offsets or unsupported sizes.
func (r *RegisterFile) Read(offset uint64, size int) (uint64, bool) {
	if !r.inBounds(offset, size) {
		return 0, false
	}
	p := r.data[offset:]
	switch size {
	case 1:
		return uint64(p[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(p)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(p)), true
	case 8:
		return binary.LittleEndian.Uint64(p), true
	default:
		return 0, false
	}
}

// Write stores value at offset for sizes 1/2/4/8 and reports whether the
// access was accepted.
func (r *RegisterFile) Write(offset uint64, size int, value uint64) bool {
	if !r.inBounds(offset, size) {
		return false
	}
	p := r.data[offset:]
	switch size {
	case 1:
		p[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(p, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(p, value)
	default:
		return false
	}
	return true
}

func (r *RegisterFile) inBounds(offset uint64, size int) bool {
	if size <= 0 {
		return false
	}
	return offset+uint64(size) <= uint64(len(r.data)) && offset+uint64(size) >= offset
}

// Typed accessors for fixed-offset fields. Offsets are trusted; callers use
// layout constants, not guest-supplied values.

func (r *RegisterFile) Uint8At(offset int) uint8 {
	return r.data[offset]
}

func (r *RegisterFile) SetUint8At(offset int, value uint8) {
	r.data[offset] = value
}

func (r *RegisterFile) Uint16At(offset int) uint16 {
	return binary.LittleEndian.Uint16(r.data[offset:])
}

func (r *RegisterFile) SetUint16At(offset int, value uint16) {
	binary.LittleEndian.PutUint16(r.data[offset:], value)
}

func (r *RegisterFile) Uint32At(offset int) uint32 {
	return binary.LittleEndian.Uint32(r.data[offset:])
}

func (r *RegisterFile) SetUint32At(offset int, value uint32) {
	binary.LittleEndian.PutUint32(r.data[offset:], value)
}

// Bytes exposes the raw backing storage.
func (r *RegisterFile) Bytes() []byte {
	return r.data
}
