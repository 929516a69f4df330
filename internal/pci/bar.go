package pci

import "fmt"

// BarType tags the address space a BAR decodes.
type BarType int

const (
	BarNone BarType = iota
	BarMem32
	BarIO
)

const numBARs = 6

// Bar records one allocated Base Address Region. Addr is assigned by the
// device model's allocator at init; devices treat it as opaque.
type Bar struct {
	Type BarType
	Size uint64
	Addr uint64

	// Passthrough marks a region mapped directly into guest memory; no
	// software read/write path exists for it.
	Passthrough bool
}

// Allocator hands out non-overlapping address ranges for BAR windows,
// naturally aligned to the (power-of-two) request size.
type Allocator struct {
	base  uint64
	limit uint64
	next  uint64
}

func NewAllocator(base, size uint64) *Allocator {
	return &Allocator{
		base:  base,
		limit: base + size,
		next:  base,
	}
}

func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("pci: BAR size must be non-zero")
	}
	align := size
	addr := (a.next + align - 1) &^ (align - 1)
	end := addr + size
	if end < addr || end > a.limit {
		return 0, fmt.Errorf("pci: address space exhausted (0x%x bytes at 0x%x)", size, a.next)
	}
	a.next = end
	return addr, nil
}

// AllocBar reserves an address range for the given BAR index, records it in
// the device's BAR table and encodes the base into the BAR config register.
func (d *Device) AllocBar(ctx *Context, index int, typ BarType, size uint64) error {
	if index < 0 || index >= numBARs {
		return fmt.Errorf("pci: BAR index %d out of range", index)
	}
	if d.bars[index].Type != BarNone {
		return fmt.Errorf("pci: BAR %d already allocated", index)
	}

	size = roundUpPow2(size)

	var (
		addr uint64
		err  error
	)
	switch typ {
	case BarMem32:
		addr, err = ctx.MemAlloc.Allocate(size)
	case BarIO:
		addr, err = ctx.IOAlloc.Allocate(size)
	default:
		return fmt.Errorf("pci: unsupported BAR type %d", typ)
	}
	if err != nil {
		return err
	}

	d.bars[index] = Bar{
		Type: typ,
		Size: size,
		Addr: addr,
	}

	encoded := uint32(addr)
	if typ == BarIO {
		encoded |= 1
	}
	d.conf.Set32(cfgBARBase+index*4, encoded)
	return nil
}

// Bar returns the BAR table entry for index.
func (d *Device) Bar(index int) Bar {
	if index < 0 || index >= numBARs {
		return Bar{}
	}
	return d.bars[index]
}

// SetPassthrough marks a BAR as direct guest memory so no MMIO region is
// registered for it.
func (d *Device) SetPassthrough(index int) {
	if index >= 0 && index < numBARs {
		d.bars[index].Passthrough = true
	}
}

func roundUpPow2(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	r := uint64(1)
	for r < v {
		r <<= 1
	}
	return r
}
