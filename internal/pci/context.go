package pci

import (
	"github.com/xinyunliu/acrn-hypervisor/internal/console"
	"github.com/xinyunliu/acrn-hypervisor/internal/hv"
)

// Address windows the BAR allocators carve regions from.
const (
	mem32Base = 0x8000_0000
	mem32Size = 0x4000_0000

	ioBase = 0x2000
	ioSize = 0xe000
)

// Context is the device-model state handed to device inits: guest memory,
// BAR address allocators and the display collaborators. Fields for external
// subsystems may be nil when the corresponding collaborator is absent.
type Context struct {
	Memory   hv.GuestMemory
	MemAlloc *Allocator
	IOAlloc  *Allocator

	// Console is created by the framebuffer device at init and consumed
	// by the display refresh path afterwards.
	Console *console.Console

	// Display serves the console image to remote clients.
	Display console.DisplayServer

	// NewVGA constructs the legacy VGA renderer; ioOnly selects I/O-port
	// emulation without rendering.
	NewVGA func(ioOnly bool) console.VGARenderer
}

// NewContext builds a context with default BAR address windows over the
// supplied guest memory.
func NewContext(mem hv.GuestMemory) *Context {
	return &Context{
		Memory:   mem,
		MemAlloc: NewAllocator(mem32Base, mem32Size),
		IOAlloc:  NewAllocator(ioBase, ioSize),
	}
}
