// Package chipset dispatches guest MMIO and port I/O traps to the virtual
// device that owns the address. Handlers run synchronously on the trapping
// thread and must not block.
package chipset

import "fmt"

type mmioBinding struct {
	region  MMIORegion
	handler MMIOHandler
}

// Builder registers devices and their intercepts before creating a Chipset.
type Builder struct {
	devices map[string]Device
	pio     map[uint16]PortIOHandler
	mmio    []mmioBinding
}

// NewBuilder returns an empty Builder instance.
func NewBuilder() *Builder {
	return &Builder{
		devices: make(map[string]Device),
		pio:     make(map[uint16]PortIOHandler),
	}
}

// RegisterDevice adds a device and wires up its port and MMIO intercepts.
func (b *Builder) RegisterDevice(name string, dev Device) error {
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	if pio, ok := dev.(PortIODevice); ok {
		for _, port := range pio.IOPorts() {
			if err := b.WithPIOPort(port, pio); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	if mmio, ok := dev.(MMIODevice); ok {
		for _, region := range mmio.MMIORegions() {
			if err := b.WithMMIORegion(region.Address, region.Size, mmio); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	b.devices[name] = dev
	return nil
}

// WithPIOPort registers a single I/O port handler.
func (b *Builder) WithPIOPort(port uint16, handler PortIOHandler) error {
	if handler == nil {
		return fmt.Errorf("PIO handler for port 0x%x is nil", port)
	}
	if _, exists := b.pio[port]; exists {
		return fmt.Errorf("PIO port 0x%x already registered", port)
	}
	b.pio[port] = handler
	return nil
}

// WithMMIORegion registers a memory-mapped region handler.
func (b *Builder) WithMMIORegion(base, size uint64, handler MMIOHandler) error {
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"MMIO region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.Address+existing.region.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		region: MMIORegion{
			Address: base,
			Size:    size,
		},
		handler: handler,
	})
	return nil
}

// Build finalizes the dispatch tables and returns the constructed Chipset.
func (b *Builder) Build() (*Chipset, error) {
	if b == nil {
		return nil, fmt.Errorf("chipset builder is nil")
	}

	devices := make(map[string]Device, len(b.devices))
	for name, dev := range b.devices {
		devices[name] = dev
	}

	pio := make(map[uint16]PortIOHandler, len(b.pio))
	for port, handler := range b.pio {
		pio[port] = handler
	}

	mmio := make([]mmioBinding, len(b.mmio))
	copy(mmio, b.mmio)

	return &Chipset{
		devices: devices,
		pio:     pio,
		mmio:    mmio,
	}, nil
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA := baseA + sizeA
	endB := baseB + sizeB
	return baseA < endB && baseB < endA
}

// Chipset represents the built dispatch tables for virtual devices.
type Chipset struct {
	devices map[string]Device
	pio     map[uint16]PortIOHandler
	mmio    []mmioBinding
}
