// Package pci implements the virtual PCI device framework: configuration
// space emulation, BAR allocation, capability chains and a name-keyed device
// registry, plus the host-bridge devices built on it.
package pci

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xinyunliu/acrn-hypervisor/internal/chipset"
)

// Ops is the polymorphic operation set of one virtual device variant. Init
// populates config space, allocates BARs and parses the raw option string;
// a non-nil error aborts device creation with no partial state registered.
type Ops interface {
	ClassName() string
	Init(ctx *Context, dev *Device, opts string) error
}

// BarReader handles software-emulated BAR reads. Devices without BAR-level
// MMIO (the host bridge) simply do not implement it.
type BarReader interface {
	BarRead(bar int, offset uint64, size int) uint64
}

// BarWriter handles software-emulated BAR writes.
type BarWriter interface {
	BarWrite(bar int, offset uint64, size int, value uint64)
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]func() Ops)
)

// Register adds a device type under its class name. It is meant to be
// called from package init; a duplicate name is a programming error.
func Register(name string, factory func() Ops) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || factory == nil {
		panic("pci: Register with empty name or nil factory")
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("pci: device type %q registered twice", name))
	}
	registry[name] = factory
}

// DeviceTypes returns the registered class names, sorted.
func DeviceTypes() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (func() Ops, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factory, ok := registry[name]
	return factory, ok
}

// Device is one instantiated virtual PCI function: config space, BAR table
// and the variant operation set resolved once at construction.
type Device struct {
	slot int
	fn   int

	conf *ConfigSpace
	bars [numBARs]Bar
	ops  Ops
}

// New instantiates the device type registered under driver and runs its
// init with the supplied option string.
func New(ctx *Context, slot, fn int, driver, opts string) (*Device, error) {
	factory, ok := lookup(driver)
	if !ok {
		return nil, fmt.Errorf("pci: unknown device type %q", driver)
	}

	d := &Device{
		slot: slot,
		fn:   fn,
		conf: NewConfigSpace(),
		ops:  factory(),
	}
	d.conf.SetHeaderType(headerTypeNormal)

	if err := d.ops.Init(ctx, d, opts); err != nil {
		return nil, fmt.Errorf("pci: init %s at %d:%d: %w", driver, slot, fn, err)
	}
	return d, nil
}

// Slot returns the device's slot number on the bus.
func (d *Device) Slot() int { return d.slot }

// Function returns the device's function number.
func (d *Device) Function() int { return d.fn }

// Config returns the device's configuration space.
func (d *Device) Config() *ConfigSpace { return d.conf }

// Ops returns the variant operation set.
func (d *Device) Ops() Ops { return d.ops }

// Start implements chipset.Device.
func (d *Device) Start() error { return nil }

// Stop implements chipset.Device.
func (d *Device) Stop() error { return nil }

// Reset implements chipset.Device.
func (d *Device) Reset() error { return nil }

// MMIORegions reports the software-emulated memory BARs. Passthrough BARs
// are guest memory by construction and have no MMIO dispatch.
func (d *Device) MMIORegions() []chipset.MMIORegion {
	var regions []chipset.MMIORegion
	for _, bar := range d.bars {
		if bar.Type != BarMem32 || bar.Passthrough {
			continue
		}
		regions = append(regions, chipset.MMIORegion{Address: bar.Addr, Size: bar.Size})
	}
	return regions
}

// ReadMMIO dispatches a BAR read to the device's operation set. Unclaimed
// or unhandled reads return zero, never an error that could stop the guest.
func (d *Device) ReadMMIO(addr uint64, data []byte) error {
	bar, offset, ok := d.decode(addr, len(data))
	if !ok {
		return fmt.Errorf("pci: MMIO read outside device %s BARs at 0x%x", d.ops.ClassName(), addr)
	}

	var value uint64
	if reader, handled := d.ops.(BarReader); handled {
		value = reader.BarRead(bar, offset, len(data))
	}
	if len(data) > 8 {
		return fmt.Errorf("pci: invalid MMIO read size %d", len(data))
	}
	for i := range data {
		data[i] = byte(value >> (8 * i))
	}
	return nil
}

// WriteMMIO dispatches a BAR write to the device's operation set. Writes to
// devices without a write handler are dropped.
func (d *Device) WriteMMIO(addr uint64, data []byte) error {
	bar, offset, ok := d.decode(addr, len(data))
	if !ok {
		return fmt.Errorf("pci: MMIO write outside device %s BARs at 0x%x", d.ops.ClassName(), addr)
	}
	if len(data) > 8 {
		return fmt.Errorf("pci: invalid MMIO write size %d", len(data))
	}

	writer, handled := d.ops.(BarWriter)
	if !handled {
		slog.Debug("pci: dropped write to device without BAR write handler",
			"device", d.ops.ClassName(), "bar", bar, "offset", offset)
		return nil
	}

	var value uint64
	for i, b := range data {
		value |= uint64(b) << (8 * i)
	}
	writer.BarWrite(bar, offset, len(data), value)
	return nil
}

func (d *Device) decode(addr uint64, size int) (int, uint64, bool) {
	end := addr + uint64(size)
	for i, bar := range d.bars {
		if bar.Type != BarMem32 || bar.Passthrough {
			continue
		}
		if addr >= bar.Addr && end <= bar.Addr+bar.Size {
			return i, addr - bar.Addr, true
		}
	}
	return 0, 0, false
}

var _ chipset.MMIODevice = (*Device)(nil)
