package chipset

// PortIOHandler handles reads and writes to individual I/O ports.
type PortIOHandler interface {
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// MMIOHandler handles reads and writes to memory-mapped regions.
type MMIOHandler interface {
	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

// MMIORegion is a guest-physical window served by an MMIOHandler.
type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Device exposes lifecycle hooks for registered devices. Teardown must stop
// any background activity (timers, callbacks) before memory is released.
type Device interface {
	Start() error
	Stop() error
	Reset() error
}

// PortIODevice is a Device that serves I/O ports. An empty port list means
// the device is present but currently claims no ports.
type PortIODevice interface {
	Device
	PortIOHandler

	IOPorts() []uint16
}

// MMIODevice is a Device that serves memory-mapped regions.
type MMIODevice interface {
	Device
	MMIOHandler

	MMIORegions() []MMIORegion
}

// NopLifecycle provides no-op Start/Stop/Reset for devices without
// lifecycle needs.
type NopLifecycle struct{}

func (NopLifecycle) Start() error { return nil }
func (NopLifecycle) Stop() error  { return nil }
func (NopLifecycle) Reset() error { return nil }
