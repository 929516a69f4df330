// Package pmtimer virtualizes the ACPI power-management timer: a 3.579545
// MHz free-running counter exposed through a read-only 4-byte I/O port. The
// counter is never tracked as a running sum; it is re-derived from the time
// left on an armed one-shot deadline marking the next carry-bit flip, so
// long runs cannot accumulate drift.
package pmtimer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/xinyunliu/acrn-hypervisor/internal/chipset"
)

const (
	// Port is the 4-byte I/O port the timer occupies.
	Port uint16 = 0x408

	portSize = 4

	tickRate       = 3579545
	nanosPerSecond = 1_000_000_000

	// 32-bit mode: bit 31 is the carry bit, bits 30:0 count.
	carryMask     = 0x8000_0000
	noCarryMask   = 0x7fff_ffff
	noCarryCounts = noCarryMask
)

// Device is the PM timer state. The read path (guest I/O on the trapping
// thread) and the expiry callback (timer facility goroutine) both touch the
// armed deadline and the carry flag and serialize on mu.
type Device struct {
	mu     sync.Mutex
	ioAddr uint16
	msbSet bool
	timer  Timer
}

// Option customises the device, mainly for tests.
type Option func(*options)

type options struct {
	now     func() time.Time
	factory TimerFactory
}

// WithClock overrides the monotonic time base.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTimerFactory injects a custom one-shot timer facility.
func WithTimerFactory(factory TimerFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.factory = factory
		}
	}
}

// New builds the PM timer and arms it with counter value 0 (the ACPI spec
// leaves the boot value implementation-defined; this model fixes it to 0).
// If the timer facility cannot be set up the port stays unregistered and
// the device is effectively absent.
func New(opts ...Option) *Device {
	o := options{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{}

	if o.factory == nil {
		o.factory = func(expire func()) (Timer, error) {
			return newMonotonicTimer(o.now, expire), nil
		}
	}

	timer, err := o.factory(d.expire)
	if err != nil {
		slog.Error("pmtimer: timer setup failed, device disabled", "err", err)
		d.ioAddr = 0
		return d
	}
	d.timer = timer
	d.ioAddr = Port

	d.mu.Lock()
	d.set(0)
	d.mu.Unlock()

	return d
}

// set latches the carry flag from val's top bit and arms the one-shot
// deadline for the ticks left until the carry bit next flips. Callers hold
// d.mu.
func (d *Device) set(val uint32) {
	d.msbSet = val&carryMask != 0

	cnt2carry := uint32(noCarryCounts) - (val & noCarryMask)
	ns := uint64(cnt2carry) * nanosPerSecond / tickRate
	d.timer.Arm(time.Duration(ns))
}

// Get reconstructs the current counter value from the time left to the
// armed deadline, overlaying the latched carry bit.
func (d *Device) Get() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	remaining := d.timer.Remaining()
	cnt2carry := uint64(remaining.Nanoseconds()) * tickRate / nanosPerSecond

	val := uint32(noCarryCounts) - (uint32(cnt2carry) & noCarryMask)
	if d.msbSet {
		val |= carryMask
	} else {
		val &^= carryMask
	}
	return val
}

// expire flips the carry bit and re-arms the next half-cycle from the
// wrapped-around boundary value. Runs on the timer facility's goroutine.
func (d *Device) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.msbSet {
		d.set(0)
	} else {
		d.set(carryMask)
	}
}

// IOPorts implements chipset.PortIODevice. A disabled device claims no
// ports.
func (d *Device) IOPorts() []uint16 {
	if d.ioAddr == 0 {
		return nil
	}
	ports := make([]uint16, portSize)
	for i := range ports {
		ports[i] = d.ioAddr + uint16(i)
	}
	return ports
}

// ReadIOPort implements chipset.PortIODevice.
func (d *Device) ReadIOPort(port uint16, data []byte) error {
	value := d.Get()

	offset := int(port - d.ioAddr)
	for i := range data {
		shift := 8 * (offset + i)
		if offset+i < portSize {
			data[i] = byte(value >> shift)
		} else {
			data[i] = 0
		}
	}
	return nil
}

// WriteIOPort implements chipset.PortIODevice. The port is read-only per
// the ACPI spec; writes are diagnosed and dropped, never fatal.
func (d *Device) WriteIOPort(port uint16, data []byte) error {
	slog.Warn("pmtimer: invalid I/O write, timer port is read-only",
		"port", port, "size", len(data))
	return nil
}

// Start implements chipset.Device.
func (d *Device) Start() error { return nil }

// Stop implements chipset.Device. It stops the armed timer so no expiry
// callback fires against released state.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.ioAddr = 0
	return nil
}

// Reset implements chipset.Device, re-arming from counter value 0.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer == nil {
		return nil
	}
	d.set(0)
	return nil
}

var _ chipset.PortIODevice = (*Device)(nil)
