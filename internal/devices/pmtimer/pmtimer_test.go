package pmtimer

import (
	"fmt"
	"testing"
	"time"
)

// manualTimer is a Timer under test control: the remaining time only moves
// when the test advances it, and expiry fires on demand.
type manualTimer struct {
	armed     time.Duration
	remaining time.Duration
	stopped   bool
	expire    func()
}

func (t *manualTimer) Arm(d time.Duration) {
	t.armed = d
	t.remaining = d
	t.stopped = false
}

func (t *manualTimer) Remaining() time.Duration { return t.remaining }

func (t *manualTimer) Stop() { t.stopped = true }

func (t *manualTimer) Advance(d time.Duration) {
	t.remaining -= d
	if t.remaining < 0 {
		t.remaining = 0
	}
}

func (t *manualTimer) Fire() {
	t.remaining = 0
	t.expire()
}

func newTestTimer(t *testing.T) (*Device, *manualTimer) {
	t.Helper()
	mt := &manualTimer{}
	d := New(WithTimerFactory(func(expire func()) (Timer, error) {
		mt.expire = expire
		return mt, nil
	}))
	if d.IOPorts() == nil {
		t.Fatal("device disabled with a working timer factory")
	}
	return d, mt
}

// counterDiff is the distance between two 31-bit counter values, ignoring
// the carry bit.
func counterDiff(a, b uint32) uint32 {
	a &= noCarryMask
	b &= noCarryMask
	if a > b {
		return a - b
	}
	return b - a
}

func TestInitialCounterZero(t *testing.T) {
	d, _ := newTestTimer(t)

	got := d.Get()
	if got&carryMask != 0 {
		t.Fatalf("carry set on fresh device: 0x%08x", got)
	}
	// Both conversions truncate, so reconstruction may be one tick off.
	if counterDiff(got, 0) > 1 {
		t.Fatalf("initial counter 0x%08x, want 0 within one tick", got)
	}
}

func TestCounterAdvances(t *testing.T) {
	d, mt := newTestTimer(t)

	mt.Advance(mt.armed / 2)
	got := d.Get()
	if got&carryMask != 0 {
		t.Fatalf("carry set before expiry: 0x%08x", got)
	}
	if diff := counterDiff(got, noCarryCounts/2); diff > 2 {
		t.Fatalf("half-period counter 0x%08x, off by %d ticks", got, diff)
	}

	// Reads must not disturb the counter.
	if again := d.Get(); again != got {
		t.Fatalf("second read moved the counter: 0x%08x -> 0x%08x", got, again)
	}
}

func TestCarryFlipsOnExpiry(t *testing.T) {
	d, mt := newTestTimer(t)

	mt.Fire()
	got := d.Get()
	if got&carryMask == 0 {
		t.Fatalf("carry clear after first expiry: 0x%08x", got)
	}
	if counterDiff(got, 0) > 1 {
		t.Fatalf("counter 0x%08x after first expiry, want carry|0", got)
	}
	if mt.armed == 0 {
		t.Fatal("timer not re-armed after expiry")
	}

	mt.Fire()
	if got := d.Get(); got&carryMask != 0 {
		t.Fatalf("carry set after second expiry: 0x%08x", got)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	d, _ := newTestTimer(t)

	values := []uint32{
		0,
		1,
		12345,
		0x3fff_ffff,
		noCarryMask,
		carryMask,
		carryMask | 999,
		carryMask | noCarryMask,
	}
	for _, v := range values {
		d.mu.Lock()
		d.set(v)
		d.mu.Unlock()

		got := d.Get()
		if got&carryMask != v&carryMask {
			t.Errorf("set(0x%08x): carry bit lost, got 0x%08x", v, got)
		}
		if diff := counterDiff(got, v); diff > 1 {
			t.Errorf("set(0x%08x): got 0x%08x, off by %d ticks", v, got, diff)
		}
	}
}

func TestReadIOPortBytes(t *testing.T) {
	d, _ := newTestTimer(t)

	d.mu.Lock()
	d.set(0x12345678 & noCarryMask)
	d.mu.Unlock()
	value := d.Get()

	var full [4]byte
	if err := d.ReadIOPort(Port, full[:]); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, b := range full {
		if want := byte(value >> (8 * i)); b != want {
			t.Fatalf("byte %d = 0x%02x, want 0x%02x (counter 0x%08x)", i, b, want, value)
		}
	}

	var high [1]byte
	if err := d.ReadIOPort(Port+3, high[:]); err != nil {
		t.Fatalf("read at offset 3: %v", err)
	}
	if want := byte(value >> 24); high[0] != want {
		t.Fatalf("offset-3 byte 0x%02x, want 0x%02x", high[0], want)
	}

	// Bytes past the 4-byte register read as zero.
	var wide [4]byte
	if err := d.ReadIOPort(Port+2, wide[:]); err != nil {
		t.Fatalf("read at offset 2: %v", err)
	}
	if wide[2] != 0 || wide[3] != 0 {
		t.Fatalf("bytes past the register not zero: %v", wide)
	}
}

func TestWritesAreDropped(t *testing.T) {
	d, _ := newTestTimer(t)

	before := d.Get()
	if err := d.WriteIOPort(Port, []byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if after := d.Get(); after != before {
		t.Fatalf("write changed the counter: 0x%08x -> 0x%08x", before, after)
	}
}

func TestStopDisablesDevice(t *testing.T) {
	d, mt := newTestTimer(t)

	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !mt.stopped {
		t.Fatal("armed timer not stopped")
	}
	if d.IOPorts() != nil {
		t.Fatal("stopped device still claims ports")
	}
}

func TestResetRearms(t *testing.T) {
	d, mt := newTestTimer(t)

	mt.Fire()
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got := d.Get()
	if got&carryMask != 0 {
		t.Fatalf("carry set after reset: 0x%08x", got)
	}
	if counterDiff(got, 0) > 1 {
		t.Fatalf("counter 0x%08x after reset, want 0", got)
	}
}

func TestFactoryFailureLeavesDeviceAbsent(t *testing.T) {
	d := New(WithTimerFactory(func(func()) (Timer, error) {
		return nil, fmt.Errorf("no timer facility")
	}))
	if ports := d.IOPorts(); ports != nil {
		t.Fatalf("disabled device claims ports %v", ports)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset of disabled device: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop of disabled device: %v", err)
	}
}

func TestIOPortRange(t *testing.T) {
	d, _ := newTestTimer(t)
	ports := d.IOPorts()
	if len(ports) != 4 {
		t.Fatalf("%d ports, want 4", len(ports))
	}
	for i, port := range ports {
		if port != Port+uint16(i) {
			t.Fatalf("port[%d] = 0x%x, want 0x%x", i, port, Port+uint16(i))
		}
	}
}
