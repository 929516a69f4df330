package pci

import (
	"encoding/binary"
	"testing"
)

// regDevice is a device variant with one register-file BAR and one
// passthrough BAR, used to exercise allocation and MMIO dispatch.
type regDevice struct {
	regs *RegisterFile
}

func (*regDevice) ClassName() string { return "testregs" }

func (d *regDevice) Init(ctx *Context, dev *Device, opts string) error {
	d.regs = NewRegisterFile(64)
	if err := dev.AllocBar(ctx, 0, BarMem32, 64); err != nil {
		return err
	}
	if err := dev.AllocBar(ctx, 1, BarMem32, 1<<20); err != nil {
		return err
	}
	dev.SetPassthrough(1)
	return nil
}

func (d *regDevice) BarRead(bar int, offset uint64, size int) uint64 {
	if bar != 0 {
		return 0
	}
	v, _ := d.regs.Read(offset, size)
	return v
}

func (d *regDevice) BarWrite(bar int, offset uint64, size int, value uint64) {
	if bar != 0 {
		return
	}
	d.regs.Write(offset, size, value)
}

func init() {
	Register("testregs", func() Ops { return &regDevice{} })
}

func TestBarAllocationAndEncoding(t *testing.T) {
	ctx := NewContext(nil)
	dev, err := New(ctx, 3, 0, "testregs", "")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}

	bar0 := dev.Bar(0)
	if bar0.Type != BarMem32 || bar0.Size != 64 {
		t.Fatalf("bar0 %+v", bar0)
	}
	if bar0.Addr%bar0.Size != 0 {
		t.Fatalf("bar0 address 0x%x not naturally aligned", bar0.Addr)
	}
	if got := dev.Config().Get32(cfgBARBase); got != uint32(bar0.Addr) {
		t.Fatalf("bar0 config register 0x%x, want 0x%x", got, bar0.Addr)
	}

	bar1 := dev.Bar(1)
	if !bar1.Passthrough {
		t.Fatal("bar1 not marked passthrough")
	}
	if bar1.Addr == bar0.Addr {
		t.Fatal("overlapping BAR allocations")
	}

	regions := dev.MMIORegions()
	if len(regions) != 1 {
		t.Fatalf("%d MMIO regions, want 1 (passthrough excluded)", len(regions))
	}
	if regions[0].Address != bar0.Addr || regions[0].Size != 64 {
		t.Fatalf("region %+v does not match bar0", regions[0])
	}
}

func TestBarSizeRoundsUpToPowerOfTwo(t *testing.T) {
	ctx := NewContext(nil)
	dev := &Device{conf: NewConfigSpace(), ops: &regDevice{}}
	if err := dev.AllocBar(ctx, 0, BarMem32, 100); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if dev.Bar(0).Size != 128 {
		t.Fatalf("size %d, want 128", dev.Bar(0).Size)
	}
	if err := dev.AllocBar(ctx, 0, BarMem32, 16); err == nil {
		t.Fatal("double allocation of BAR 0 accepted")
	}
	if err := dev.AllocBar(ctx, 9, BarMem32, 16); err == nil {
		t.Fatal("out-of-range BAR index accepted")
	}
}

func TestDeviceMMIODispatch(t *testing.T) {
	ctx := NewContext(nil)
	dev, err := New(ctx, 3, 0, "testregs", "")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	base := dev.Bar(0).Addr

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 0xfeedface)
	if err := dev.WriteMMIO(base+8, buf[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out [4]byte
	if err := dev.ReadMMIO(base+8, out[:]); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := binary.LittleEndian.Uint32(out[:]); got != 0xfeedface {
		t.Fatalf("round trip: got 0x%x", got)
	}

	if err := dev.ReadMMIO(base+1024, out[:]); err == nil {
		t.Fatal("read outside BARs accepted")
	}
}

func TestDeviceWithoutBarHandlers(t *testing.T) {
	ctx := NewContext(nil)
	dev := &Device{conf: NewConfigSpace(), ops: hostBridge{}}
	if err := dev.AllocBar(ctx, 0, BarMem32, 64); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	base := dev.Bar(0).Addr

	out := []byte{0xff, 0xff}
	if err := dev.ReadMMIO(base, out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("read without handler should be zero, got %v", out)
	}
	if err := dev.WriteMMIO(base, []byte{1}); err != nil {
		t.Fatalf("write without handler should be dropped, got %v", err)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocator(0x1000, 0x1000)
	if _, err := a.Allocate(0x800); err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	if _, err := a.Allocate(0x1000); err == nil {
		t.Fatal("allocation past the window accepted")
	}
	if _, err := a.Allocate(0); err == nil {
		t.Fatal("zero-size allocation accepted")
	}
}
