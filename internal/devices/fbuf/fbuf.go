// Package fbuf implements the framebuffer PCI device. BAR0 is a 128-byte
// register file holding the current mode information; BAR1 is a 16 MiB
// pixel buffer mapped directly into guest physical memory.
package fbuf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xinyunliu/acrn-hypervisor/internal/console"
	"github.com/xinyunliu/acrn-hypervisor/internal/pci"
)

const (
	// BAR0 register file layout, little-endian.
	regFBSize      = 0x00
	regWidth       = 0x04
	regHeight      = 0x06
	regDepth       = 0x08
	regRefreshRate = 0x0a

	regFileSize = 128

	fbSize = 16 << 20

	colsMax     = 1920
	rowsMax     = 1200
	colsDefault = 1024
	rowsDefault = 768

	// Normalized geometry when an option requests width/height 0. Not the
	// same as the post-init defaults above.
	colsZeroOption = 1920
	rowsZeroOption = 1080

	msiMessages = 4

	vendorID = 0xfb5d
	deviceID = 0x40fb
)

// ErrDeviceExists reports a second framebuffer device in one process;
// exactly one is allowed per VM.
var ErrDeviceExists = errors.New("fbuf: only one framebuffer device is allowed")

var (
	mu     sync.Mutex
	active *Device
)

// Device is the framebuffer device state: the BAR0 register file, parsed
// options, the guest-shared pixel buffer and the mode/geometry tracking
// shared with the render path.
type Device struct {
	dev  *pci.Device
	regs *pci.RegisterFile

	rfbHost     string
	rfbPassword string
	rfbPort     int
	rfbWait     bool
	vgaEnabled  bool
	vgaFull     bool

	fbAddr uint64
	frame  []byte

	// gcWidth/gcHeight track the geometry last propagated to the graphics
	// context. They and the register file are read by the render callback
	// without a lock; the race with guest writes is part of the design,
	// display output tolerates it.
	gcWidth  uint16
	gcHeight uint16

	vga   console.VGARenderer
	image *console.Image
}

func (f *Device) ClassName() string { return "fbuf" }

// Init configures the device per the option string and maps the pixel
// buffer into the guest. Any failure leaves no device registered.
func (f *Device) Init(ctx *pci.Context, dev *pci.Device, opts string) (err error) {
	mu.Lock()
	if active != nil {
		mu.Unlock()
		return ErrDeviceExists
	}
	active = f
	mu.Unlock()

	defer func() {
		if err != nil {
			mu.Lock()
			if active == f {
				active = nil
			}
			mu.Unlock()
		}
	}()

	f.dev = dev
	f.regs = pci.NewRegisterFile(regFileSize)

	conf := dev.Config()
	conf.SetVendorID(vendorID)
	conf.SetDeviceID(deviceID)
	conf.SetClass(pci.ClassDisplay)
	conf.SetSubclass(pci.SubclassDisplayVGA)

	if err := dev.AllocBar(ctx, 0, pci.BarMem32, regFileSize); err != nil {
		return err
	}
	if err := dev.AllocBar(ctx, 1, pci.BarMem32, fbSize); err != nil {
		return err
	}
	if err := conf.AddMSICapability(msiMessages); err != nil {
		return err
	}

	f.fbAddr = dev.Bar(1).Addr
	f.regs.SetUint32At(regFBSize, fbSize)
	f.regs.SetUint16At(regWidth, colsDefault)
	f.regs.SetUint16At(regHeight, rowsDefault)
	f.regs.SetUint16At(regDepth, 32)

	f.vgaEnabled = true
	f.vgaFull = false

	if err := f.parseOpts(opts); err != nil {
		return err
	}

	if f.vgaFull {
		return fmt.Errorf("fbuf: VGA rendering not enabled")
	}

	// The mapping is one-shot: if the BAR was assigned a different address
	// than a prior run the segment cannot move, and the VM has to be
	// recreated rather than restarted.
	f.frame, err = ctx.Memory.MapSegment("fbuf", f.fbAddr, fbSize)
	if err != nil {
		return fmt.Errorf("fbuf: mapping framebuffer failed, try deleting the VM and restarting: %w", err)
	}
	dev.SetPassthrough(1)

	width := int(f.regs.Uint16At(regWidth))
	height := int(f.regs.Uint16At(regHeight))
	slog.Info("fbuf: frame buffer mapped", "addr", fmt.Sprintf("0x%x", f.fbAddr),
		"size", fbSize, "width", width, "height", height)

	c := console.New(width, height, f.frame)
	c.RegisterRender(f.Render)
	ctx.Console = c

	if f.vgaEnabled && ctx.NewVGA != nil {
		f.vga = ctx.NewVGA(!f.vgaFull)
	}
	f.image = c.Image()

	for i := range f.frame {
		f.frame[i] = 0
	}

	if ctx.Display != nil {
		if err := ctx.Display.Start(f.rfbHost, f.rfbPort, f.rfbWait, f.rfbPassword); err != nil {
			return fmt.Errorf("fbuf: start display server: %w", err)
		}
	}

	return nil
}

// BarRead services BAR0 register reads. Out-of-bounds or unsupported
// accesses read as zero and are diagnosed, never fatal.
func (f *Device) BarRead(bar int, offset uint64, size int) uint64 {
	if bar != 0 {
		slog.Warn("fbuf: read from unexpected BAR", "bar", bar, "offset", offset)
		return 0
	}

	value, ok := f.regs.Read(offset, size)
	if !ok {
		slog.Warn("fbuf: read too large", "offset", offset, "size", size)
		return 0
	}

	slog.Debug("fbuf: read", "offset", offset, "size", size, "value", value)
	return value
}

// BarWrite services BAR0 register writes and re-evaluates the VGA/VESA mode
// transition after every accepted write.
func (f *Device) BarWrite(bar int, offset uint64, size int, value uint64) {
	if bar != 0 {
		slog.Warn("fbuf: write to unexpected BAR", "bar", bar, "offset", offset)
		return
	}

	slog.Debug("fbuf: write", "offset", offset, "size", size, "value", value)

	if !f.regs.Write(offset, size, value) {
		slog.Warn("fbuf: write too large", "offset", offset, "size", size)
		return
	}

	width := f.regs.Uint16At(regWidth)
	height := f.regs.Uint16At(regHeight)

	if !f.image.VGAMode && width == 0 && height == 0 {
		slog.Info("fbuf: switching to VGA mode")
		f.image.VGAMode = true
		f.gcWidth = 0
		f.gcHeight = 0
	} else if f.image.VGAMode && width != 0 && height != 0 {
		slog.Info("fbuf: switching to VESA mode")
		f.image.VGAMode = false
	}
}

// Render arbitrates mode and geometry for the display refresh path. Pixel
// delivery itself belongs to the console/remote-display collaborators.
func (f *Device) Render(gc console.Graphics) {
	if f.vgaFull && f.image.VGAMode {
		f.vga.Render(gc)
		return
	}

	width := f.regs.Uint16At(regWidth)
	height := f.regs.Uint16At(regHeight)
	if f.gcWidth != width || f.gcHeight != height {
		gc.Resize(int(width), int(height))
		f.gcWidth = width
		f.gcHeight = height
	}
}

// Frame returns the host side of the shared pixel buffer.
func (f *Device) Frame() []byte {
	return f.frame
}

func init() {
	pci.Register("fbuf", func() pci.Ops { return &Device{} })
}

// reset clears the process-wide singleton slot. Tests only.
func reset() {
	mu.Lock()
	active = nil
	mu.Unlock()
}
