package pci

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const configSpaceSize = 256

// Standard type 0 header offsets.
const (
	cfgVendorID   = 0x00
	cfgDeviceID   = 0x02
	cfgCommand    = 0x04
	cfgStatus     = 0x06
	cfgRevisionID = 0x08
	cfgSubclass   = 0x0a
	cfgClass      = 0x0b
	cfgHeaderType = 0x0e
	cfgBARBase    = 0x10
	cfgCapPtr     = 0x34

	statusCapList = 0x0010

	headerTypeNormal = 0x00

	// First free byte past the standard header for capability records.
	capSpaceStart = 0x40
)

// Device classes and subclasses used by this device model.
const (
	ClassBridge  = 0x06
	ClassDisplay = 0x03

	SubclassBridgeHost = 0x00
	SubclassDisplayVGA = 0x00
)

// Capability identifiers.
const (
	capIDMSI     = 0x05
	capIDExpress = 0x10
)

// PCI Express device/port types for the express capability record.
const (
	ExpressTypeEndpoint uint8 = 0x0
	ExpressTypeRootPort uint8 = 0x4
)

const expressCapVersion = 2

// ConfigSpace models the 256-byte configuration header of one function,
// built on a RegisterFile for the raw bytes plus typed accessors. The
// capability chain is appended at init time and immutable afterwards.
type ConfigSpace struct {
	regs *RegisterFile

	// capEnd is the next 4-byte-aligned free offset for a capability
	// record; capLink is the config offset holding the previous record's
	// next pointer (or the capability pointer itself for the first one).
	capEnd  int
	capLink int
}

func NewConfigSpace() *ConfigSpace {
	return &ConfigSpace{
		regs:    NewRegisterFile(configSpaceSize),
		capEnd:  capSpaceStart,
		capLink: cfgCapPtr,
	}
}

func (c *ConfigSpace) SetVendorID(v uint16) { c.regs.SetUint16At(cfgVendorID, v) }
func (c *ConfigSpace) VendorID() uint16     { return c.regs.Uint16At(cfgVendorID) }

func (c *ConfigSpace) SetDeviceID(v uint16) { c.regs.SetUint16At(cfgDeviceID, v) }
func (c *ConfigSpace) DeviceID() uint16     { return c.regs.Uint16At(cfgDeviceID) }

func (c *ConfigSpace) SetHeaderType(v uint8) { c.regs.SetUint8At(cfgHeaderType, v) }
func (c *ConfigSpace) HeaderType() uint8     { return c.regs.Uint8At(cfgHeaderType) }

func (c *ConfigSpace) SetClass(v uint8)    { c.regs.SetUint8At(cfgClass, v) }
func (c *ConfigSpace) Class() uint8        { return c.regs.Uint8At(cfgClass) }
func (c *ConfigSpace) SetSubclass(v uint8) { c.regs.SetUint8At(cfgSubclass, v) }
func (c *ConfigSpace) Subclass() uint8     { return c.regs.Uint8At(cfgSubclass) }

func (c *ConfigSpace) CapPtr() uint8 { return c.regs.Uint8At(cfgCapPtr) }

// Raw accessors for vendor-specific registers.

func (c *ConfigSpace) Set8(offset int, v uint8)   { c.regs.SetUint8At(offset, v) }
func (c *ConfigSpace) Get8(offset int) uint8      { return c.regs.Uint8At(offset) }
func (c *ConfigSpace) Set16(offset int, v uint16) { c.regs.SetUint16At(offset, v) }
func (c *ConfigSpace) Get16(offset int) uint16    { return c.regs.Uint16At(offset) }
func (c *ConfigSpace) Set32(offset int, v uint32) { c.regs.SetUint32At(offset, v) }
func (c *ConfigSpace) Get32(offset int) uint32    { return c.regs.Uint32At(offset) }

// AddCapability appends a capability record to the chain: id byte, next
// pointer, then body. The first capability sets the status-register
// capability-list bit and the capability pointer. Returns the record's
// config-space offset.
func (c *ConfigSpace) AddCapability(id uint8, body []byte) (uint8, error) {
	total := 2 + len(body)
	if c.capEnd+total > configSpaceSize {
		return 0, fmt.Errorf("pci: capability 0x%02x (%d bytes) does not fit at 0x%02x", id, total, c.capEnd)
	}

	offset := c.capEnd
	c.regs.SetUint8At(offset, id)
	c.regs.SetUint8At(offset+1, 0)
	copy(c.regs.Bytes()[offset+2:], body)

	if c.capLink == cfgCapPtr {
		c.regs.SetUint8At(cfgCapPtr, uint8(offset))
		c.regs.SetUint16At(cfgStatus, c.regs.Uint16At(cfgStatus)|statusCapList)
	} else {
		c.regs.SetUint8At(c.capLink, uint8(offset))
	}

	c.capLink = offset + 1
	c.capEnd = (offset + total + 3) &^ 3
	return uint8(offset), nil
}

// AddExpressCapability appends a PCI Express capability record for the
// supplied port type.
func (c *ConfigSpace) AddExpressCapability(portType uint8) error {
	// Full express capability structure minus the two header bytes.
	body := make([]byte, 0x3a)
	caps := uint16(expressCapVersion) | uint16(portType)<<4
	binary.LittleEndian.PutUint16(body[0:], caps)
	_, err := c.AddCapability(capIDExpress, body)
	return err
}

// AddMSICapability appends a 32-bit MSI capability record advertising the
// supplied number of messages (a power of two up to 32).
func (c *ConfigSpace) AddMSICapability(messages int) error {
	if messages < 1 || messages > 32 || messages&(messages-1) != 0 {
		return fmt.Errorf("pci: invalid MSI message count %d", messages)
	}
	// Message control, message address, message data.
	body := make([]byte, 8)
	mmc := uint16(bits.TrailingZeros(uint(messages)))
	binary.LittleEndian.PutUint16(body[0:], mmc<<1)
	_, err := c.AddCapability(capIDMSI, body)
	return err
}

// Read returns up to 4 bytes of raw config space; out-of-bounds or odd
// sizes read as all-ones, matching absent-device semantics.
func (c *ConfigSpace) Read(offset uint64, size int) uint32 {
	if size != 1 && size != 2 && size != 4 {
		return 0xffff_ffff
	}
	v, ok := c.regs.Read(offset, size)
	if !ok {
		return 0xffff_ffff
	}
	return uint32(v)
}

// Write stores up to 4 bytes of raw config space; out-of-bounds writes are
// dropped.
func (c *ConfigSpace) Write(offset uint64, size int, value uint32) {
	if size != 1 && size != 2 && size != 4 {
		return
	}
	c.regs.Write(offset, size, uint64(value))
}
