package pci

// hostBridge emulates the PCI host bridge at the root of the bus. It has no
// BAR-level MMIO; all access goes through the shared config-space accessor.
type hostBridge struct{}

func (hostBridge) ClassName() string { return "hostbridge" }

func (hostBridge) Init(ctx *Context, dev *Device, opts string) error {
	conf := dev.Config()
	conf.SetVendorID(0x1275)
	conf.SetDeviceID(0x1275)
	conf.SetHeaderType(headerTypeNormal)
	conf.SetClass(ClassBridge)
	conf.SetSubclass(SubclassBridgeHost)

	conf.Set8(cfgRevisionID, 0x0b)
	conf.Set16(0x2c, 0x0000)
	conf.Set16(0x2e, 0x0000)

	return conf.AddExpressCapability(ExpressTypeRootPort)
}

// amdHostBridge runs the base host-bridge init and then overrides the
// identity, the composition pattern device variants reuse.
type amdHostBridge struct {
	hostBridge
}

func (amdHostBridge) ClassName() string { return "amd_hostbridge" }

func (b amdHostBridge) Init(ctx *Context, dev *Device, opts string) error {
	if err := b.hostBridge.Init(ctx, dev, opts); err != nil {
		return err
	}
	conf := dev.Config()
	conf.SetVendorID(0x1022)
	conf.SetDeviceID(0x7432)
	return nil
}

func init() {
	Register("hostbridge", func() Ops { return hostBridge{} })
	Register("amd_hostbridge", func() Ops { return amdHostBridge{} })
}
