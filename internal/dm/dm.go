// Package dm assembles the device model: it instantiates the configured
// virtual devices, wires their intercepts into a chipset and owns the
// shared device-model state.
package dm

import (
	"fmt"
	"log/slog"

	"github.com/xinyunliu/acrn-hypervisor/internal/chipset"
	"github.com/xinyunliu/acrn-hypervisor/internal/config"
	"github.com/xinyunliu/acrn-hypervisor/internal/devices/pmtimer"
	"github.com/xinyunliu/acrn-hypervisor/internal/hv"
	"github.com/xinyunliu/acrn-hypervisor/internal/pci"
)

// DeviceModel is one VM's assembled device set.
type DeviceModel struct {
	Context *pci.Context
	Chipset *chipset.Chipset

	devices []*pci.Device
}

// Options configure collaborators the assembly hands to device inits.
type Options struct {
	Memory  hv.GuestMemory
	Display func(ctx *pci.Context)
}

// Build instantiates every configured device in order and returns the
// ready-to-start device model. The first device init failure aborts the
// whole configuration step.
func Build(vm *config.VM, opts Options) (*DeviceModel, error) {
	mem := opts.Memory
	if mem == nil {
		mem = hv.NewMemory()
	}
	ctx := pci.NewContext(mem)
	if opts.Display != nil {
		opts.Display(ctx)
	}

	builder := chipset.NewBuilder()

	m := &DeviceModel{Context: ctx}

	for _, devConf := range vm.Devices {
		dev, err := pci.New(ctx, devConf.Slot, devConf.Function, devConf.Driver, devConf.Options)
		if err != nil {
			return nil, fmt.Errorf("dm: device %s at slot %d: %w", devConf.Driver, devConf.Slot, err)
		}

		name := fmt.Sprintf("%s@%d:%d", devConf.Driver, devConf.Slot, devConf.Function)
		if err := builder.RegisterDevice(name, dev); err != nil {
			return nil, fmt.Errorf("dm: register %s: %w", name, err)
		}
		m.devices = append(m.devices, dev)
	}

	// The PM timer is part of every VM, not a configured slot device. A
	// disabled timer (failed facility setup) claims no ports and is
	// simply absent.
	timer := pmtimer.New()
	if err := builder.RegisterDevice("pmtimer", timer); err != nil {
		return nil, fmt.Errorf("dm: register pmtimer: %w", err)
	}

	cs, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("dm: build chipset: %w", err)
	}
	m.Chipset = cs

	slog.Info("dm: device model assembled", "vm", vm.Name, "devices", len(m.devices))
	return m, nil
}

// Devices returns the instantiated PCI devices in configuration order.
func (m *DeviceModel) Devices() []*pci.Device {
	return m.devices
}
