// Package config loads the device-model configuration: the VM description
// and its virtual device list, from a yaml file or from bhyve-style
// "-s slot,driver,options" flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// VM describes one virtual machine's device model.
type VM struct {
	Name     string         `yaml:"name"`
	MemoryMB uint64         `yaml:"memoryMB,omitempty"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// DeviceConfig names one configured virtual device.
type DeviceConfig struct {
	Slot     int    `yaml:"slot"`
	Function int    `yaml:"function,omitempty"`
	Driver   string `yaml:"driver"`
	Options  string `yaml:"options,omitempty"`
}

func (vm *VM) normalize() {
	if vm.Name == "" {
		vm.Name = "vm"
	}
	if vm.MemoryMB == 0 {
		vm.MemoryMB = 256
	}
}

// Load reads a VM description from a yaml file.
func Load(path string) (*VM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a VM description from yaml bytes.
func Parse(data []byte) (*VM, error) {
	var vm VM
	if err := yaml.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	vm.normalize()

	seen := make(map[[2]int]string, len(vm.Devices))
	for _, dev := range vm.Devices {
		if dev.Driver == "" {
			return nil, fmt.Errorf("config: device at slot %d has no driver", dev.Slot)
		}
		key := [2]int{dev.Slot, dev.Function}
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("config: slot %d:%d used by both %q and %q",
				dev.Slot, dev.Function, prev, dev.Driver)
		}
		seen[key] = dev.Driver
	}
	return &vm, nil
}

// ParseSlotFlag translates a "slot,driver[,options]" flag into a device
// entry. Everything after the driver name is the raw option string the
// device's own parser consumes.
func ParseSlotFlag(value string) (DeviceConfig, error) {
	parts := strings.SplitN(value, ",", 3)
	if len(parts) < 2 {
		return DeviceConfig{}, fmt.Errorf("config: malformed -s flag %q, want slot,driver[,options]", value)
	}

	slot, err := strconv.Atoi(parts[0])
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("config: invalid slot in %q: %w", value, err)
	}

	dev := DeviceConfig{
		Slot:   slot,
		Driver: parts[1],
	}
	if len(parts) == 3 {
		dev.Options = parts[2]
	}
	return dev, nil
}
