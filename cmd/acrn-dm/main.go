// Command acrn-dm hosts the virtual-device model for one VM: it assembles
// the configured devices and serves their MMIO and port I/O intercepts.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xinyunliu/acrn-hypervisor/internal/config"
	"github.com/xinyunliu/acrn-hypervisor/internal/dm"
	"github.com/xinyunliu/acrn-hypervisor/internal/pci"

	// Registered device types.
	_ "github.com/xinyunliu/acrn-hypervisor/internal/devices/fbuf"
)

var (
	configPath string
	slotFlags  []string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "acrn-dm",
	Short: "ACRN device model: emulated PCI and platform devices for a guest VM",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "yaml VM configuration file")
	rootCmd.Flags().StringArrayVarP(&slotFlags, "slot", "s", nil,
		"configure a device: slot,driver[,options] (repeatable)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	vm, err := loadVM()
	if err != nil {
		return err
	}

	model, err := dm.Build(vm, dm.Options{})
	if err != nil {
		return err
	}

	if err := model.Chipset.Start(); err != nil {
		return err
	}
	defer func() {
		if err := model.Chipset.Stop(); err != nil {
			slog.Error("acrn-dm: stop chipset", "err", err)
		}
	}()

	slog.Info("acrn-dm: device model running", "vm", vm.Name,
		"deviceTypes", pci.DeviceTypes())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	return nil
}

func loadVM() (*config.VM, error) {
	var vm *config.VM

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		vm = loaded
	} else {
		vm = &config.VM{Name: "vm"}
	}

	for _, flag := range slotFlags {
		dev, err := config.ParseSlotFlag(flag)
		if err != nil {
			return nil, err
		}
		vm.Devices = append(vm.Devices, dev)
	}

	if len(vm.Devices) == 0 {
		return nil, fmt.Errorf("acrn-dm: no devices configured, use --config or -s")
	}
	return vm, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
