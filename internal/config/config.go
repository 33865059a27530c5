// Package config loads fleetd's startup configuration: flags first, then an
// optional TOML file for defaults the operator doesn't want to repeat on
// every invocation. Flags always win over the file.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

// Config is the full set of values fleetd needs to create and restore VMs.
type Config struct {
	HostNetworkInterface string `toml:"host_network_interface"`
	FirecrackerPath      string `toml:"firecracker_path"`
	KernelImagePath      string `toml:"kernel_image_path"`
	BootArgs              string `toml:"boot_args"`
	RootFSPath            string `toml:"root_fs_path"`
	ListenAddr            string `toml:"listen_addr"`
}

const defaultBootArgs = "console=ttyS0 reboot=k panic=1 pci=off nomodules ipv6.disable=1 8250.nr_uarts=0 tsc=reliable quiet i8042.nokbd i8042.noaux"

// candidateConfigPaths is searched, in order, for an optional TOML override
// file, the way the rest of this codebase locates its config file.
func candidateConfigPaths() []string {
	paths := []string{"./config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "fleetd", "config.toml"))
	}
	paths = append(paths, "/etc/fleetd/config.toml")
	return paths
}

// Load parses CLI flags from args, merging in an optional config file for
// any flag not explicitly set on the command line.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{
		HostNetworkInterface: "ens33",
		BootArgs:             defaultBootArgs,
		ListenAddr:           "0.0.0.0:3000",
	}

	fs.StringVar(&cfg.HostNetworkInterface, "host-network-interface", cfg.HostNetworkInterface, "host interface used for NAT egress")
	fs.StringVar(&cfg.FirecrackerPath, "firecracker-path", "", "path to the firecracker binary")
	fs.StringVar(&cfg.KernelImagePath, "kernel-image-path", "", "path to the guest kernel image")
	fs.StringVar(&cfg.BootArgs, "boot-args", cfg.BootArgs, "guest kernel command line")
	fs.StringVar(&cfg.RootFSPath, "root-fs-path", "", "path to the root filesystem image")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "control-plane HTTP listen address")

	if err := fs.Parse(args); err != nil {
		return nil, fleeterr.New(fleeterr.KindConfig, "config.Load", err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	for _, path := range candidateConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var fileCfg Config
		if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
			return nil, fleeterr.New(fleeterr.KindConfig, "config.Load", err)
		}
		mergeUnset(cfg, &fileCfg, set)
		break
	}

	if cfg.FirecrackerPath == "" || cfg.KernelImagePath == "" || cfg.RootFSPath == "" {
		return nil, fleeterr.New(fleeterr.KindConfig, "config.Load",
			fmt.Errorf("firecracker-path, kernel-image-path, and root-fs-path are required"))
	}
	return cfg, nil
}

func mergeUnset(cfg, file *Config, explicitlySet map[string]bool) {
	if !explicitlySet["host-network-interface"] && file.HostNetworkInterface != "" {
		cfg.HostNetworkInterface = file.HostNetworkInterface
	}
	if !explicitlySet["firecracker-path"] && file.FirecrackerPath != "" {
		cfg.FirecrackerPath = file.FirecrackerPath
	}
	if !explicitlySet["kernel-image-path"] && file.KernelImagePath != "" {
		cfg.KernelImagePath = file.KernelImagePath
	}
	if !explicitlySet["boot-args"] && file.BootArgs != "" {
		cfg.BootArgs = file.BootArgs
	}
	if !explicitlySet["root-fs-path"] && file.RootFSPath != "" {
		cfg.RootFSPath = file.RootFSPath
	}
	if !explicitlySet["listen-addr"] && file.ListenAddr != "" {
		cfg.ListenAddr = file.ListenAddr
	}
}
