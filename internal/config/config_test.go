package config

import (
	"flag"
	"testing"
)

func TestLoadRequiresMandatoryFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	_, err := Load(fs, []string{})
	if err == nil {
		t.Fatalf("expected an error when required flags are missing")
	}
}

func TestLoadAcceptsExplicitFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{
		"--firecracker-path", "/usr/bin/firecracker",
		"--kernel-image-path", "/boot/vmlinux",
		"--root-fs-path", "/var/fleetd/rootfs.img",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HostNetworkInterface != "ens33" {
		t.Fatalf("expected default host interface ens33, got %q", cfg.HostNetworkInterface)
	}
	if cfg.FirecrackerPath != "/usr/bin/firecracker" {
		t.Fatalf("expected flag override, got %q", cfg.FirecrackerPath)
	}
}
