// Package network provisions the per-VM tap device and network namespace
// (VmNetwork) and the optional shared bridge (BridgeNetwork), mirroring the
// original project's net module but built on the Command Runner.
package network

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/cmdrunner"
	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

// VmNetwork is the tap device + namespace pairing for a single VM. Teardown
// is explicit via Close, not a finalizer: Go has no Drop, and the owning VM
// handle's Cleanup (internal/vm) is what closes it, after the hypervisor
// process is gone.
type VmNetwork struct {
	VmID            int
	TapDeviceName   string
	NamespaceName   string
	GuestIP         string
	GatewayIP       string
	hostNetworkIfc  string
	runner          *cmdrunner.Runner
	log             *zap.Logger
}

const maxVMsPerHost = 256

// Every VM's tap sits in its own network namespace, so the guest/gateway
// pair can be the same fixed /24 for every VM without collision — this is
// the address scheme spec.md's data model literally specifies, rather than
// a per-VM-unique subnet. Exported so callers reaching into a VM's
// namespace (e.g. the control plane's guest-agent RPC) use the same
// constant instead of repeating the literal.
const (
	FixedGuestIP   = "172.16.0.2"
	FixedGatewayIP = "172.16.0.1"
)

// Create allocates a namespace and tap device for vmID, moves the tap into
// the namespace, brings loopback and the tap up there, and gives the tap
// the gateway address.
func Create(runner *cmdrunner.Runner, log *zap.Logger, vmID int, hostNetworkIface string) (*VmNetwork, error) {
	if vmID < 0 || vmID >= maxVMsPerHost {
		return nil, fleeterr.New(fleeterr.KindNetworkSetup, "network.Create",
			fmt.Errorf("vm id %d out of range [0, %d)", vmID, maxVMsPerHost))
	}

	ns := fmt.Sprintf("fc-ns%d", vmID)
	tap := fmt.Sprintf("fc-tap%d", vmID)

	n := &VmNetwork{
		VmID:           vmID,
		TapDeviceName:  tap,
		NamespaceName:  ns,
		GuestIP:        FixedGuestIP,
		GatewayIP:      FixedGatewayIP,
		hostNetworkIfc: hostNetworkIface,
		runner:         runner,
		log:            log,
	}

	global := cmdrunner.Global()
	steps := [][]string{
		{"netns", "add", ns},
		{"tuntap", "add", tap, "mode", "tap"},
		{"link", "set", tap, "netns", ns},
	}
	for _, args := range steps {
		if err := runStep(runner, global, "ip", args...); err != nil {
			return nil, err
		}
	}

	named := cmdrunner.Named(ns)
	inNsSteps := [][]string{
		{"link", "set", "lo", "up"},
		{"link", "set", tap, "up"},
		{"addr", "add", n.GatewayIP + "/24", "dev", tap},
	}
	for _, args := range inNsSteps {
		if err := runStep(runner, named, "ip", args...); err != nil {
			return nil, err
		}
	}

	if err := installNAT(runner, ns, tap, hostNetworkIface); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("created vm network",
			zap.Int("vm_id", vmID), zap.String("namespace", ns), zap.String("tap", tap))
	}
	return n, nil
}

func installNAT(runner *cmdrunner.Runner, ns, tap, hostIface string) error {
	named := cmdrunner.Named(ns)
	rules := [][]string{
		{"-t", "nat", "-A", "POSTROUTING", "-o", tap, "-j", "MASQUERADE"},
	}
	for _, args := range rules {
		if err := runStep(runner, named, "iptables", args...); err != nil {
			return err
		}
	}
	return nil
}

// runStep runs program and treats both a spawn failure and a nonzero exit
// status as a fatal network-setup error: none of these invocations are
// idempotent, so any failure here leaves the VM's network half-built.
func runStep(runner *cmdrunner.Runner, ns cmdrunner.Namespace, program string, args ...string) error {
	res, err := runner.Run(ns, program, args...)
	if err != nil {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.runStep", err)
	}
	if !res.Success() {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.runStep",
			fmt.Errorf("%s %s exited %d: %s", program, strings.Join(args, " "), res.ExitCode, res.Output))
	}
	return nil
}

// Close deletes the VM's namespace with a single `ip netns del`, which
// removes the tap device and every rule inside the namespace along with
// it, and returns that command's error, if any.
func (n *VmNetwork) Close() error {
	global := cmdrunner.Global()
	err := runStep(n.runner, global, "ip", "netns", "del", n.NamespaceName)
	if n.log != nil {
		n.log.Info("tore down vm network", zap.Int("vm_id", n.VmID), zap.Error(err))
	}
	return err
}

// BridgeNetwork is an optional shared L2 bridge, kept for topologies that
// don't isolate every VM in its own namespace (e.g. snapshot restore targets
// that need to reach a fixed gateway IP).
type BridgeNetwork struct {
	Name      string
	IPAddress string
	runner    *cmdrunner.Runner
}

func NewBridge(runner *cmdrunner.Runner, name, ipAddress string) (*BridgeNetwork, error) {
	global := cmdrunner.Global()
	steps := [][]string{
		{"link", "add", "name", name, "type", "bridge"},
		{"addr", "add", ipAddress + "/24", "dev", name},
		{"link", "set", name, "up"},
	}
	for _, args := range steps {
		if err := runStep(runner, global, "ip", args...); err != nil {
			return nil, err
		}
	}
	return &BridgeNetwork{Name: name, IPAddress: ipAddress, runner: runner}, nil
}

func (b *BridgeNetwork) Close() error {
	return runStep(b.runner, cmdrunner.Global(), "ip", "link", "del", b.Name)
}
