// Package vm implements the VM Lifecycle Engine: a typed state machine
// wrapping one hypervisor subprocess and its Unix-socket control channel.
// Each state is its own Go type; transitions consume the receiver and
// return the next state, mirroring the phantom-typed builder the original
// project uses, since Go has no move semantics to enforce it at compile
// time — callers are expected to stop using the old value, matching the
// convention the rest of this codebase follows for one-shot resources.
package vm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/cmdrunner"
	"github.com/hans-pistor/spark-firecracker/internal/fcclient"
	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
	"github.com/hans-pistor/spark-firecracker/internal/network"
	"github.com/hans-pistor/spark-firecracker/internal/types"
)

// dataDirectory is the per-VM scratch directory holding the socket, log,
// and any snapshot/memory artifacts.
type dataDirectory struct {
	path string
}

func (d dataDirectory) socketPath() string { return filepath.Join(d.path, "firecracker.socket") }
func (d dataDirectory) logPath() string    { return filepath.Join(d.path, "firecracker.log") }

// State carries the fields that survive every lifecycle transition.
type State struct {
	ID         string
	DataDir    string
	Network    *network.VmNetwork
	BootSource types.VmBootSource
}

func (s State) NetworkNamespace() cmdrunner.Namespace {
	if s.Network == nil {
		return cmdrunner.Global()
	}
	return cmdrunner.Named(s.Network.NamespaceName)
}

// NotStarted is a VM whose hypervisor process is up but not yet configured.
type NotStarted struct {
	state   State
	process *os.Process
	client  *fcclient.Client
	log     *zap.Logger
}

// New spawns the hypervisor binary inside the VM's network namespace,
// waits for its control socket, and returns the NotStarted handle.
func New(ctx context.Context, runner *cmdrunner.Runner, log *zap.Logger, hypervisorPath string, id string, net *network.VmNetwork) (*NotStarted, error) {
	dataDir := filepath.Join("/tmp/fleetd/vms", id)
	if err := os.RemoveAll(dataDir); err != nil {
		return nil, fleeterr.New(fleeterr.KindInvalidState, "vm.New", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fleeterr.New(fleeterr.KindInvalidState, "vm.New", err)
	}

	dd := dataDirectory{path: dataDir}

	state := State{ID: id, DataDir: dataDir, Network: net}
	ns := state.NetworkNamespace()

	var cmd *exec.Cmd
	if ns.String() == "global" {
		cmd = exec.CommandContext(ctx, hypervisorPath, "--api-sock", dd.socketPath())
	} else {
		args := append([]string{"netns", "exec", ns.String(), hypervisorPath, "--api-sock", dd.socketPath()})
		cmd = exec.CommandContext(ctx, "ip", args...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fleeterr.New(fleeterr.KindCommandSpawn, "vm.New", err)
	}

	client, err := fcclient.WaitForSocket(ctx, dd.socketPath(), 500*time.Millisecond)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	if log != nil {
		log.Info("spawned hypervisor process", zap.String("vm_id", id), zap.Int("pid", cmd.Process.Pid))
	}

	return &NotStarted{state: state, process: cmd.Process, client: client, log: log}, nil
}

// WithLogger configures the hypervisor's own log sink to a file inside the
// VM's data directory.
func (n *NotStarted) WithLogger(ctx context.Context) (*NotStarted, error) {
	dd := dataDirectory{path: n.state.DataDir}
	f, err := os.Create(dd.logPath())
	if err != nil {
		return nil, fleeterr.New(fleeterr.KindInvalidState, "vm.WithLogger", err)
	}
	f.Close()

	logger := types.VmLogger{
		LogPath:       dd.logPath(),
		Level:         "Debug",
		ShowLevel:     true,
		ShowLogOrigin: true,
	}
	if err := n.client.PutLogger(ctx, logger); err != nil {
		return nil, err
	}
	return n, nil
}

// SetupBootSource configures the guest kernel image and boot args.
func (n *NotStarted) SetupBootSource(ctx context.Context, bootSource types.VmBootSource) (*NotStarted, error) {
	if err := n.client.PutBootSource(ctx, bootSource); err != nil {
		return nil, err
	}
	n.state.BootSource = bootSource
	return n, nil
}

// WithDrive attaches a block device.
func (n *NotStarted) WithDrive(ctx context.Context, drive types.VmDrive) (*NotStarted, error) {
	if err := n.client.PutDrive(ctx, drive.DriveID, drive); err != nil {
		return nil, err
	}
	return n, nil
}

// AddNetworkInterface wires the VM's tap device into the hypervisor, using
// the guest MAC derived from the first four bytes of the VM id so restored
// snapshots reattach under the same address, then reissues setup_boot_source
// with boot_args augmented by the static IP configuration the guest kernel
// needs since there is no DHCP inside the namespace (original_source
// project/matchbox/src/vm/mod.rs's add_network_interface does the same
// re-PUT for the same reason).
func (n *NotStarted) AddNetworkInterface(ctx context.Context, guestMAC string) (*NotStarted, error) {
	if n.state.BootSource.KernelImagePath == "" {
		return nil, fleeterr.New(fleeterr.KindInvalidState, "vm.AddNetworkInterface",
			fmt.Errorf("boot source must be configured before adding a network interface"))
	}
	if n.state.Network == nil {
		return nil, fleeterr.New(fleeterr.KindInvalidState, "vm.AddNetworkInterface",
			fmt.Errorf("vm has no network attached"))
	}

	iface := types.VmNetworkInterface{
		IfaceID:     "eth0",
		HostDevName: n.state.Network.TapDeviceName,
		GuestMac:    guestMAC,
	}
	if err := n.client.PutNetworkInterface(ctx, iface.IfaceID, iface); err != nil {
		return nil, err
	}

	augmented := n.state.BootSource
	augmented.BootArgs = fmt.Sprintf("%s IP_ADDRESS::%s IFACE::%s GATEWAY::%s",
		augmented.BootArgs, n.state.Network.GuestIP, iface.IfaceID, n.state.Network.GatewayIP)
	return n.SetupBootSource(ctx, augmented)
}

// Start issues InstanceStart, transitioning to the Started state.
func (n *NotStarted) Start(ctx context.Context) (*Started, error) {
	if err := n.client.PutAction(ctx, types.InstanceActionRequest{ActionType: types.ActionInstanceStart}); err != nil {
		return nil, err
	}
	if n.log != nil {
		n.log.Info("started vm", zap.String("vm_id", n.state.ID))
	}
	return &Started{state: n.state, process: n.process, client: n.client, log: n.log}, nil
}

// LoadSnapshot restores a previously taken snapshot. resume_vm is always
// sent false; callers must call Resume explicitly once this returns,
// matching the hypervisor's own two-step restore contract.
func (n *NotStarted) LoadSnapshot(ctx context.Context, req types.LoadSnapshotRequest) (*Paused, error) {
	req.ResumeVM = false
	if err := n.client.PutSnapshotLoad(ctx, req); err != nil {
		return nil, err
	}
	if n.log != nil {
		n.log.Info("restored vm from snapshot", zap.String("vm_id", n.state.ID), zap.String("snapshot_path", req.SnapshotPath))
	}
	return &Paused{state: n.state, process: n.process, client: n.client, log: n.log}, nil
}

// Started is a running VM that can be paused or stopped.
type Started struct {
	state   State
	process *os.Process
	client  *fcclient.Client
	log     *zap.Logger
}

func (s *Started) ID() string                     { return s.state.ID }
func (s *Started) NetworkNamespace() cmdrunner.Namespace { return s.state.NetworkNamespace() }
func (s *Started) DataDir() string                { return s.state.DataDir }

func (s *Started) Pause(ctx context.Context) (*Paused, error) {
	if err := s.client.PatchVmState(ctx, types.VmmState{State: types.VmmStatePaused}); err != nil {
		return nil, err
	}
	return &Paused{state: s.state, process: s.process, client: s.client, log: s.log}, nil
}

// Cleanup terminates the hypervisor process and tears down the VM's
// network, in that order so no packets can land on a half-torn-down tap.
func (s *Started) Cleanup(ctx context.Context) error {
	return cleanup(s.state, s.process, s.log)
}

// Paused is a suspended VM: its memory is quiesced and can be snapshotted
// or resumed.
type Paused struct {
	state   State
	process *os.Process
	client  *fcclient.Client
	log     *zap.Logger
}

func (p *Paused) ID() string { return p.state.ID }

func (p *Paused) Resume(ctx context.Context) (*Started, error) {
	if err := p.client.PatchVmState(ctx, types.VmmState{State: types.VmmStateResumed}); err != nil {
		return nil, err
	}
	return &Started{state: p.state, process: p.process, client: p.client, log: p.log}, nil
}

// Snapshot writes a full snapshot + memory file pair to dir and returns to
// the Paused state (the hypervisor stays paused after a snapshot).
func (p *Paused) Snapshot(ctx context.Context, dir string) (*Paused, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fleeterr.New(fleeterr.KindSnapshotIO, "vm.Snapshot", err)
	}
	req := types.VmSnapshotRequest{
		SnapshotType: types.SnapshotTypeFull,
		SnapshotPath: filepath.Join(dir, "snapshot_file"),
		MemFilePath:  filepath.Join(dir, "mem_file"),
		Version:      "1.1.0",
	}
	if err := p.client.PutSnapshotCreate(ctx, req); err != nil {
		return nil, err
	}
	if p.log != nil {
		p.log.Info("snapshotted vm", zap.String("vm_id", p.state.ID), zap.String("dir", dir))
	}
	return p, nil
}

func (p *Paused) Cleanup(ctx context.Context) error {
	return cleanup(p.state, p.process, p.log)
}

func cleanup(state State, process *os.Process, log *zap.Logger) error {
	var firstErr error
	if process != nil {
		if err := process.Kill(); err != nil && firstErr == nil {
			firstErr = fleeterr.New(fleeterr.KindInvalidState, "vm.Cleanup", err)
		}
		_, _ = process.Wait()
	}
	if state.Network != nil {
		if err := state.Network.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if log != nil {
		log.Info("cleaned up vm", zap.String("vm_id", state.ID), zap.Error(firstErr))
	}
	return firstErr
}

// DeriveGuestMAC builds the AA:FC:xx:xx:xx:xx guest MAC from the first four
// bytes of a VM's uuid, matching the original restore contract so a
// restored VM always comes back up with the same link-layer address.
func DeriveGuestMAC(idBytes [4]byte) string {
	return fmt.Sprintf("AA:FC:%02x:%02x:%02x:%02x", idBytes[0], idBytes[1], idBytes[2], idBytes[3])
}
