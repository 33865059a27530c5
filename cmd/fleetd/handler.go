package main

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/cmdrunner"
	"github.com/hans-pistor/spark-firecracker/internal/config"
	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
	"github.com/hans-pistor/spark-firecracker/internal/guestrpc"
	"github.com/hans-pistor/spark-firecracker/internal/network"
	"github.com/hans-pistor/spark-firecracker/internal/registry"
	"github.com/hans-pistor/spark-firecracker/internal/types"
	"github.com/hans-pistor/spark-firecracker/internal/vm"
)

const guestAgentPort = 3000

type handler struct {
	cfg      *config.Config
	runner   *cmdrunner.Runner
	registry *registry.Registry
	log      *zap.Logger
}

func newHandler(cfg *config.Config, runner *cmdrunner.Runner, reg *registry.Registry, log *zap.Logger) *handler {
	return &handler{cfg: cfg, runner: runner, registry: reg, log: log}
}

// writeError renders every handler failure as "Something went wrong: <err>"
// with HTTP 500, matching the original control plane's AppError contract.
func writeError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Something went wrong: %v", err)
}

func (h *handler) listVMs(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.List()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ids)
}

func (h *handler) createVM(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()

	id, err := h.resolveVMID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.registry.Release(id.String())

	net_, err := network.Create(h.runner, h.log, vmSlot(id), h.cfg.HostNetworkInterface)
	if err != nil {
		writeError(w, err)
		return
	}

	notStarted, err := vm.New(ctx, h.runner, h.log, h.cfg.FirecrackerPath, id.String(), net_)
	if err != nil {
		_ = net_.Close()
		writeError(w, err)
		return
	}

	notStarted, err = notStarted.WithLogger(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	notStarted, err = notStarted.SetupBootSource(ctx, types.VmBootSource{
		KernelImagePath: h.cfg.KernelImagePath,
		BootArgs:        h.cfg.BootArgs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	guestMAC := vm.DeriveGuestMAC(firstFourBytes(id))
	notStarted, err = notStarted.AddNetworkInterface(ctx, guestMAC)
	if err != nil {
		writeError(w, err)
		return
	}

	notStarted, err = notStarted.WithDrive(ctx, types.VmDrive{
		DriveID:      "rootfs",
		PathOnHost:   h.cfg.RootFSPath,
		IsRootDevice: true,
		IsReadOnly:   false,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	started, err := notStarted.Start(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	h.registry.Insert(id.String(), started)
	fmt.Fprintf(w, "Successfully spawned vm with id %s", id)
}

func (h *handler) resumeVM(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()

	var req types.LoadSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.resolveVMID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.registry.Release(id.String())

	net_, err := network.Create(h.runner, h.log, vmSlot(id), h.cfg.HostNetworkInterface)
	if err != nil {
		writeError(w, err)
		return
	}

	notStarted, err := vm.New(ctx, h.runner, h.log, h.cfg.FirecrackerPath, id.String(), net_)
	if err != nil {
		_ = net_.Close()
		writeError(w, err)
		return
	}

	notStarted, err = notStarted.WithLogger(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	paused, err := notStarted.LoadSnapshot(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	started, err := paused.Resume(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	h.registry.Insert(id.String(), started)
	fmt.Fprintf(w, "Successfully resumed vm with id %s", id)
}

func (h *handler) executeAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vmID, action := vars["vmid"], vars["action"]

	if action == "snapshot" {
		h.snapshotVM(w, vmID)
		return
	}

	var method guestrpc.Method
	switch action {
	case "ping":
		method = guestrpc.MethodPing
	case "shutdown":
		method = guestrpc.MethodShutdown
	case "get-dmesg":
		method = guestrpc.MethodGetDmesg
	default:
		writeError(w, fmt.Errorf("unknown command: %s", action))
		return
	}

	result, err := h.registry.WithNamespace(vmID, func(ctx context.Context) (string, error) {
		resp, err := guestrpc.Call(fmt.Sprintf("%s:%d", network.FixedGuestIP, guestAgentPort), method)
		if err != nil {
			return "", err
		}
		if !resp.OK {
			return "", fmt.Errorf("guest agent error: %s", resp.Error)
		}
		if resp.Output != "" {
			return resp.Output, nil
		}
		return "ok", nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	fmt.Fprint(w, result)
}

func (h *handler) snapshotVM(w http.ResponseWriter, vmID string) {
	ctx := context.Background()

	started, ok := h.registry.Remove(vmID)
	if !ok {
		writeError(w, fmt.Errorf("no VM with id %s present", vmID))
		return
	}

	paused, err := started.Pause(ctx)
	if err != nil {
		h.registry.Insert(vmID, started)
		writeError(w, err)
		return
	}

	dir := filepath.Join("/tmp/fleetd/vms", vmID, "snapshot")
	paused, err = paused.Snapshot(ctx, dir)
	if err != nil {
		writeError(w, err)
		return
	}

	resumed, err := paused.Resume(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	h.registry.Insert(vmID, resumed)
	fmt.Fprintf(w, "Successfully took snapshot of vm %s. Stored snapshot file at %s and memory file at %s",
		vmID, filepath.Join(dir, "snapshot_file"), filepath.Join(dir, "mem_file"))
}

// resolveVMID honors a caller-supplied "vm_id" query parameter (so a client
// that wants a specific, predictable id can request one) or mints a fresh
// uuid otherwise, then reserves it in the registry before any hypervisor is
// spawned. A collision with an id already registered or already reserved by
// another in-flight request returns fleeterr.KindAlreadyExists without
// creating any network or hypervisor resources.
func (h *handler) resolveVMID(r *http.Request) (uuid.UUID, error) {
	var id uuid.UUID
	if raw := r.URL.Query().Get("vm_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return uuid.UUID{}, fleeterr.New(fleeterr.KindInvalidState, "handler.resolveVMID", err)
		}
		id = parsed
	} else {
		id = uuid.New()
	}

	if err := h.registry.Reserve(id.String()); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// vmSlot derives a small per-host network slot number from a VM's uuid so
// tap device and namespace names stay within the host's address budget.
func vmSlot(id uuid.UUID) int {
	sum := md5.Sum(id[:])
	return int(sum[0])
}

func firstFourBytes(id uuid.UUID) [4]byte {
	var b [4]byte
	copy(b[:], id[:4])
	return b
}
