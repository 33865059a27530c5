// Package types holds the wire-format records exchanged with the
// hypervisor's Unix-socket config API and the fleet's own control plane,
// mirroring original_source's vm/models.rs.
package types

// VmBootSource configures the guest kernel and its command line.
type VmBootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args"`
}

// VmDrive configures a single block device attached to the VM.
type VmDrive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

// VmNetworkInterface configures one tap-backed NIC. GuestMac is derived
// deterministically from the VM id so restored snapshots reattach to the
// same address.
type VmNetworkInterface struct {
	IfaceID     string `json:"iface_id"`
	HostDevName string `json:"host_dev_name"`
	GuestMac    string `json:"guest_mac,omitempty"`
}

// VmLogger configures the hypervisor's own log sink.
type VmLogger struct {
	LogPath       string `json:"log_path"`
	Level         string `json:"level"`
	ShowLevel     bool   `json:"show_level"`
	ShowLogOrigin bool   `json:"show_log_origin"`
}

type SnapshotType string

const (
	SnapshotTypeFull SnapshotType = "Full"
	SnapshotTypeDiff SnapshotType = "Diff"
)

// VmSnapshotRequest asks the hypervisor to pause-quiesce memory and disk
// state to the given paths.
type VmSnapshotRequest struct {
	SnapshotType   SnapshotType `json:"snapshot_type"`
	SnapshotPath   string       `json:"snapshot_path"`
	MemFilePath    string       `json:"mem_file_path"`
	Version        string       `json:"version"`
}

// MemoryBackend tells the hypervisor how to source guest memory on restore:
// either a flat file it reads directly, or a Unix socket it dials to speak
// the UFFD handshake. internal/snapshot provides a backend for that socket,
// but vm.LoadSnapshot passes this record through unchanged and does not
// start one; with "Uffd", nothing in this repository listens at
// BackendPath.
type MemoryBackend struct {
	BackendType string `json:"backend_type"` // "File" or "Uffd"
	BackendPath string `json:"backend_path"`
}

// LoadSnapshotRequest asks the hypervisor to restore a previously taken
// snapshot. ResumeVM is always sent false: the API caller must issue a
// separate resume action once restore completes, matching the hypervisor's
// own two-step contract.
type LoadSnapshotRequest struct {
	SnapshotPath  string        `json:"snapshot_path"`
	MemBackend    MemoryBackend `json:"mem_backend"`
	EnableDiffSnapshots bool    `json:"enable_diff_snapshots"`
	ResumeVM      bool          `json:"resume_vm"`
}

// InstanceActionRequest is the hypervisor's generic action envelope, used
// for InstanceStart. Pause and resume go through VmmState instead.
type InstanceActionRequest struct {
	ActionType string `json:"action_type"`
}

const (
	ActionInstanceStart = "InstanceStart"
)

// VmmState mirrors the hypervisor's own /vm endpoint for pause/resume.
type VmmState struct {
	State string `json:"state"` // "Paused" or "Resumed"
}

const (
	VmmStatePaused  = "Paused"
	VmmStateResumed = "Resumed"
)
