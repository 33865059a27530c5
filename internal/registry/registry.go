// Package registry is the Fleet Registry (C6): the map from VM id to its
// live handle, plus the namespace-entering ingress hook used to reach a
// VM's guest agent from the control plane's goroutine.
package registry

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/vishvananda/netns"
	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
	"github.com/hans-pistor/spark-firecracker/internal/vm"
)

// Registry owns every running VM known to this daemon.
type Registry struct {
	mu       sync.RWMutex
	vms      map[string]*vm.Started
	reserved map[string]struct{}
	log      *zap.Logger
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		vms:      make(map[string]*vm.Started),
		reserved: make(map[string]struct{}),
		log:      log,
	}
}

// Reserve claims id for an in-flight create/resume before any hypervisor
// process is spawned, rejecting a caller-supplied id that collides with an
// id already registered or already reserved by another in-flight request.
// spec.md requires that a colliding id never results in a spawned
// hypervisor, which means the collision check has to happen before
// vm.New, not after.
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.vms[id]; exists {
		return fleeterr.New(fleeterr.KindAlreadyExists, "registry.Reserve",
			fmt.Errorf("vm id %s already in use", id))
	}
	if _, exists := r.reserved[id]; exists {
		return fleeterr.New(fleeterr.KindAlreadyExists, "registry.Reserve",
			fmt.Errorf("vm id %s already in use", id))
	}
	r.reserved[id] = struct{}{}
	return nil
}

// Release frees a Reserve'd id without ever inserting a VM for it, used
// when a reserved create/resume request fails before the VM starts.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, id)
}

// Insert records a started VM under id, clearing any prior reservation.
func (r *Registry) Insert(id string, v *vm.Started) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, id)
	r.vms[id] = v
}

func (r *Registry) Get(id string) (*vm.Started, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vms[id]
	return v, ok
}

func (r *Registry) Remove(id string) (*vm.Started, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vms[id]
	if ok {
		delete(r.vms, id)
	}
	return v, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.vms))
	for id := range r.vms {
		ids = append(ids, id)
	}
	return ids
}

// WithNamespace runs fn with the calling goroutine's OS thread moved into
// the named VM's network namespace, restoring the original namespace on
// every exit path. The OS thread is locked for the duration: setns(2) is a
// per-thread property, so the Go scheduler must not migrate this goroutine
// to a different thread mid-operation.
func (r *Registry) WithNamespace(id string, fn func(ctx context.Context) (string, error)) (string, error) {
	r.mu.RLock()
	v, ok := r.vms[id]
	r.mu.RUnlock()
	if !ok {
		return "", fleeterr.New(fleeterr.KindNotFound, "registry.WithNamespace",
			fmt.Errorf("no vm with id %s present", id))
	}

	ns := v.NetworkNamespace()
	if ns.String() == "global" {
		return "", fleeterr.New(fleeterr.KindInvalidState, "registry.WithNamespace",
			fmt.Errorf("vm %s has no dedicated network namespace", id))
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origNS, err := netns.Get()
	if err != nil {
		return "", fleeterr.New(fleeterr.KindNetworkSetup, "registry.WithNamespace", err)
	}
	defer origNS.Close()

	targetNS, err := netns.GetFromName(ns.String())
	if err != nil {
		return "", fleeterr.New(fleeterr.KindNetworkSetup, "registry.WithNamespace", err)
	}
	defer targetNS.Close()

	if !origNS.Equal(targetNS) {
		if err := netns.Set(targetNS); err != nil {
			return "", fleeterr.New(fleeterr.KindNetworkSetup, "registry.WithNamespace", err)
		}
		defer func() {
			if err := netns.Set(origNS); err != nil && r.log != nil {
				r.log.Error("failed to restore original network namespace", zap.Error(err))
			}
		}()
	}

	return fn(context.Background())
}
