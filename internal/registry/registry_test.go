package registry

import (
	"context"
	"testing"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

func TestInsertGetRemove(t *testing.T) {
	r := New(nil)

	r.Insert("vm-1", nil)
	if _, ok := r.Get("vm-1"); !ok {
		t.Fatalf("expected vm-1 to be present after insert")
	}

	ids := r.List()
	if len(ids) != 1 || ids[0] != "vm-1" {
		t.Fatalf("expected [vm-1], got %v", ids)
	}

	if _, ok := r.Remove("vm-1"); !ok {
		t.Fatalf("expected remove to report the entry existed")
	}
	if _, ok := r.Get("vm-1"); ok {
		t.Fatalf("expected vm-1 to be gone after remove")
	}
}

func TestReserveRejectsCollisionWithRegistered(t *testing.T) {
	r := New(nil)
	r.Insert("vm-1", nil)

	if err := r.Reserve("vm-1"); !fleeterr.Is(err, fleeterr.KindAlreadyExists) {
		t.Fatalf("expected KindAlreadyExists, got %v", err)
	}
}

func TestReserveRejectsCollisionWithInFlightReservation(t *testing.T) {
	r := New(nil)
	if err := r.Reserve("vm-1"); err != nil {
		t.Fatalf("unexpected error on first reserve: %v", err)
	}

	if err := r.Reserve("vm-1"); !fleeterr.Is(err, fleeterr.KindAlreadyExists) {
		t.Fatalf("expected KindAlreadyExists, got %v", err)
	}
}

func TestReleaseFreesAReservationForReuse(t *testing.T) {
	r := New(nil)
	if err := r.Reserve("vm-1"); err != nil {
		t.Fatalf("unexpected error on reserve: %v", err)
	}
	r.Release("vm-1")

	if err := r.Reserve("vm-1"); err != nil {
		t.Fatalf("expected reservation to be free after release, got: %v", err)
	}
}

func TestInsertClearsReservation(t *testing.T) {
	r := New(nil)
	if err := r.Reserve("vm-1"); err != nil {
		t.Fatalf("unexpected error on reserve: %v", err)
	}
	r.Insert("vm-1", nil)

	// A second Reserve should fail because vm-1 is now registered, not
	// because the stale reservation entry was left behind.
	if err := r.Reserve("vm-1"); !fleeterr.Is(err, fleeterr.KindAlreadyExists) {
		t.Fatalf("expected KindAlreadyExists, got %v", err)
	}
}

func TestWithNamespaceReportsNotFound(t *testing.T) {
	r := New(nil)
	_, err := r.WithNamespace("missing", func(ctx context.Context) (string, error) {
		return "", nil
	})
	if err == nil {
		t.Fatalf("expected an error for an unknown vm id")
	}
}
