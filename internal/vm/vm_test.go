package vm

import "testing"

func TestDeriveGuestMAC(t *testing.T) {
	mac := DeriveGuestMAC([4]byte{0xde, 0xad, 0xbe, 0xef})
	want := "AA:FC:de:ad:be:ef"
	if mac != want {
		t.Fatalf("expected %q, got %q", want, mac)
	}
}

func TestStateNetworkNamespaceDefaultsToGlobal(t *testing.T) {
	s := State{ID: "vm-1"}
	if s.NetworkNamespace().String() != "global" {
		t.Fatalf("expected global namespace when no network is attached")
	}
}
