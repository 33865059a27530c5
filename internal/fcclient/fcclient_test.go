package fcclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"
)

func startFakeHypervisor(t *testing.T, socketPath string) func() {
	t.Helper()
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to listen on fake socket: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"firecracker_version": "1.1.0"})
	})
	mux.HandleFunc("/boot-source", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Handler: mux}
	go server.Serve(l)

	return func() {
		server.Close()
	}
}

func TestWaitForSocketSucceeds(t *testing.T) {
	dir := t.TempDir()
	socketPath := dir + "/fc.sock"
	stop := startFakeHypervisor(t, socketPath)
	defer stop()

	c, err := WaitForSocket(context.Background(), socketPath, time.Second)
	if err != nil {
		t.Fatalf("unexpected error waiting for socket: %v", err)
	}
	if c == nil {
		t.Fatalf("expected a non-nil client")
	}
}

func TestPutBootSource(t *testing.T) {
	dir := t.TempDir()
	socketPath := dir + "/fc.sock"
	stop := startFakeHypervisor(t, socketPath)
	defer stop()

	c := New(socketPath)
	err := c.PutBootSource(context.Background(), map[string]string{
		"kernel_image_path": "/boot/vmlinux",
		"boot_args":         "console=ttyS0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForSocketTimesOut(t *testing.T) {
	dir := t.TempDir()
	socketPath := dir + "/never-created.sock"

	_, err := WaitForSocket(context.Background(), socketPath, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error when the socket never appears")
	}
}
