// Package fcclient is a minimal HTTP/1.1 client for the hypervisor's
// Unix-socket configuration API. It intentionally does not retry requests:
// a failed PUT means the hypervisor rejected the configuration, and
// retrying a rejected config is never correct.
package fcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

// Client talks to one VM's hypervisor socket. A fresh http.Transport is
// used (not a shared/global one) because each Client is bound to a single
// socket path for the lifetime of one VM, and the hypervisor process exits
// when the VM does — there's nothing to gain from connection reuse across
// VMs, and a shared transport would need a per-socket-path dial switch for
// no benefit.
type Client struct {
	socketPath string
	http       *http.Client
}

// New builds a client dialing socketPath for every request. Keep-alives are
// disabled: holding an idle connection open to the hypervisor's control
// socket can block it from exiting cleanly during VM teardown.
func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
		DisableKeepAlives: true,
	}
	return &Client{
		socketPath: socketPath,
		http:       &http.Client{Transport: transport},
	}
}

// WaitForSocket polls for the hypervisor's socket file to appear and start
// answering requests, polling every 10ms until timeout elapses.
func WaitForSocket(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fleeterr.New(fleeterr.KindSocketTimeout, "fcclient.WaitForSocket", ctx.Err())
		case <-ticker.C:
			if _, err := os.Stat(socketPath); err != nil {
				continue
			}
			c := New(socketPath)
			if err := c.getVersion(ctx); err == nil {
				return c, nil
			}
		}
	}
}

func (c *Client) getVersion(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/version", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fleeterr.New(fleeterr.KindHypervisorAPI, "fcclient.do", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return nil, fleeterr.New(fleeterr.KindHypervisorAPI, "fcclient.do", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fleeterr.New(fleeterr.KindHypervisorAPI, "fcclient.do", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fleeterr.New(fleeterr.KindHypervisorAPI, "fcclient.do", err)
	}

	if resp.StatusCode >= 300 {
		return respBody, fleeterr.New(fleeterr.KindHypervisorAPI, "fcclient.do",
			fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	return respBody, nil
}

func (c *Client) PutLogger(ctx context.Context, logger interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/logger", logger)
	return err
}

func (c *Client) PutBootSource(ctx context.Context, bootSource interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/boot-source", bootSource)
	return err
}

func (c *Client) PutDrive(ctx context.Context, driveID string, drive interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/drives/"+driveID, drive)
	return err
}

func (c *Client) PutNetworkInterface(ctx context.Context, ifaceID string, iface interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/network-interfaces/"+ifaceID, iface)
	return err
}

func (c *Client) PutAction(ctx context.Context, action interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/actions", action)
	return err
}

func (c *Client) PatchVmState(ctx context.Context, state interface{}) error {
	_, err := c.do(ctx, http.MethodPatch, "/vm", state)
	return err
}

func (c *Client) PutSnapshotCreate(ctx context.Context, req interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/snapshot/create", req)
	return err
}

func (c *Client) PutSnapshotLoad(ctx context.Context, req interface{}) error {
	_, err := c.do(ctx, http.MethodPut, "/snapshot/load", req)
	return err
}
