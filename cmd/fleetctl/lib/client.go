// Package lib is fleetctl's thin client for fleetd's control-plane HTTP
// API, mirroring the original CLI's client-wrapper shape.
package lib

import (
	"fmt"
	"io"
	"net/http"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(host string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{},
	}
}

func (c *Client) do(method, path string) (string, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to fleetd failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fleetd returned %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func (c *Client) ListVMs() (string, error) {
	return c.do(http.MethodGet, "/vms")
}

func (c *Client) CreateVM() (string, error) {
	return c.do(http.MethodPut, "/vms/create")
}

func (c *Client) ExecuteAction(vmID, action string) (string, error) {
	return c.do(http.MethodPut, fmt.Sprintf("/vms/%s/execute/%s", vmID, action))
}
