// Package client talks to the nutmon daemon's control API over its
// unix socket (loopback TCP on Windows).
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Client communicates with the nutmon daemon.
type Client struct {
	network string
	addr    string

	httpClient *http.Client
}

// New builds a client for the given endpoint. network is "unix" or
// "tcp"; addr is the socket path or host:port.
func New(network, addr string) *Client {
	return &Client{
		network: network,
		addr:    addr,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					conn, err := d.DialContext(ctx, network, addr)
					if err != nil {
						if os.IsNotExist(err) {
							return nil, ErrDaemonNotRunning
						}
						if os.IsPermission(err) {
							return nil, ErrPermissionDenied
						}
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// Send issues one request and returns the response body.
func (c *Client) Send(method, path, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"addr":   c.addr,
	}).Debug("sending request")

	url := "http://nutmon" + path
	req, err := http.NewRequest(method, url, strings.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	body := string(b)

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("got %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// Get issues a GET request.
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(path, data string) (string, error) {
	return c.Send(http.MethodPatch, path, data)
}

// Post issues a POST request with an optional JSON body.
func (c *Client) Post(path, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}
