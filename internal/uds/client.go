package uds

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotRunning means nothing is listening on the control socket.
var ErrNotRunning = errors.New("no watch loop is running")

type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 10 * time.Second}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w (socket %s): %v", ErrNotRunning, c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}

// Call sends command and decodes a successful reply into out (may be nil).
// A failure reply is returned as *ErrorDetail.
func (c *Client) Call(command string, params, out any) error {
	req, err := NewRequest(command, params)
	if err != nil {
		return err
	}
	resp, err := c.Send(req)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error != nil {
			return resp.Error
		}
		return fmt.Errorf("%s failed", command)
	}
	if out != nil {
		if err := resp.DecodeData(out); err != nil {
			return fmt.Errorf("decode %s reply: %w", command, err)
		}
	}
	return nil
}
