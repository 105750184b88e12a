//go:build linux
// +build linux

package roam

import (
	"context"
	"time"
)

// A Client is a Channel that delivers roam offload commands to firmware as
// nl80211 vendor commands.
type Client struct {
	c *client
}

var _ Channel = &Client{}

// Dial creates a new Client.
func Dial() (*Client, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}

	return &Client{
		c: c,
	}, nil
}

// Close releases resources used by a Client.
func (c *Client) Close() error {
	return c.c.Close()
}

// Send implements Channel. The context deadline, if any, bounds the wait
// for the firmware's accept or reject.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	return c.c.Send(ctx, cmd)
}

// Completions streams asynchronous roam command completions until ctx is
// canceled. The returned channel is closed when streaming stops.
func (c *Client) Completions(ctx context.Context) (<-chan Completion, error) {
	return c.c.Completions(ctx)
}

// SupportsRoamOffload reports whether the wiphy behind vdev advertises the
// roam offload vendor command.
func (c *Client) SupportsRoamOffload(vdev VdevID) (bool, error) {
	return c.c.SupportsRoamOffload(vdev)
}

// SetDeadline sets the read and write deadlines associated with the connection.
func (c *Client) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}
