//go:build linux
// +build linux

package roam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/josharian/native"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Vendor command identifiers for roam offload.
const (
	ouiQCA = 0x001374

	vendorSubcmdRoam      = 64
	vendorSubcmdRoamEvent = 65

	vendorGroup = "vendor"
)

// Attributes nested in NL80211_ATTR_VENDOR_DATA of roam commands and
// events.
const (
	attrRoamUnspec = iota
	attrRoamCommand
	attrRoamReason
	attrRoamRequestor
	attrRoamTriggers
	attrRoamPCLScope
	attrRoamPCLOwner
	attrRoamScanParams
	attrRoamStatus
)

var errNoVendorGroup = errors.New("nl80211 vendor multicast group unavailable")

// A client is the Linux implementation of Client, which sends roam offload
// commands as nl80211 vendor commands over generic netlink.
type client struct {
	c             *genetlink.Conn
	familyID      uint16
	familyVersion uint8
	groups        []genetlink.MulticastGroup

	// dial opens the separate connection used for multicast events.
	dial func() (*genetlink.Conn, error)
}

// newClient dials a generic netlink connection and verifies that nl80211
// is available for use by this package.
func newClient() (*client, error) {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return nil, err
	}

	// Make a best effort to apply the strict options set to provide better
	// errors and validation.
	for _, o := range []netlink.ConnOption{
		netlink.ExtendedAcknowledge,
		netlink.GetStrictCheck,
		netlink.NoENOBUFS,
	} {
		_ = c.SetOption(o, true)
	}

	return initClient(c)
}

func initClient(c *genetlink.Conn) (*client, error) {
	family, err := c.GetFamily(unix.NL80211_GENL_NAME)
	if err != nil {
		// Ensure the genl socket is closed on error to avoid leaking file
		// descriptors.
		_ = c.Close()
		return nil, err
	}

	return &client{
		c:             c,
		familyID:      family.ID,
		familyVersion: family.Version,
		groups:        family.Groups,
		dial: func() (*genetlink.Conn, error) {
			return genetlink.Dial(nil)
		},
	}, nil
}

// Close closes the client's generic netlink connection.
func (c *client) Close() error { return c.c.Close() }

// SetDeadline sets the read and write deadlines associated with the connection.
func (c *client) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}

// Send issues cmd as an NL80211_CMD_VENDOR request on the interface
// cmd.Vdev and waits for the kernel's acknowledgement.
func (c *client) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok {
		// Not every socket supports deadlines; the context was checked above.
		if err := c.c.SetDeadline(d); err == nil {
			defer c.c.SetDeadline(time.Time{})
		}
	}

	_, err := c.get(
		unix.NL80211_CMD_VENDOR,
		netlink.Acknowledge,
		cmd.Vdev,
		func(ae *netlink.AttributeEncoder) {
			ae.Uint32(unix.NL80211_ATTR_VENDOR_ID, ouiQCA)
			ae.Uint32(unix.NL80211_ATTR_VENDOR_SUBCMD, vendorSubcmdRoam)
			ae.Nested(unix.NL80211_ATTR_VENDOR_DATA, func(nae *netlink.AttributeEncoder) error {
				encodeCommand(nae, cmd)
				return nil
			})
		},
	)
	return classifyErr(err)
}

// encodeCommand encodes the vendor data of a roam command. STOP and
// ABORT_SCAN carry no configuration.
func encodeCommand(ae *netlink.AttributeEncoder, cmd Command) {
	ae.Uint8(attrRoamCommand, uint8(cmd.Kind))
	ae.Uint8(attrRoamReason, uint8(cmd.Reason.Code))
	if cmd.Reason.Requestor != RequestorNone {
		ae.Uint8(attrRoamRequestor, uint8(cmd.Reason.Requestor))
	}

	switch cmd.Kind {
	case CommandStop, CommandAbortScan:
		return
	}

	ae.Uint32(attrRoamTriggers, uint32(cmd.Config.Triggers))
	ae.Uint8(attrRoamPCLScope, uint8(cmd.Config.PCLScope))
	ae.Flag(attrRoamPCLOwner, cmd.Config.PCLOwner)
	ae.Bytes(attrRoamScanParams, newScanParams(cmd.Config.Scan).Serialize())
}

// classifyErr marks transient kernel failures as ErrResourceUnavailable.
// Any other error is a rejection.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, unix.ENOMEM),
		errors.Is(err, unix.ENOBUFS),
		errors.Is(err, unix.EBUSY),
		errors.Is(err, unix.EAGAIN),
		errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}
	return err
}

// Completions joins the nl80211 vendor multicast group on a dedicated
// connection and streams roam completion events.
func (c *client) Completions(ctx context.Context) (<-chan Completion, error) {
	var (
		groupID uint32
		found   bool
	)
	for _, g := range c.groups {
		if g.Name == vendorGroup {
			groupID = g.ID
			found = true
			break
		}
	}
	if !found {
		return nil, errNoVendorGroup
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	if err := conn.JoinGroup(groupID); err != nil {
		_ = conn.Close()
		return nil, err
	}

	out := make(chan Completion)
	go func() {
		defer close(out)
		defer conn.Close()

		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
			msgs, _, err := conn.Receive()
			if err != nil {
				var oerr *netlink.OpError
				if errors.As(err, &oerr) && oerr.Timeout() {
					continue
				}
				return
			}

			for _, m := range msgs {
				comp, ok, err := parseCompletion(m)
				if err != nil || !ok {
					continue
				}
				select {
				case out <- comp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// SupportsRoamOffload checks the vendor commands the wiphy of vdev
// advertises for the roam offload command.
func (c *client) SupportsRoamOffload(vdev VdevID) (bool, error) {
	msgs, err := c.get(
		unix.NL80211_CMD_GET_WIPHY,
		netlink.Dump,
		vdev,
		func(ae *netlink.AttributeEncoder) {
			ae.Flag(unix.NL80211_ATTR_SPLIT_WIPHY_DUMP, true)
		},
	)
	if err != nil {
		return false, err
	}

	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return false, err
		}

		var supported bool
		for ad.Next() {
			if ad.Type() != unix.NL80211_ATTR_VENDOR_DATA {
				continue
			}
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					// struct nl80211_vendor_cmd_info { u32 vendor_id; u32 subcmd; }
					b := nad.Bytes()
					if len(b) < 8 {
						continue
					}
					if native.Endian.Uint32(b[0:4]) == ouiQCA &&
						native.Endian.Uint32(b[4:8]) == vendorSubcmdRoam {
						supported = true
					}
				}
				return nil
			})
		}
		if err := ad.Err(); err != nil {
			return false, err
		}
		if supported {
			return true, nil
		}
	}

	return false, nil
}

// get performs a request/response interaction with nl80211 on behalf of
// the interface vdev.
func (c *client) get(
	cmd uint8,
	flags netlink.HeaderFlags,
	vdev VdevID,
	// May be nil; used to apply optional parameters.
	params func(ae *netlink.AttributeEncoder),
) ([]genetlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(vdev))
	if params != nil {
		// Optionally apply more parameters to the attribute encoder.
		params(ae)
	}

	return c.execute(cmd, flags, ae)
}

// execute executes the specified command with additional header flags and input
// netlink request attributes. The netlink.Request header flag is automatically
// set.
func (c *client) execute(
	cmd uint8,
	flags netlink.HeaderFlags,
	ae *netlink.AttributeEncoder,
) ([]genetlink.Message, error) {
	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}

	return c.c.Execute(
		genetlink.Message{
			Header: genetlink.Header{
				Command: cmd,
				Version: c.familyVersion,
			},
			Data: b,
		},
		// Always pass the genetlink family ID and request flag.
		c.familyID,
		netlink.Request|flags,
	)
}

// parseCompletion parses a roam completion from an nl80211 vendor event.
// It reports false for any other message.
func parseCompletion(m genetlink.Message) (Completion, bool, error) {
	if m.Header.Command != unix.NL80211_CMD_VENDOR {
		return Completion{}, false, nil
	}

	ad, err := netlink.NewAttributeDecoder(m.Data)
	if err != nil {
		return Completion{}, false, err
	}

	var (
		c              Completion
		vendor, subcmd uint32
		hasData        bool
	)
	for ad.Next() {
		switch ad.Type() {
		case unix.NL80211_ATTR_IFINDEX:
			c.Vdev = VdevID(ad.Uint32())
		case unix.NL80211_ATTR_VENDOR_ID:
			vendor = ad.Uint32()
		case unix.NL80211_ATTR_VENDOR_SUBCMD:
			subcmd = ad.Uint32()
		case unix.NL80211_ATTR_VENDOR_DATA:
			hasData = true
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					switch nad.Type() {
					case attrRoamCommand:
						c.Kind = CommandKind(nad.Uint8())
					case attrRoamStatus:
						c.Status = nad.Uint32()
					}
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return Completion{}, false, err
	}
	if vendor != ouiQCA || subcmd != vendorSubcmdRoamEvent || !hasData {
		return Completion{}, false, nil
	}

	c.At = time.Now()
	return c, true, nil
}
