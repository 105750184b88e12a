//go:build linux
// +build linux

package roam

import (
	"github.com/mdlayher/wifi"
)

// A LinkRegistry is a Registry backed by nl80211. A station link is up
// while it is authenticated or associated with an access point.
type LinkRegistry struct {
	c *wifi.Client
}

var _ Registry = &LinkRegistry{}

// NewLinkRegistry creates a LinkRegistry.
func NewLinkRegistry() (*LinkRegistry, error) {
	c, err := wifi.New()
	if err != nil {
		return nil, err
	}
	return &LinkRegistry{c: c}, nil
}

// Close releases resources used by a LinkRegistry.
func (r *LinkRegistry) Close() error {
	return r.c.Close()
}

// LinkUp implements Registry. Lookup errors report the link as down.
func (r *LinkRegistry) LinkUp(vdev VdevID) bool {
	ifis, err := r.c.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifis {
		if ifi.Index != int(vdev) || ifi.Type != wifi.InterfaceTypeStation {
			continue
		}
		bss, err := r.c.BSS(ifi)
		if err != nil {
			return false
		}
		switch bss.Status {
		case wifi.BSSStatusAuthenticated, wifi.BSSStatusAssociated:
			return true
		}
		return false
	}
	return false
}

// Stations returns the station interfaces of the system.
func (r *LinkRegistry) Stations() ([]VdevID, error) {
	ifis, err := r.c.Interfaces()
	if err != nil {
		return nil, err
	}

	var ids []VdevID
	for _, ifi := range ifis {
		// Interfaces without a name are devices without a netdev.
		if ifi.Type == wifi.InterfaceTypeStation && ifi.Name != "" {
			ids = append(ids, VdevID(ifi.Index))
		}
	}
	return ids, nil
}
