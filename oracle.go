package roam

// PCLScope says how the preferred channel list is applied.
type PCLScope uint8

// PCL scopes.
const (
	// PCLPerRadio applies a single list radio-wide; one connection owns it.
	PCLPerRadio PCLScope = iota
	// PCLPerConnection gives each connection its own list.
	PCLPerConnection
)

func (s PCLScope) String() string {
	if s == PCLPerConnection {
		return "per-connection"
	}
	return "per-radio"
}

// An Oracle resolves cross-connection policy. The answers are
// authoritative; the state machine never derives a priority itself.
//
// active lists the connections that currently hold a roam context outside
// Deinit, oldest first; a connection asking to initialize is last.
type Oracle interface {
	// ExclusiveRoamOwner returns the single connection allowed to roam, or
	// false when every active connection may roam.
	ExclusiveRoamOwner(active []VdevID) (VdevID, bool)
	// PCLScope reports how the preferred channel list is applied.
	PCLScope(active []VdevID) PCLScope
}

// Capabilities is an immutable snapshot of the radio's concurrency
// capabilities, taken at radio bring-up.
type Capabilities struct {
	// DualSTARoam reports that firmware can roam on two station
	// connections at once.
	DualSTARoam bool
	// Primary, when HasPrimary is set, is the connection preferred for
	// roaming when only one may roam.
	Primary    VdevID
	HasPrimary bool
}

// A PolicyOracle is the default Oracle. Without dual-station roam support
// it grants roaming to the primary connection when one is active and to
// the most recently initialized connection otherwise.
type PolicyOracle struct {
	caps Capabilities
}

var _ Oracle = PolicyOracle{}

// NewPolicyOracle returns a PolicyOracle for caps.
func NewPolicyOracle(caps Capabilities) PolicyOracle {
	return PolicyOracle{caps: caps}
}

// ExclusiveRoamOwner implements Oracle.
func (o PolicyOracle) ExclusiveRoamOwner(active []VdevID) (VdevID, bool) {
	if o.caps.DualSTARoam || len(active) < 2 {
		return 0, false
	}
	if o.caps.HasPrimary {
		for _, id := range active {
			if id == o.caps.Primary {
				return id, true
			}
		}
	}
	return active[len(active)-1], true
}

// PCLScope implements Oracle.
func (o PolicyOracle) PCLScope(active []VdevID) PCLScope {
	if o.caps.DualSTARoam && len(active) > 1 {
		return PCLPerConnection
	}
	return PCLPerRadio
}
