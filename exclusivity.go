package roam

import (
	"fmt"
	"log/slog"
)

// resolveInit decides whether rc may enter Init next to the other active
// connections. It returns the connections that must be demoted to Deinit
// first, or ErrDisallowed when the oracle grants roaming to another
// connection. m.mu must be held.
func (m *Machine) resolveInit(rc *roamContext) ([]VdevID, error) {
	active := m.activeWith(rc.vdev)
	owner, exclusive := m.oracle.ExclusiveRoamOwner(active)
	if !exclusive {
		return nil, nil
	}
	if owner != rc.vdev {
		return nil, fmt.Errorf("roam: vdev %d: %w: vdev %d holds exclusive roaming",
			rc.vdev, ErrDisallowed, owner)
	}

	var demote []VdevID
	for _, id := range active {
		if id != rc.vdev {
			demote = append(demote, id)
		}
	}
	return demote, nil
}

// takePCL makes rc own its preferred channel list. A radio-wide list has a
// single owner. m.mu must be held.
func (m *Machine) takePCL(rc *roamContext, scope PCLScope) {
	rc.pclScope = scope
	rc.pclOwner = true
	if scope != PCLPerRadio {
		return
	}
	for id, other := range m.conns {
		if id != rc.vdev && other.pclOwner {
			other.pclOwner = false
			m.debug("pcl:released", slog.Uint64("vdev", uint64(id)), slog.Uint64("owner", uint64(rc.vdev)))
		}
	}
}

// concurrencyWork builds the requests that bring every active connection
// in line with the oracle: non-owners are demoted, then the enabled
// connections that remain re-apply their configuration. m.mu must be held.
func (m *Machine) concurrencyWork() []*work {
	active := m.active()
	reason := Reason{Code: ReasonConcurrencyChanged}

	var demote, update []*work
	owner, exclusive := m.oracle.ExclusiveRoamOwner(active)
	for _, id := range active {
		if exclusive && id != owner {
			demote = append(demote, &work{vdev: id, target: StateDeinit, reason: reason})
			continue
		}
		if m.conns[id].state == StateRSOEnabled {
			update = append(update, &work{vdev: id, target: StateRSOEnabled, reason: reason})
		}
	}
	return append(demote, update...)
}
