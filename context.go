package roam

// settings are the caller-supplied parts of a roam context. A request that
// fails restores the settings it introduced.
type settings struct {
	triggers           Triggers
	scan               ScanParams
	requestors         RequestorSet
	supplicantDisabled bool
}

// A roamContext is the per-connection record owned by the Machine. It is
// only touched with Machine.mu held.
type roamContext struct {
	vdev  VdevID
	state State
	settings

	pclOwner bool
	pclScope PCLScope
	// initSeq orders connections by the time they entered Init.
	initSeq    uint64
	lastReason Reason
}

func newRoamContext(vdev VdevID, triggers Triggers, scan ScanParams) *roamContext {
	return &roamContext{
		vdev: vdev,
		settings: settings{
			triggers: triggers,
			scan:     scan,
		},
	}
}

// deinit clears the per-session roam configuration. Triggers, scan
// parameters and requestor vetoes survive: they belong to their callers.
func (rc *roamContext) deinit() {
	rc.state = StateDeinit
	rc.supplicantDisabled = false
	rc.pclOwner = false
	rc.pclScope = PCLPerRadio
	rc.initSeq = 0
}

func (rc *roamContext) offloadConfig() OffloadConfig {
	return OffloadConfig{
		Triggers: rc.triggers,
		Scan:     rc.scan,
		PCLScope: rc.pclScope,
		PCLOwner: rc.pclOwner,
	}
}

func (rc *roamContext) snapshot() Snapshot {
	return Snapshot{
		Vdev:               rc.vdev,
		State:              rc.state,
		Triggers:           rc.triggers,
		Scan:               rc.scan,
		Requestors:         rc.requestors,
		SupplicantDisabled: rc.supplicantDisabled,
		PCLOwner:           rc.pclOwner,
		PCLScope:           rc.pclScope,
		LastReason:         rc.lastReason,
	}
}

// A Snapshot is a read-only copy of a connection's roam context, for
// diagnostics and user interfaces.
type Snapshot struct {
	Vdev               VdevID
	State              State
	Triggers           Triggers
	Scan               ScanParams
	Requestors         RequestorSet
	SupplicantDisabled bool
	PCLOwner           bool
	PCLScope           PCLScope
	// LastReason is the reason of the last successful transition.
	LastReason Reason
	// LastCompletion is the most recent asynchronous firmware completion,
	// if any.
	LastCompletion *Completion
}
