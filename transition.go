package roam

// policy is the radio-wide input to a transition decision.
type policy struct {
	rsoAllowed bool
	linkUp     bool
}

// A step is one edge of the roam state graph.
type step struct {
	from, to State
	// cmd is issued before the edge is taken; zero means no command.
	cmd CommandKind
	// retarget, when set, replaces the request's target once this edge is
	// taken, with reason retargetReason.
	retarget       bool
	newTarget      State
	retargetReason Reason
}

// decide computes the next edge from rc's state toward target. It reports
// done when nothing is left to do and returns an error for local policy
// failures. decide has no side effects.
func decide(rc *roamContext, target State, reason Reason, p policy) (s step, done bool, err error) {
	if target != StateDeinit && !p.linkUp {
		return step{}, true, nil
	}

	cur := rc.state
	s.from = cur
	switch cur {
	case StateDeinit:
		switch target {
		case StateInit:
			if rc.triggers == 0 {
				return step{}, false, ErrNoTriggers
			}
			s.to = StateInit
			return s, false, nil
		case StateRSOEnabled:
			if err := enableAllowed(rc, p); err != nil {
				return step{}, false, err
			}
			s.to = StateInit
			return s, false, nil
		default:
			return step{}, true, nil
		}

	case StateInit:
		switch target {
		case StateRSOEnabled:
			if err := enableAllowed(rc, p); err != nil {
				return step{}, false, err
			}
			s.to = StateRSOEnabled
			s.cmd = CommandStart
			if rc.supplicantDisabled {
				// Firmware needs one START to set up its roaming engine even
				// when the supplicant keeps roaming off.
				s.retarget = true
				s.newTarget = StateRSOStopped
				s.retargetReason = Reason{Code: ReasonSupplicantDisabled}
			}
			return s, false, nil
		case StateDeinit:
			s.to = StateDeinit
			return s, false, nil
		default:
			return step{}, true, nil
		}

	case StateRSOStopped:
		switch target {
		case StateRSOEnabled:
			if rc.supplicantDisabled {
				return step{}, true, nil
			}
			if err := enableAllowed(rc, p); err != nil {
				return step{}, false, err
			}
			s.to = StateRSOEnabled
			s.cmd = CommandStart
			return s, false, nil
		case StateDeinit:
			s.to = StateDeinit
			return s, false, nil
		default:
			return step{}, true, nil
		}

	case StateRSOEnabled:
		switch target {
		case StateRSOEnabled:
			if !reason.Code.reconfigures() {
				return step{}, true, nil
			}
			s.to = StateRSOEnabled
			s.cmd = CommandUpdateConfig
			return s, false, nil
		case StateRSOStopped, StateDeinit:
			s.to = StateRSOStopped
			s.cmd = CommandStop
			return s, false, nil
		default:
			return step{}, true, nil
		}
	}

	return step{}, true, nil
}

// enableAllowed checks the local conditions for entering RSOEnabled.
func enableAllowed(rc *roamContext, p policy) error {
	switch {
	case !p.rsoAllowed:
		return ErrDisallowed
	case !rc.requestors.Empty():
		return &vetoError{requestors: rc.requestors}
	case rc.triggers == 0:
		return ErrNoTriggers
	}
	return nil
}

// vetoError reports which requestors block enablement.
type vetoError struct {
	requestors RequestorSet
}

func (e *vetoError) Error() string {
	return ErrDisallowed.Error() + ": vetoed by " + e.requestors.String()
}

func (e *vetoError) Unwrap() error { return ErrDisallowed }
