// Package roam controls firmware roam offload (RSO) for WiFi station
// connections.
//
// Each connection ("vdev") owns a small state machine. Callers request
// state changes with a reason; a Machine serializes every request for a
// radio, applies the transition rules and pushes the resulting
// configuration to firmware through a Channel.
package roam

import (
	"fmt"
	"strconv"
	"strings"
)

// A VdevID identifies a station connection on a radio. On Linux it is the
// network interface index.
type VdevID uint32

// A State is the roam offload state of a single connection.
type State uint8

// Possible roam offload states.
const (
	StateDeinit State = iota
	StateInit
	StateRSOStopped
	StateRSOEnabled
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDeinit:
		return "deinit"
	case StateInit:
		return "init"
	case StateRSOStopped:
		return "rso stopped"
	case StateRSOEnabled:
		return "rso enabled"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// A ReasonCode names why a state change was requested.
type ReasonCode uint8

// Reason codes understood by the state machine.
const (
	ReasonUnknown ReasonCode = iota
	ReasonSupplicantInit
	ReasonSupplicantDeinit
	ReasonSupplicantDisabled
	ReasonSupplicantEnabled
	ReasonDriverDisabled
	ReasonDriverEnabled
	ReasonConcurrencyChanged
	ReasonLinkDown
	ReasonTriggerUpdate
	ReasonScanUpdate
	ReasonUserConfig
)

var reasonNames = [...]string{
	ReasonUnknown:            "unknown",
	ReasonSupplicantInit:     "supplicant init",
	ReasonSupplicantDeinit:   "supplicant deinit",
	ReasonSupplicantDisabled: "supplicant disabled",
	ReasonSupplicantEnabled:  "supplicant enabled",
	ReasonDriverDisabled:     "driver disabled",
	ReasonDriverEnabled:      "driver enabled",
	ReasonConcurrencyChanged: "concurrency changed",
	ReasonLinkDown:           "link down",
	ReasonTriggerUpdate:      "trigger update",
	ReasonScanUpdate:         "scan update",
	ReasonUserConfig:         "user config",
}

// String returns the string representation of a ReasonCode.
func (c ReasonCode) String() string {
	if int(c) < len(reasonNames) {
		return reasonNames[c]
	}
	return fmt.Sprintf("unknown(%d)", c)
}

// reconfigures reports whether a request with this code carries new
// offload configuration that must be re-applied to an enabled connection.
func (c ReasonCode) reconfigures() bool {
	switch c {
	case ReasonTriggerUpdate, ReasonScanUpdate, ReasonUserConfig, ReasonConcurrencyChanged:
		return true
	}
	return false
}

// A Reason accompanies every state change request. Requestor is only
// meaningful for driver enable/disable requests.
type Reason struct {
	Code      ReasonCode
	Requestor Requestor
}

// DriverDisabled returns the Reason for a driver-internal veto by r.
func DriverDisabled(r Requestor) Reason {
	return Reason{Code: ReasonDriverDisabled, Requestor: r}
}

// DriverEnabled returns the Reason for r retracting its veto.
func DriverEnabled(r Requestor) Reason {
	return Reason{Code: ReasonDriverEnabled, Requestor: r}
}

func (r Reason) String() string {
	if r.Requestor == RequestorNone {
		return r.Code.String()
	}
	return r.Code.String() + "{" + r.Requestor.String() + "}"
}

// A Requestor is an independent subsystem that may veto roaming.
type Requestor uint8

// Known requestors. RequestorNone never holds a veto.
const (
	RequestorNone Requestor = iota
	RequestorUser
	RequestorConnectStart
	RequestorStartBSS
	RequestorChannelSwitch
	RequestorSAPChannelChange
	RequestorP2P
	RequestorNDP
	RequestorSetPCL
	RequestorTDLS
	numRequestors
)

var requestorNames = [...]string{
	RequestorNone:             "none",
	RequestorUser:             "user",
	RequestorConnectStart:     "connect start",
	RequestorStartBSS:         "start bss",
	RequestorChannelSwitch:    "channel switch",
	RequestorSAPChannelChange: "sap channel change",
	RequestorP2P:              "p2p",
	RequestorNDP:              "ndp",
	RequestorSetPCL:           "set pcl",
	RequestorTDLS:             "tdls",
}

// String returns the string representation of a Requestor.
func (r Requestor) String() string {
	if r < numRequestors {
		return requestorNames[r]
	}
	return fmt.Sprintf("unknown(%d)", r)
}

// A RequestorSet is the set of requestors currently vetoing roaming. The
// zero value is empty.
type RequestorSet struct {
	bits uint32
}

// NewRequestorSet returns a set holding rs.
func NewRequestorSet(rs ...Requestor) RequestorSet {
	var s RequestorSet
	for _, r := range rs {
		s.add(r)
	}
	return s
}

// Has reports whether r holds a veto.
func (s RequestorSet) Has(r Requestor) bool {
	return r != RequestorNone && r < numRequestors && s.bits&(1<<r) != 0
}

// Empty reports whether no requestor holds a veto.
func (s RequestorSet) Empty() bool { return s.bits == 0 }

// Members returns the vetoing requestors in ascending order.
func (s RequestorSet) Members() []Requestor {
	var rs []Requestor
	for r := RequestorNone + 1; r < numRequestors; r++ {
		if s.Has(r) {
			rs = append(rs, r)
		}
	}
	return rs
}

func (s RequestorSet) String() string {
	names := make([]string, 0, numRequestors)
	for _, r := range s.Members() {
		names = append(names, r.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// add inserts r and reports whether it was not already present.
func (s *RequestorSet) add(r Requestor) bool {
	if r == RequestorNone || r >= numRequestors || s.Has(r) {
		return false
	}
	s.bits |= 1 << r
	return true
}

// remove deletes r only; other vetoes are untouched.
func (s *RequestorSet) remove(r Requestor) {
	if r == RequestorNone || r >= numRequestors {
		return
	}
	s.bits &^= 1 << r
}

// Triggers is a bitmap of the events that may cause firmware to start a
// roam scan. Zero means roaming has nothing to act on.
type Triggers uint32

// Roam triggers.
const (
	TriggerPER Triggers = 1 << iota
	TriggerBeaconMiss
	TriggerLowRSSI
	TriggerHighRSSI
	TriggerPeriodic
	TriggerDense
	TriggerBackground
	TriggerForced
	TriggerBTM
	TriggerBSSLoad
	TriggerDeauth
	TriggerIdle

	// TriggersDefault is the bitmap used when a connection is provisioned
	// without explicit triggers.
	TriggersDefault = TriggerPER | TriggerBeaconMiss | TriggerLowRSSI |
		TriggerPeriodic | TriggerBTM | TriggerDeauth
)

var triggerNames = []struct {
	t    Triggers
	name string
}{
	{TriggerPER, "per"},
	{TriggerBeaconMiss, "bmiss"},
	{TriggerLowRSSI, "low-rssi"},
	{TriggerHighRSSI, "high-rssi"},
	{TriggerPeriodic, "periodic"},
	{TriggerDense, "dense"},
	{TriggerBackground, "background"},
	{TriggerForced, "forced"},
	{TriggerBTM, "btm"},
	{TriggerBSSLoad, "bss-load"},
	{TriggerDeauth, "deauth"},
	{TriggerIdle, "idle"},
}

// String returns the triggers as a "|"-separated list of names.
func (t Triggers) String() string {
	if t == 0 {
		return "none"
	}
	var names []string
	rest := t
	for _, tn := range triggerNames {
		if t&tn.t != 0 {
			names = append(names, tn.name)
			rest &^= tn.t
		}
	}
	if rest != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(names, "|")
}

// UnmarshalText parses either a numeric bitmap ("0x3", "17") or a
// "|"-separated list of trigger names.
func (t *Triggers) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "none" {
		*t = 0
		return nil
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		*t = Triggers(n)
		return nil
	}

	var out Triggers
fields:
	for _, f := range strings.Split(s, "|") {
		f = strings.TrimSpace(f)
		for _, tn := range triggerNames {
			if tn.name == f {
				out |= tn.t
				continue fields
			}
		}
		return fmt.Errorf("unknown roam trigger %q", f)
	}
	*t = out
	return nil
}
