package roam

import (
	"context"
	"fmt"
	"time"
)

// A CommandKind is one of the logical firmware roam offload commands.
type CommandKind uint8

// Firmware roam offload commands.
const (
	CommandStart CommandKind = iota + 1
	CommandUpdateConfig
	CommandStop
	CommandAbortScan
)

// String returns the string representation of a CommandKind.
func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "START"
	case CommandUpdateConfig:
		return "UPDATE_CONFIG"
	case CommandStop:
		return "STOP"
	case CommandAbortScan:
		return "ABORT_SCAN"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// ScanParams tune the firmware's background roam scan.
type ScanParams struct {
	// Period is the interval between periodic roam scans.
	Period time.Duration
	// RSSIThreshold is the signal level, in dBm, below which firmware
	// starts looking for a better access point.
	RSSIThreshold int8
	// RSSIDiff is the minimum improvement, in dB, a candidate needs.
	RSSIDiff uint8
	// MaxChannels caps the channels visited per scan cycle. Zero leaves the
	// choice to firmware.
	MaxChannels uint8
}

// DefaultScanParams returns the scan parameters used when none are
// configured.
func DefaultScanParams() ScanParams {
	return ScanParams{
		Period:        10 * time.Second,
		RSSIThreshold: -75,
		RSSIDiff:      5,
	}
}

// OffloadConfig is the configuration snapshot a command carries.
type OffloadConfig struct {
	Triggers Triggers
	Scan     ScanParams
	PCLScope PCLScope
	// PCLOwner is set when this connection's preferred channel list is the
	// one firmware should apply.
	PCLOwner bool
}

// A Command is a single request to firmware.
type Command struct {
	Kind   CommandKind
	Vdev   VdevID
	Reason Reason
	Config OffloadConfig
}

// A Channel delivers roam offload commands to firmware.
//
// Send blocks until firmware accepts or rejects cmd and returns nil when it
// was accepted. Errors wrapping ErrResourceUnavailable mark transient
// failures; any other error is a rejection. Completion is reported later
// and out of band, see Machine.HandleCompletion.
type Channel interface {
	Send(ctx context.Context, cmd Command) error
}

// A Completion is the asynchronous firmware report for a command that was
// previously accepted.
type Completion struct {
	Vdev VdevID
	Kind CommandKind
	// Status is the firmware status code, zero on success.
	Status uint32
	At     time.Time
}

// OK reports whether firmware completed the command successfully.
func (c Completion) OK() bool { return c.Status == 0 }
