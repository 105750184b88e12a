package roam

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RequestStateChange moves vdev toward target. It is the single entry
// point behind every other state-changing method.
//
// A DriverDisabled reason adds its requestor to the veto set and turns any
// target other than Deinit into RSOStopped; DriverEnabled removes its
// requestor and does nothing more while other vetoes remain.
func (m *Machine) RequestStateChange(ctx context.Context, vdev VdevID, target State, reason Reason) (err error) {
	ctx, span := m.startSpan(ctx, "RequestStateChange", vdev,
		attribute.String("roam.target", target.String()),
		attribute.String("roam.reason", reason.String()))
	defer func() { endSpan(span, err) }()

	w := &work{vdev: vdev, target: target, reason: reason}
	switch reason.Code {
	case ReasonDriverDisabled:
		w.veto = vetoAdd
	case ReasonDriverEnabled:
		w.veto = vetoRemove
	}
	return m.submit(ctx, w)
}

// EnableRoaming retracts requestor's veto on vdev and, once no veto
// remains, enables roam offload. requestor may be RequestorNone.
func (m *Machine) EnableRoaming(ctx context.Context, vdev VdevID, requestor Requestor, code ReasonCode) (err error) {
	reason := Reason{Code: code, Requestor: requestor}
	ctx, span := m.startSpan(ctx, "EnableRoaming", vdev, attribute.String("roam.reason", reason.String()))
	defer func() { endSpan(span, err) }()

	return m.submit(ctx, &work{
		vdev:   vdev,
		target: StateRSOEnabled,
		reason: reason,
		veto:   vetoRemove,
	})
}

// DisableRoaming records requestor's veto on vdev and stops roam offload.
// The veto is dropped again if firmware refuses to stop.
func (m *Machine) DisableRoaming(ctx context.Context, vdev VdevID, requestor Requestor, code ReasonCode) (err error) {
	reason := Reason{Code: code, Requestor: requestor}
	ctx, span := m.startSpan(ctx, "DisableRoaming", vdev, attribute.String("roam.reason", reason.String()))
	defer func() { endSpan(span, err) }()

	return m.submit(ctx, &work{
		vdev:   vdev,
		target: StateRSOStopped,
		reason: reason,
		veto:   vetoAdd,
	})
}

// SetTriggerBitmap replaces vdev's roam triggers. An enabled connection
// re-applies its configuration, or stops when t is empty.
func (m *Machine) SetTriggerBitmap(ctx context.Context, vdev VdevID, t Triggers) (err error) {
	ctx, span := m.startSpan(ctx, "SetTriggerBitmap", vdev, attribute.String("roam.triggers", t.String()))
	defer func() { endSpan(span, err) }()

	return m.submit(ctx, &work{
		vdev:     vdev,
		target:   StateRSOEnabled,
		reason:   Reason{Code: ReasonTriggerUpdate},
		triggers: &t,
	})
}

// SetScanParams replaces vdev's scan parameters. An enabled connection
// re-applies its configuration.
func (m *Machine) SetScanParams(ctx context.Context, vdev VdevID, p ScanParams) (err error) {
	ctx, span := m.startSpan(ctx, "SetScanParams", vdev)
	defer func() { endSpan(span, err) }()

	return m.submit(ctx, &work{
		vdev:   vdev,
		target: StateRSOEnabled,
		reason: Reason{Code: ReasonScanUpdate},
		scan:   &p,
	})
}

// LinkDown resets vdev to Deinit after its link went away.
func (m *Machine) LinkDown(ctx context.Context, vdev VdevID) error {
	return m.RequestStateChange(ctx, vdev, StateDeinit, Reason{Code: ReasonLinkDown})
}

// ConcurrencyChanged re-evaluates the oracle after the set of connections
// or the radio's concurrency mode changed. Connections that may no longer
// roam are demoted to Deinit before the remaining enabled connections
// re-apply their configuration.
func (m *Machine) ConcurrencyChanged(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "roam.ConcurrencyChanged")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drain(ctx, m.concurrencyWork()...)
}

// AbortScan asks firmware to stop an in-flight roam scan on vdev without
// disabling roam offload. It does nothing unless vdev is RSOEnabled.
func (m *Machine) AbortScan(ctx context.Context, vdev VdevID) (err error) {
	ctx, span := m.startSpan(ctx, "AbortScan", vdev)
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.conns[vdev]
	if !ok {
		return fmt.Errorf("roam: vdev %d: %w", vdev, ErrNoSuchVdev)
	}
	if rc.state != StateRSOEnabled || !m.registry.LinkUp(vdev) {
		m.debug("AbortScan:skip", slog.Uint64("vdev", uint64(vdev)), slog.String("state", rc.state.String()))
		return nil
	}
	return m.send(ctx, Command{
		Kind:   CommandAbortScan,
		Vdev:   vdev,
		Reason: rc.lastReason,
		Config: rc.offloadConfig(),
	})
}

// Provision creates vdev's roam context in Deinit with triggers t. It does
// nothing if the context already exists.
func (m *Machine) Provision(vdev VdevID, t Triggers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[vdev]; ok {
		return
	}
	m.provision(vdev, t)
	m.publishAll()
}

// Destroy drops vdev's roam context when the vdev itself is deleted. No
// command is sent: firmware discards the vdev's configuration with it.
func (m *Machine) Destroy(vdev VdevID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, vdev)

	m.viewMu.Lock()
	delete(m.views, vdev)
	m.viewMu.Unlock()
	m.info("destroy", slog.Uint64("vdev", uint64(vdev)))
}

// QueryState returns vdev's current state. Unknown connections are Deinit.
func (m *Machine) QueryState(vdev VdevID) State {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.views[vdev].State
}

// Snapshot returns a copy of vdev's roam context.
func (m *Machine) Snapshot(vdev VdevID) (Snapshot, bool) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	s, ok := m.views[vdev]
	return s, ok
}

// Vdevs returns the provisioned connections in ascending order.
func (m *Machine) Vdevs() []VdevID {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	ids := make([]VdevID, 0, len(m.views))
	for id := range m.views {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HandleCompletion records an asynchronous firmware completion. It never
// changes roam state and never waits on a running transition, so channel
// event loops may call it at any time.
func (m *Machine) HandleCompletion(c Completion) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	m.viewMu.Lock()
	s, ok := m.views[c.Vdev]
	if ok {
		s.LastCompletion = &c
		m.views[c.Vdev] = s
	}
	m.viewMu.Unlock()

	if !ok {
		m.debug("completion:unknown vdev", slog.Uint64("vdev", uint64(c.Vdev)))
		return
	}
	if !c.OK() {
		m.warn("completion:failed",
			slog.Uint64("vdev", uint64(c.Vdev)),
			slog.String("cmd", c.Kind.String()),
			slog.Uint64("status", uint64(c.Status)))
	}
}

func (m *Machine) startSpan(ctx context.Context, name string, vdev VdevID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64("roam.vdev", int64(vdev)))
	return m.tracer.Start(ctx, "roam."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
