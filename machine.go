package roam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tomiamao/roam"

// A Machine runs the roam offload state machines of every station
// connection on one radio. All state-changing calls are serialized; the
// read-only QueryState and Snapshot never wait for firmware.
type Machine struct {
	// mu serializes every transition on the radio. It is held across
	// firmware command round-trips.
	mu       sync.Mutex
	ch       Channel
	oracle   Oracle
	registry Registry
	cfg      Config
	conns    map[VdevID]*roamContext
	seq      uint64

	// viewMu guards views, the published snapshots.
	viewMu sync.RWMutex
	views  map[VdevID]Snapshot

	logger *slog.Logger
	tracer trace.Tracer
}

// An Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithTracerProvider sets the provider used to trace state changes. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Machine) { m.tracer = tp.Tracer(tracerName) }
}

// NewMachine returns a Machine that sends commands over ch, consults
// oracle for cross-connection policy and reg for link status.
func NewMachine(ch Channel, oracle Oracle, reg Registry, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		ch:       ch,
		oracle:   oracle,
		registry: reg,
		cfg:      cfg,
		conns:    make(map[VdevID]*roamContext),
		views:    make(map[VdevID]Snapshot),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type vetoOp uint8

const (
	vetoNone vetoOp = iota
	vetoAdd
	vetoRemove
)

// A work item is one queued state change request.
type work struct {
	vdev   VdevID
	target State
	reason Reason
	veto   vetoOp
	// Settings replaced by the request, nil when unchanged.
	triggers *Triggers
	scan     *ScanParams

	prepared bool
	saved    settings
	restore  bool

	// parent is the request waiting on this one.
	parent *work
	err    error
}

// submit runs ws to completion. Only one submit runs at a time per radio.
func (m *Machine) submit(ctx context.Context, ws ...*work) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drain(ctx, ws...)
}

// drain runs roots and every follow-up they enqueue, one at a time, in
// queue order. A request needing other connections demoted first re-queues
// itself behind the demotions, so a demotion always completes before the
// promotion that needed it issues any command. m.mu must be held.
func (m *Machine) drain(ctx context.Context, roots ...*work) error {
	queue := append([]*work(nil), roots...)
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]

		if w.err == nil && w.parent != nil && w.parent.err != nil {
			// A sibling prerequisite already failed.
			continue
		}
		if w.err != nil {
			m.abort(w)
		} else {
			var pre []*work
			pre, w.err = m.run(ctx, w)
			if len(pre) > 0 {
				for _, p := range pre {
					p.parent = w
				}
				queue = append(append(pre, w), queue...)
				continue
			}
		}
		if w.err != nil && w.parent != nil && w.parent.err == nil {
			w.parent.err = w.err
		}
	}

	if len(roots) == 1 {
		return roots[0].err
	}
	var errs []error
	for _, w := range roots {
		if w.err != nil {
			errs = append(errs, w.err)
		}
	}
	return errors.Join(errs...)
}

// run applies w until its target is reached, a step fails, or other
// connections must be demoted first; those are returned as prerequisites.
func (m *Machine) run(ctx context.Context, w *work) ([]*work, error) {
	linkUp := m.registry.LinkUp(w.vdev)
	rc, ok := m.conns[w.vdev]
	if !ok {
		if w.target != StateInit {
			return nil, fmt.Errorf("roam: vdev %d: %w", w.vdev, ErrNoSuchVdev)
		}
		if !linkUp {
			m.debug("run:link down", slog.Uint64("vdev", uint64(w.vdev)))
			return nil, nil
		}
		rc = m.provision(w.vdev, m.cfg.DefaultTriggers)
	}
	defer m.publishAll()

	if !w.prepared && m.prepare(rc, w) {
		return nil, nil
	}

	p := policy{rsoAllowed: m.cfg.RSOAllowed, linkUp: linkUp}
	target, reason := w.target, w.reason
	for {
		s, done, err := decide(rc, target, reason, p)
		if err != nil {
			return nil, m.fail(rc, w, err)
		}
		if done {
			return nil, nil
		}

		if s.from == StateDeinit && s.to == StateInit {
			demote, err := m.resolveInit(rc)
			if err != nil {
				return nil, m.fail(rc, w, err)
			}
			if len(demote) > 0 {
				pre := make([]*work, 0, len(demote))
				for _, id := range demote {
					m.info("run:demote",
						slog.Uint64("vdev", uint64(id)),
						slog.Uint64("for", uint64(rc.vdev)))
					pre = append(pre, &work{
						vdev:   id,
						target: StateDeinit,
						reason: Reason{Code: ReasonConcurrencyChanged},
					})
				}
				return pre, nil
			}
		}

		cfg := rc.offloadConfig()
		if s.to == StateInit || s.to == StateRSOEnabled {
			cfg.PCLScope = m.oracle.PCLScope(m.activeWith(rc.vdev))
			cfg.PCLOwner = true
		}
		if s.cmd != 0 {
			cmd := Command{Kind: s.cmd, Vdev: rc.vdev, Reason: reason, Config: cfg}
			if err := m.send(ctx, cmd); err != nil {
				return nil, m.fail(rc, w, err)
			}
		}
		m.commit(rc, s, reason, cfg.PCLScope)

		if s.retarget {
			target, reason = s.newTarget, s.retargetReason
			continue
		}
		if s.to == target {
			return nil, nil
		}
	}
}

// prepare applies the settings carried by w and resolves the effective
// target. It reports whether nothing more needs to happen.
func (m *Machine) prepare(rc *roamContext, w *work) (halt bool) {
	w.prepared = true
	w.saved = rc.settings

	switch w.veto {
	case vetoAdd:
		rc.requestors.add(w.reason.Requestor)
		w.restore = true
	case vetoRemove:
		rc.requestors.remove(w.reason.Requestor)
	}
	switch w.reason.Code {
	case ReasonSupplicantDisabled:
		rc.supplicantDisabled = true
		w.restore = true
	case ReasonSupplicantEnabled:
		rc.supplicantDisabled = false
	}
	if w.triggers != nil {
		rc.triggers = *w.triggers
		w.restore = true
	}
	if w.scan != nil {
		rc.scan = *w.scan
		w.restore = true
	}

	vetoed := (w.veto == vetoAdd && !rc.requestors.Empty()) ||
		w.reason.Code == ReasonSupplicantDisabled
	if vetoed && w.target != StateDeinit {
		w.target = StateRSOStopped
	}

	switch {
	case w.veto == vetoRemove && !rc.requestors.Empty() && w.target == StateRSOEnabled:
		m.debug("prepare:still vetoed",
			slog.Uint64("vdev", uint64(rc.vdev)),
			slog.String("requestors", rc.requestors.String()))
		return true
	case w.triggers != nil || w.scan != nil:
		if rc.state != StateRSOEnabled {
			return true
		}
		w.target = StateRSOEnabled
		if rc.triggers == 0 {
			w.target = StateRSOStopped
		}
	}
	return false
}

// fail undoes the settings w introduced and returns err.
func (m *Machine) fail(rc *roamContext, w *work, err error) error {
	if w.restore {
		rc.settings = w.saved
	}
	m.warn("run:failed",
		slog.Uint64("vdev", uint64(rc.vdev)),
		slog.String("state", rc.state.String()),
		slog.String("reason", w.reason.String()),
		slog.String("err", err.Error()))
	return err
}

// abort undoes a prepared request whose prerequisite failed.
func (m *Machine) abort(w *work) {
	rc, ok := m.conns[w.vdev]
	if !ok || !w.prepared {
		return
	}
	m.fail(rc, w, w.err)
	m.publishAll()
}

// commit takes the edge s. The command for s, if any, was accepted.
func (m *Machine) commit(rc *roamContext, s step, reason Reason, scope PCLScope) {
	switch {
	case s.to == StateDeinit:
		rc.deinit()
	case s.from == StateDeinit && s.to == StateInit:
		m.seq++
		rc.initSeq = m.seq
	}
	if s.to == StateInit || s.to == StateRSOEnabled {
		m.takePCL(rc, scope)
	}
	rc.state = s.to
	rc.lastReason = reason

	m.info("transition",
		slog.Uint64("vdev", uint64(rc.vdev)),
		slog.String("from", s.from.String()),
		slog.String("to", s.to.String()),
		slog.String("reason", reason.String()))
}

// send issues cmd and normalizes a refusal into a *CommandError.
func (m *Machine) send(ctx context.Context, cmd Command) error {
	if m.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CommandTimeout)
		defer cancel()
	}
	trace.SpanFromContext(ctx).AddEvent("roam.command", trace.WithAttributes(
		attribute.String("roam.command", cmd.Kind.String()),
		attribute.Int64("roam.vdev", int64(cmd.Vdev)),
	))

	if err := m.ch.Send(ctx, cmd); err != nil {
		cerr := commandError(cmd.Kind, cmd.Vdev, err)
		m.logerr("send:refused",
			slog.String("cmd", cmd.Kind.String()),
			slog.Uint64("vdev", uint64(cmd.Vdev)),
			slog.Bool("temporary", errors.Is(cerr.Code, ErrResourceUnavailable)),
			slog.String("err", err.Error()))
		return cerr
	}
	m.debug("send:accepted",
		slog.String("cmd", cmd.Kind.String()),
		slog.Uint64("vdev", uint64(cmd.Vdev)),
		slog.String("triggers", cmd.Config.Triggers.String()))
	return nil
}

// provision creates a Deinit context for vdev. m.mu must be held.
func (m *Machine) provision(vdev VdevID, triggers Triggers) *roamContext {
	rc := newRoamContext(vdev, triggers, m.cfg.ScanParams())
	m.conns[vdev] = rc
	m.info("provision", slog.Uint64("vdev", uint64(vdev)), slog.String("triggers", triggers.String()))
	return rc
}

// publishAll refreshes the published snapshots. m.mu must be held.
func (m *Machine) publishAll() {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	for id, rc := range m.conns {
		snap := rc.snapshot()
		snap.LastCompletion = m.views[id].LastCompletion
		m.views[id] = snap
	}
}

// active returns the connections outside Deinit, in Init order.
func (m *Machine) active() []VdevID {
	rcs := make([]*roamContext, 0, len(m.conns))
	for _, rc := range m.conns {
		if rc.state != StateDeinit {
			rcs = append(rcs, rc)
		}
	}
	sort.Slice(rcs, func(i, j int) bool {
		if rcs[i].initSeq != rcs[j].initSeq {
			return rcs[i].initSeq < rcs[j].initSeq
		}
		return rcs[i].vdev < rcs[j].vdev
	})

	ids := make([]VdevID, 0, len(rcs))
	for _, rc := range rcs {
		ids = append(ids, rc.vdev)
	}
	return ids
}

// activeWith returns the active connections with vdev moved to the end.
func (m *Machine) activeWith(vdev VdevID) []VdevID {
	ids := m.active()
	out := ids[:0]
	for _, id := range ids {
		if id != vdev {
			out = append(out, id)
		}
	}
	return append(out, vdev)
}
