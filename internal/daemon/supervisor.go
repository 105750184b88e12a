// Package daemon keeps a roam Machine in step with the station links of the
// host.
package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tomiamao/roam"
)

// Links reports the station connections of the host and their link
// status.
type Links interface {
	roam.Registry
	Stations() ([]roam.VdevID, error)
}

// A Supervisor provisions station connections, enables roaming when their
// link comes up and resets them when it goes down.
type Supervisor struct {
	m        *roam.Machine
	links    Links
	triggers roam.Triggers
	logger   *slog.Logger

	known map[roam.VdevID]bool
	up    map[roam.VdevID]bool
}

// NewSupervisor returns a Supervisor that provisions new connections with
// triggers. A nil logger discards logs.
func NewSupervisor(m *roam.Machine, links Links, triggers roam.Triggers, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		m:        m,
		links:    links,
		triggers: triggers,
		logger:   logger,
		known:    make(map[roam.VdevID]bool),
		up:       make(map[roam.VdevID]bool),
	}
}

// Run polls the links every interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if err := s.Poll(ctx); err != nil {
			s.logger.Warn("poll:failed", slog.String("err", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Poll reconciles the machine with the current links once.
func (s *Supervisor) Poll(ctx context.Context) error {
	ids, err := s.links.Stations()
	if err != nil {
		return err
	}

	// New connections are arbitrated on their way into Init; only losing
	// a connection needs a concurrency change.
	var (
		errs     []error
		removed  bool
		wentDown bool
		seen     = make(map[roam.VdevID]bool, len(ids))
	)
	for _, id := range ids {
		seen[id] = true
		if !s.known[id] {
			s.m.Provision(id, s.triggers)
			s.known[id] = true
		}

		up := s.links.LinkUp(id)
		switch {
		case up && !s.up[id]:
			s.logger.Info("link:up", slog.Uint64("vdev", uint64(id)))
			if err := s.m.EnableRoaming(ctx, id, roam.RequestorNone, roam.ReasonSupplicantInit); err != nil {
				errs = append(errs, err)
			}
		case !up && s.up[id]:
			s.logger.Info("link:down", slog.Uint64("vdev", uint64(id)))
			if err := s.m.LinkDown(ctx, id); err != nil {
				errs = append(errs, err)
			}
			wentDown = true
		}
		s.up[id] = up
	}

	for id := range s.known {
		if !seen[id] {
			s.m.Destroy(id)
			delete(s.known, id)
			delete(s.up, id)
			removed = true
		}
	}

	if removed || wentDown {
		if err := s.m.ConcurrencyChanged(ctx); err != nil {
			errs = append(errs, err)
		}

		// Connections demoted for one that went away may roam again.
		for _, id := range ids {
			if s.up[id] && s.m.QueryState(id) == roam.StateDeinit {
				if err := s.m.EnableRoaming(ctx, id, roam.RequestorNone, roam.ReasonConcurrencyChanged); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	return errors.Join(errs...)
}

// Forward hands every completion from events to m until events is closed.
func Forward(m *roam.Machine, events <-chan roam.Completion) {
	for c := range events {
		m.HandleCompletion(c)
	}
}
