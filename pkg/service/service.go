// Package service ties snapshot ingestion, the snapshot store and the
// comparator together for the HTTP API, the CLI and the Pub/Sub processor.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/censys/scandiff/pkg/dal"
	"github.com/censys/scandiff/pkg/diff"
	"github.com/censys/scandiff/pkg/processor"
	"github.com/censys/scandiff/pkg/snapshot"
)

var (
	// ErrHostMismatch is returned when asked to diff snapshots of two hosts.
	ErrHostMismatch = errors.New("snapshots must be from the same host")
	// ErrNotEnoughSnapshots is returned when a host has fewer than two snapshots.
	ErrNotEnoughSnapshots = errors.New("host needs at least two snapshots to diff")
)

// Service stores snapshots and diffs them in capture order.
type Service struct {
	repo       dal.Repository
	comparator *diff.Comparator
	log        logrus.FieldLogger
}

// New returns a Service backed by repo.
func New(repo dal.Repository, opts diff.Options, log logrus.FieldLogger) *Service {
	return &Service{
		repo:       repo,
		comparator: diff.NewComparator(opts),
		log:        log,
	}
}

// Ingest parses a named payload (.json snapshot or .xml nmap report) and
// stores every snapshot in it. Snapshots stored before a failure are returned
// alongside the error.
func (s *Service) Ingest(ctx context.Context, name string, data []byte) ([]*snapshot.Snapshot, error) {
	snaps, err := processor.Parse(name, data)
	if err != nil {
		return nil, err
	}

	stored := make([]*snapshot.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if _, err := s.Store(ctx, snap); err != nil {
			return stored, err
		}
		stored = append(stored, snap)
	}
	return stored, nil
}

// Store persists one validated snapshot.
func (s *Service) Store(ctx context.Context, snap *snapshot.Snapshot) (int64, error) {
	id, err := s.repo.Create(ctx, snap)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"snapshot_id": id,
		"ip":          snap.Host,
		"timestamp":   snap.Timestamp,
		"services":    len(snap.Services),
	}).Info("stored snapshot")
	return id, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*snapshot.Snapshot, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListHosts(ctx context.Context) ([]dal.HostSummary, error) {
	return s.repo.ListHosts(ctx)
}

// ListByHost returns the host's snapshots, oldest first.
func (s *Service) ListByHost(ctx context.Context, host string) ([]*snapshot.Snapshot, error) {
	return s.repo.ListByHost(ctx, snapshot.CanonicalHost(host))
}

// Diff loads two stored snapshots concurrently and compares them. The ids may
// be given in either order; the earlier capture is always the old side.
func (s *Service) Diff(ctx context.Context, firstID, secondID int64) (*diff.DiffReport, error) {
	var first, second *snapshot.Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := s.repo.Get(gctx, firstID)
		if err != nil {
			return err
		}
		first = snap
		return nil
	})
	g.Go(func() error {
		snap, err := s.repo.Get(gctx, secondID)
		if err != nil {
			return err
		}
		second = snap
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.Compare(first, second)
}

// Compare checks both snapshots belong to one host, orders them by capture
// time and runs the comparator.
func (s *Service) Compare(a, b *snapshot.Snapshot) (*diff.DiffReport, error) {
	switch {
	case a == nil:
		return nil, &diff.InputError{Side: diff.SideOld, Reason: "snapshot is nil"}
	case b == nil:
		return nil, &diff.InputError{Side: diff.SideNew, Reason: "snapshot is nil"}
	}
	if a.Host != b.Host {
		return nil, fmt.Errorf("%w: %s and %s", ErrHostMismatch, a.Host, b.Host)
	}

	old, new := a, b
	if b.Before(a) {
		old, new = b, a
	}

	report, err := s.comparator.Compare(old, new)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"ip":               old.Host,
		"old_id":           old.ID,
		"new_id":           new.ID,
		"ports_added":      len(report.PortsAdded),
		"ports_removed":    len(report.PortsRemoved),
		"services_changed": len(report.ServicesChanged),
	}).Debug("compared snapshots")
	return report, nil
}

// Latest diffs the two most recent snapshots of host.
func (s *Service) Latest(ctx context.Context, host string) (*diff.DiffReport, error) {
	host = snapshot.CanonicalHost(host)
	snaps, err := s.repo.ListByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, fmt.Errorf("%w: %s has %d", ErrNotEnoughSnapshots, host, len(snaps))
	}
	return s.Compare(snaps[len(snaps)-2], snaps[len(snaps)-1])
}

// ChangesSince diffs snap against the host snapshot captured just before it.
// It returns ErrNotEnoughSnapshots when snap is the earliest one stored.
func (s *Service) ChangesSince(ctx context.Context, snap *snapshot.Snapshot) (*diff.DiffReport, error) {
	snaps, err := s.repo.ListByHost(ctx, snap.Host)
	if err != nil {
		return nil, err
	}
	var prev *snapshot.Snapshot
	for _, candidate := range snaps {
		if candidate.ID == snap.ID || !candidate.Before(snap) {
			break
		}
		prev = candidate
	}
	if prev == nil {
		return nil, fmt.Errorf("%w: %s has no snapshot before %s", ErrNotEnoughSnapshots, snap.Host, snap.Timestamp.Format(time.RFC3339))
	}
	return s.Compare(prev, snap)
}
