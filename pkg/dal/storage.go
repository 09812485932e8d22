package dal

import (
	"context"
	"errors"

	"github.com/censys/scandiff/pkg/snapshot"
)

var (
	// ErrNotFound is returned when no snapshot has the requested id.
	ErrNotFound = errors.New("snapshot not found")
	// ErrConflict is returned when a snapshot for the same host and timestamp exists.
	ErrConflict = errors.New("snapshot already exists")
)

// HostSummary describes one host with stored snapshots.
type HostSummary struct {
	IP            string `json:"ip" yaml:"ip"`
	SnapshotCount int    `json:"snapshot_count" yaml:"snapshot_count"`
}

// Repository defines the contract required to persist and read snapshots.
type Repository interface {
	// Create stores s and returns its assigned id.
	Create(ctx context.Context, s *snapshot.Snapshot) (int64, error)
	Get(ctx context.Context, id int64) (*snapshot.Snapshot, error)
	// ListByHost returns the host's snapshots ascending by capture timestamp.
	ListByHost(ctx context.Context, host string) ([]*snapshot.Snapshot, error)
	ListHosts(ctx context.Context) ([]HostSummary, error)
	Close() error
}
