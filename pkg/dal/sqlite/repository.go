package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/censys/scandiff/pkg/dal"
	"github.com/censys/scandiff/pkg/snapshot"
)

// Repository persists snapshots in SQLite. Service data is kept as a JSON
// document next to the indexed host and capture time.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

var _ dal.Repository = (*Repository)(nil)

// New opens (or creates) the SQLite database at the provided path and ensures
// the schema exists.
func New(path string) (*Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}

	if err := ensureDir(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, now: time.Now}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	uploaded_at INTEGER NOT NULL,
	UNIQUE (ip, captured_at)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ip ON snapshots(ip);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);
`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

// Create inserts the snapshot and sets its ID and UploadedAt. A second
// snapshot for the same host and capture time is rejected with dal.ErrConflict.
func (r *Repository) Create(ctx context.Context, s *snapshot.Snapshot) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("snapshot must not be nil")
	}
	if err := s.Validate(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(s.Services)
	if err != nil {
		return 0, fmt.Errorf("error encoding services: %w", err)
	}
	uploaded := r.now().UTC()

	// the unique (ip, captured_at) pair makes a duplicate a no-op insert
	query := `
INSERT INTO snapshots (ip, captured_at, filename, data, uploaded_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(ip, captured_at) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, query,
		s.Host,
		s.Timestamp.UTC().UnixNano(),
		s.Filename,
		string(data),
		uploaded.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("error during insert exec: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting rows affected: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("%s: %w", s.Label(), dal.ErrConflict)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading inserted id: %w", err)
	}
	s.ID = id
	s.UploadedAt = uploaded
	return id, nil
}

const selectColumns = `SELECT id, ip, captured_at, filename, data, uploaded_at FROM snapshots`

// Get retrieves a stored snapshot by id.
func (r *Repository) Get(ctx context.Context, id int64) (*snapshot.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("snapshot %d: %w", id, dal.ErrNotFound)
		}
		return nil, fmt.Errorf("error fetching snapshot: %w", err)
	}
	return s, nil
}

// ListByHost returns every snapshot of host, oldest capture first.
func (r *Repository) ListByHost(ctx context.Context, host string) ([]*snapshot.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` WHERE ip = ? ORDER BY captured_at ASC, id ASC;`, host)
	if err != nil {
		return nil, fmt.Errorf("error listing snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*snapshot.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

// ListHosts returns every host with at least one snapshot, sorted by address.
func (r *Repository) ListHosts(ctx context.Context) ([]dal.HostSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ip, COUNT(*) FROM snapshots GROUP BY ip ORDER BY ip;`)
	if err != nil {
		return nil, fmt.Errorf("error listing hosts: %w", err)
	}
	defer rows.Close()

	hosts := []dal.HostSummary{}
	for rows.Next() {
		var h dal.HostSummary
		if err := rows.Scan(&h.IP, &h.SnapshotCount); err != nil {
			return nil, fmt.Errorf("error scanning host: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}
	return hosts, nil
}

// Close releases the underlying database resources.
func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*snapshot.Snapshot, error) {
	var (
		s                  snapshot.Snapshot
		captured, uploaded int64
		data               string
	)
	if err := row.Scan(&s.ID, &s.Host, &captured, &s.Filename, &data, &uploaded); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &s.Services); err != nil {
		return nil, fmt.Errorf("error decoding services of snapshot %d: %w", s.ID, err)
	}
	if s.Services == nil {
		s.Services = []snapshot.Service{}
	}
	for i := range s.Services {
		if s.Services[i].Vulnerabilities == nil {
			s.Services[i].Vulnerabilities = snapshot.NewVulnSet()
		}
	}
	s.Timestamp = time.Unix(0, captured).UTC()
	s.UploadedAt = time.Unix(0, uploaded).UTC()
	s.ServiceCount = len(s.Services)
	return &s, nil
}
