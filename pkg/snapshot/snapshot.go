// Package snapshot defines the point-in-time record of a host's exposed
// network services.
package snapshot

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ErrInvalid marks a snapshot or service that violates a construction invariant.
var ErrInvalid = errors.New("invalid snapshot")

// MaxPort is the largest valid TCP/UDP port number.
const MaxPort = 65535

// Software identifies the banner/software observed behind a port.
type Software struct {
	Vendor  *string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Product *string `json:"product,omitempty" yaml:"product,omitempty"`
	Version *string `json:"version,omitempty" yaml:"version,omitempty"`
}

// TLS describes the TLS configuration negotiated on a port.
type TLS struct {
	Version               *string `json:"version,omitempty" yaml:"version,omitempty"`
	Cipher                *string `json:"cipher,omitempty" yaml:"cipher,omitempty"`
	CertFingerprintSHA256 *string `json:"cert_fingerprint_sha256,omitempty" yaml:"cert_fingerprint_sha256,omitempty"`
}

// Service is one open port and everything observed about it.
type Service struct {
	Port            int       `json:"port" yaml:"port"`
	Protocol        string    `json:"protocol" yaml:"protocol"`
	Status          *int      `json:"status,omitempty" yaml:"status,omitempty"`
	Software        *Software `json:"software,omitempty" yaml:"software,omitempty"`
	TLS             *TLS      `json:"tls,omitempty" yaml:"tls,omitempty"`
	Vulnerabilities VulnSet   `json:"vulnerabilities" yaml:"vulnerabilities"`
}

// Snapshot is every service observed on one host at one capture time.
type Snapshot struct {
	ID           int64     `json:"id,omitempty" yaml:"id,omitempty"`
	Host         string    `json:"ip" yaml:"ip"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	Filename     string    `json:"filename,omitempty" yaml:"filename,omitempty"`
	Services     []Service `json:"services" yaml:"services"`
	ServiceCount int       `json:"service_count" yaml:"service_count"`
	UploadedAt   time.Time `json:"uploaded_at,omitzero" yaml:"uploaded_at,omitempty"`
}

// New builds a snapshot and checks its invariants. count must equal
// len(services).
func New(host string, ts time.Time, services []Service, count int) (*Snapshot, error) {
	if services == nil {
		services = []Service{}
	}
	s := &Snapshot{
		Host:         CanonicalHost(host),
		Timestamp:    ts.UTC(),
		Services:     services,
		ServiceCount: count,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// CanonicalHost returns the canonical text form of an IP address, so
// "2001:DB8::1" and "2001:db8:0::1" key the same host. Input that does not
// parse is returned trimmed and left for Validate to reject.
func CanonicalHost(host string) string {
	host = strings.TrimSpace(host)
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	return host
}

// Validate checks the snapshot-level invariants: host is a canonical IP
// address, timestamp is present, the declared service count matches, and every service is valid
// with a port unique within the snapshot.
func (s *Snapshot) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("%w: host address is required", ErrInvalid)
	}
	addr, err := netip.ParseAddr(s.Host)
	if err != nil {
		return fmt.Errorf("%w: host %q is not an IP address", ErrInvalid, s.Host)
	}
	if addr.String() != s.Host {
		return fmt.Errorf("%w: host %q is not in canonical form %q", ErrInvalid, s.Host, addr.String())
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalid)
	}
	if s.ServiceCount != len(s.Services) {
		return fmt.Errorf("%w: service_count %d does not match %d services", ErrInvalid, s.ServiceCount, len(s.Services))
	}
	seen := make(map[int]struct{}, len(s.Services))
	for i := range s.Services {
		if err := s.Services[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Services[i].Port]; dup {
			return fmt.Errorf("%w: duplicate port %d", ErrInvalid, s.Services[i].Port)
		}
		seen[s.Services[i].Port] = struct{}{}
	}
	return nil
}

// Validate checks that the service carries its required port and protocol.
func (svc Service) Validate() error {
	if svc.Port <= 0 || svc.Port > MaxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, svc.Port)
	}
	if strings.TrimSpace(svc.Protocol) == "" {
		return fmt.Errorf("%w: port %d has no protocol", ErrInvalid, svc.Port)
	}
	return nil
}

// Label is a short human identifier such as "192.0.2.1@2025-09-10T03:00:00Z".
func (s *Snapshot) Label() string {
	return fmt.Sprintf("%s@%s", s.Host, s.Timestamp.Format(time.RFC3339))
}

// Before reports whether s was captured before other. Ties fall back to the
// store-assigned id so ordering is total.
func (s *Snapshot) Before(other *Snapshot) bool {
	if !s.Timestamp.Equal(other.Timestamp) {
		return s.Timestamp.Before(other.Timestamp)
	}
	return s.ID < other.ID
}

// String returns a pointer to v, for building optional fields.
func String(v string) *string {
	return &v
}

// Int returns a pointer to v, for building optional fields.
func Int(v int) *int {
	return &v
}
