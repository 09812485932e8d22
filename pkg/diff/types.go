// Package diff compares two snapshots of the same host and reports the ports
// gained, the ports lost, and per-service attribute changes.
//
// Comparison is pure: it performs no I/O, holds no state between calls and
// never decides which snapshot is older. Every list in a DiffReport is sorted
// by ascending port.
package diff

import (
	"encoding/json"

	"github.com/censys/scandiff/pkg/snapshot"
)

// PortChange records a port present in exactly one of the two snapshots.
type PortChange struct {
	Port     int              `json:"port" yaml:"port"`
	Protocol string           `json:"protocol" yaml:"protocol"`
	Service  snapshot.Service `json:"service" yaml:"service"`
}

// ServiceChange records attribute differences on a port present in both
// snapshots. Old/new values are only set when the matching flag is true.
type ServiceChange struct {
	Port     int    `json:"port" yaml:"port"`
	Protocol string `json:"protocol" yaml:"protocol"`

	StatusChanged bool `json:"status_changed" yaml:"status_changed"`
	OldStatus     *int `json:"old_status,omitempty" yaml:"old_status,omitempty"`
	NewStatus     *int `json:"new_status,omitempty" yaml:"new_status,omitempty"`

	SoftwareChanged bool               `json:"software_changed" yaml:"software_changed"`
	OldSoftware     *snapshot.Software `json:"old_software,omitempty" yaml:"old_software,omitempty"`
	NewSoftware     *snapshot.Software `json:"new_software,omitempty" yaml:"new_software,omitempty"`

	TLSChanged bool          `json:"tls_changed" yaml:"tls_changed"`
	OldTLS     *snapshot.TLS `json:"old_tls,omitempty" yaml:"old_tls,omitempty"`
	NewTLS     *snapshot.TLS `json:"new_tls,omitempty" yaml:"new_tls,omitempty"`

	ProtocolChanged bool   `json:"protocol_changed" yaml:"protocol_changed"`
	OldProtocol     string `json:"old_protocol,omitempty" yaml:"old_protocol,omitempty"`
	NewProtocol     string `json:"new_protocol,omitempty" yaml:"new_protocol,omitempty"`

	VulnerabilitiesAdded []string `json:"vulnerabilities_added" yaml:"vulnerabilities_added"`
	VulnerabilitiesFixed []string `json:"vulnerabilities_fixed" yaml:"vulnerabilities_fixed"`
}

// Changed reports whether any attribute differs.
func (c ServiceChange) Changed() bool {
	return c.StatusChanged || c.SoftwareChanged || c.TLSChanged || c.ProtocolChanged ||
		len(c.VulnerabilitiesAdded) > 0 || len(c.VulnerabilitiesFixed) > 0
}

// DiffReport is the structural delta between two snapshots of one host.
type DiffReport struct {
	OldSnapshot     *snapshot.Snapshot `json:"old_snapshot" yaml:"old_snapshot"`
	NewSnapshot     *snapshot.Snapshot `json:"new_snapshot" yaml:"new_snapshot"`
	PortsAdded      []PortChange       `json:"ports_added" yaml:"ports_added"`
	PortsRemoved    []PortChange       `json:"ports_removed" yaml:"ports_removed"`
	ServicesChanged []ServiceChange    `json:"services_changed" yaml:"services_changed"`
}

// HasChanges is derived from the three change lists on every call.
func (r *DiffReport) HasChanges() bool {
	return len(r.PortsAdded) > 0 || len(r.PortsRemoved) > 0 || len(r.ServicesChanged) > 0
}

// Summary holds change counts for presentation.
type Summary struct {
	PortsAdded           int `json:"ports_added" yaml:"ports_added"`
	PortsRemoved         int `json:"ports_removed" yaml:"ports_removed"`
	ServicesChanged      int `json:"services_changed" yaml:"services_changed"`
	VulnerabilitiesAdded int `json:"vulnerabilities_added" yaml:"vulnerabilities_added"`
	VulnerabilitiesFixed int `json:"vulnerabilities_fixed" yaml:"vulnerabilities_fixed"`
}

// Summary counts the report's changes.
func (r *DiffReport) Summary() Summary {
	s := Summary{
		PortsAdded:      len(r.PortsAdded),
		PortsRemoved:    len(r.PortsRemoved),
		ServicesChanged: len(r.ServicesChanged),
	}
	for _, c := range r.ServicesChanged {
		s.VulnerabilitiesAdded += len(c.VulnerabilitiesAdded)
		s.VulnerabilitiesFixed += len(c.VulnerabilitiesFixed)
	}
	return s
}

// reportView is the serialized shape of a DiffReport, carrying the derived
// has_changes flag.
type reportView struct {
	OldSnapshot     *snapshot.Snapshot `json:"old_snapshot" yaml:"old_snapshot"`
	NewSnapshot     *snapshot.Snapshot `json:"new_snapshot" yaml:"new_snapshot"`
	PortsAdded      []PortChange       `json:"ports_added" yaml:"ports_added"`
	PortsRemoved    []PortChange       `json:"ports_removed" yaml:"ports_removed"`
	ServicesChanged []ServiceChange    `json:"services_changed" yaml:"services_changed"`
	HasChanges      bool               `json:"has_changes" yaml:"has_changes"`
}

func (r *DiffReport) view() reportView {
	return reportView{
		OldSnapshot:     r.OldSnapshot,
		NewSnapshot:     r.NewSnapshot,
		PortsAdded:      nonNil(r.PortsAdded),
		PortsRemoved:    nonNil(r.PortsRemoved),
		ServicesChanged: nonNil(r.ServicesChanged),
		HasChanges:      r.HasChanges(),
	}
}

func (r *DiffReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.view())
}

func (r *DiffReport) UnmarshalJSON(data []byte) error {
	var v reportView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = DiffReport{
		OldSnapshot:     v.OldSnapshot,
		NewSnapshot:     v.NewSnapshot,
		PortsAdded:      v.PortsAdded,
		PortsRemoved:    v.PortsRemoved,
		ServicesChanged: v.ServicesChanged,
	}
	return nil
}

func (r *DiffReport) MarshalYAML() (interface{}, error) {
	return r.view(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
