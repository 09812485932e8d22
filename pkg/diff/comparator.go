package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/censys/scandiff/pkg/snapshot"
)

// ProtocolPolicy decides how a protocol change on an unchanged port is reported.
type ProtocolPolicy string

const (
	// ProtocolModify reports the change as protocol_changed on a ServiceChange.
	ProtocolModify ProtocolPolicy = "modify"
	// ProtocolIgnore treats protocol as descriptive metadata only.
	ProtocolIgnore ProtocolPolicy = "ignore"
	// ProtocolReplace reports the port as removed and re-added.
	ProtocolReplace ProtocolPolicy = "replace"
)

// ParseProtocolPolicy accepts "modify", "ignore" or "replace"; empty means modify.
func ParseProtocolPolicy(s string) (ProtocolPolicy, error) {
	switch p := ProtocolPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProtocolModify, nil
	case ProtocolModify, ProtocolIgnore, ProtocolReplace:
		return p, nil
	default:
		return "", fmt.Errorf("unknown protocol policy %q (want modify, ignore or replace)", s)
	}
}

// Options tune a Comparator.
type Options struct {
	ProtocolPolicy ProtocolPolicy
}

// DefaultOptions reports protocol changes as modifications.
func DefaultOptions() Options {
	return Options{ProtocolPolicy: ProtocolModify}
}

// Comparator builds DiffReports. The zero value uses DefaultOptions and is
// safe for concurrent use.
type Comparator struct {
	opts Options
}

// NewComparator returns a Comparator with the given options.
func NewComparator(opts Options) *Comparator {
	if opts.ProtocolPolicy == "" {
		opts.ProtocolPolicy = ProtocolModify
	}
	return &Comparator{opts: opts}
}

// Compare diffs two snapshots with the default options.
func Compare(old, new *snapshot.Snapshot) (*DiffReport, error) {
	return NewComparator(DefaultOptions()).Compare(old, new)
}

// Compare returns the delta from old to new. The caller decides which
// snapshot is older. The only error is ErrInvalidInput.
func (c *Comparator) Compare(old, new *snapshot.Snapshot) (*DiffReport, error) {
	opts := c.opts
	if opts.ProtocolPolicy == "" {
		opts.ProtocolPolicy = ProtocolModify
	}

	if err := checkInput(SideOld, old); err != nil {
		return nil, err
	}
	if err := checkInput(SideNew, new); err != nil {
		return nil, err
	}

	part := Match(old.Services, new.Services)

	report := &DiffReport{
		OldSnapshot:     old,
		NewSnapshot:     new,
		PortsAdded:      make([]PortChange, 0, len(part.Added)),
		PortsRemoved:    make([]PortChange, 0, len(part.Removed)),
		ServicesChanged: []ServiceChange{},
	}

	for _, svc := range part.Added {
		report.PortsAdded = append(report.PortsAdded, portChange(svc))
	}
	for _, svc := range part.Removed {
		report.PortsRemoved = append(report.PortsRemoved, portChange(svc))
	}

	replaced := false
	for _, pair := range part.Common {
		if opts.ProtocolPolicy == ProtocolReplace && pair.Old.Protocol != pair.New.Protocol {
			report.PortsRemoved = append(report.PortsRemoved, portChange(pair.Old))
			report.PortsAdded = append(report.PortsAdded, portChange(pair.New))
			replaced = true
			continue
		}
		if change, ok := Detect(pair.Old, pair.New, opts); ok {
			report.ServicesChanged = append(report.ServicesChanged, change)
		}
	}

	if replaced {
		sortPortChanges(report.PortsAdded)
		sortPortChanges(report.PortsRemoved)
	}

	return report, nil
}

func checkInput(side string, s *snapshot.Snapshot) error {
	if s == nil {
		return &InputError{Side: side, Reason: "snapshot is nil"}
	}
	seen := make(map[int]struct{}, len(s.Services))
	for _, svc := range s.Services {
		if err := svc.Validate(); err != nil {
			return &InputError{Side: side, Port: svc.Port, Reason: strings.TrimPrefix(err.Error(), snapshot.ErrInvalid.Error()+": ")}
		}
		if _, dup := seen[svc.Port]; dup {
			return &InputError{Side: side, Port: svc.Port, Reason: "duplicate port"}
		}
		seen[svc.Port] = struct{}{}
	}
	return nil
}

func portChange(svc snapshot.Service) PortChange {
	return PortChange{
		Port:     svc.Port,
		Protocol: svc.Protocol,
		Service:  cloneService(svc),
	}
}

func sortPortChanges(changes []PortChange) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Port < changes[j].Port
	})
}

func cloneService(svc snapshot.Service) snapshot.Service {
	return snapshot.Service{
		Port:            svc.Port,
		Protocol:        svc.Protocol,
		Status:          cloneInt(svc.Status),
		Software:        cloneSoftware(svc.Software),
		TLS:             cloneTLS(svc.TLS),
		Vulnerabilities: snapshot.NewVulnSet(svc.Vulnerabilities.Sorted()...),
	}
}
