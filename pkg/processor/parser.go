package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/censys/scandiff/pkg/snapshot"
)

// ErrMalformed marks a payload that could not be decoded at all, as opposed
// to one that decoded but failed snapshot validation (snapshot.ErrInvalid).
var ErrMalformed = errors.New("malformed snapshot payload")

// ParseSnapshot decodes a JSON snapshot document and validates it. A missing
// service_count is taken from the service list; a present one must match.
func ParseSnapshot(data []byte) (*snapshot.Snapshot, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: error decoding snapshot: %w", ErrMalformed, err)
	}

	services := make([]snapshot.Service, 0, len(doc.Services))
	for _, svc := range doc.Services {
		services = append(services, normalizeService(svc))
	}

	count := len(services)
	if doc.ServiceCount != nil {
		count = *doc.ServiceCount
	}

	snap, err := snapshot.New(doc.IP, doc.Timestamp, services, count)
	if err != nil {
		return nil, fmt.Errorf("error validating snapshot: %w", err)
	}
	return snap, nil
}

// Parse decodes data according to the file extension of name: ".xml" is an
// nmap report, anything else must be ".json".
func Parse(name string, data []byte) ([]*snapshot.Snapshot, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}

	var snaps []*snapshot.Snapshot
	switch format {
	case FormatNmap:
		snaps, err = ParseNmap(data)
		if err != nil {
			return nil, err
		}
	default:
		snap, err := ParseSnapshot(data)
		if err != nil {
			return nil, err
		}
		snaps = []*snapshot.Snapshot{snap}
	}

	base := filepath.Base(name)
	for _, s := range snaps {
		s.Filename = base
	}
	return snaps, nil
}

// DetectFormat maps a filename to its payload format.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".xml":
		return FormatNmap, nil
	default:
		return "", fmt.Errorf("%w: unsupported file type %q, expected .json or .xml", ErrMalformed, filepath.Ext(name))
	}
}

// normalizeService trims labels and treats empty software/tls blocks as absent.
func normalizeService(svc snapshot.Service) snapshot.Service {
	svc.Protocol = strings.TrimSpace(svc.Protocol)
	if svc.Software != nil && svc.Software.Vendor == nil && svc.Software.Product == nil && svc.Software.Version == nil {
		svc.Software = nil
	}
	if svc.TLS != nil && svc.TLS.Version == nil && svc.TLS.Cipher == nil && svc.TLS.CertFingerprintSHA256 == nil {
		svc.TLS = nil
	}
	if svc.Vulnerabilities == nil {
		svc.Vulnerabilities = snapshot.NewVulnSet()
	}
	return svc
}
