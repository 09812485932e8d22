package processor

import (
	"errors"
	"testing"
	"time"

	"github.com/censys/scandiff/pkg/snapshot"
)

func TestParseSnapshot(t *testing.T) {
	payload := []byte(`{
		"ip": "192.168.1.1",
		"timestamp": "2025-09-10T03:00:00Z",
		"services": [
			{
				"port": 443,
				"protocol": "HTTPS",
				"status": 200,
				"software": {"vendor": "nginx", "product": "nginx", "version": "1.22.1"},
				"tls": {"version": "TLS 1.3", "cipher": "TLS_AES_256_GCM_SHA384"},
				"vulnerabilities": ["CVE-2023-44487", "CVE-2023-44487", " "]
			},
			{
				"port": 22,
				"protocol": "SSH"
			}
		],
		"service_count": 2
	}`)

	snap, err := ParseSnapshot(payload)
	if err != nil {
		t.Fatalf("ParseSnapshot returned error: %v", err)
	}

	if snap.Host != "192.168.1.1" {
		t.Fatalf("expected host 192.168.1.1, got %q", snap.Host)
	}
	if !snap.Timestamp.Equal(time.Date(2025, 9, 10, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", snap.Timestamp)
	}
	if snap.ServiceCount != 2 || len(snap.Services) != 2 {
		t.Fatalf("expected 2 services, got count=%d len=%d", snap.ServiceCount, len(snap.Services))
	}

	https := snap.Services[0]
	if https.Status == nil || *https.Status != 200 {
		t.Fatalf("expected status 200, got %v", https.Status)
	}
	if https.TLS == nil || https.TLS.CertFingerprintSHA256 != nil {
		t.Fatalf("expected tls without fingerprint, got %+v", https.TLS)
	}
	if https.Vulnerabilities.Len() != 1 || !https.Vulnerabilities.Has("CVE-2023-44487") {
		t.Fatalf("expected one de-duplicated vulnerability, got %v", https.Vulnerabilities.Sorted())
	}

	ssh := snap.Services[1]
	if ssh.Status != nil || ssh.Software != nil || ssh.TLS != nil {
		t.Fatalf("expected absent optional fields, got %+v", ssh)
	}
	if ssh.Vulnerabilities == nil {
		t.Fatal("expected empty vulnerability set, got nil")
	}
}

func TestParseSnapshotWithoutCount(t *testing.T) {
	payload := []byte(`{
		"ip": "10.0.0.5",
		"timestamp": "2025-09-15T03:00:00Z",
		"services": [{"port": 80, "protocol": "HTTP", "software": {}, "tls": {}}]
	}`)

	snap, err := ParseSnapshot(payload)
	if err != nil {
		t.Fatalf("ParseSnapshot returned error: %v", err)
	}
	if snap.ServiceCount != 1 {
		t.Fatalf("expected derived service_count 1, got %d", snap.ServiceCount)
	}
	if snap.Services[0].Software != nil || snap.Services[0].TLS != nil {
		t.Fatalf("expected empty blocks to be dropped, got %+v", snap.Services[0])
	}
}

func TestParseSnapshotRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"count mismatch":   `{"ip":"192.168.1.1","timestamp":"2025-09-10T03:00:00Z","services":[{"port":80,"protocol":"HTTP"}],"service_count":3}`,
		"missing ip":       `{"timestamp":"2025-09-10T03:00:00Z","services":[]}`,
		"missing time":     `{"ip":"192.168.1.1","services":[]}`,
		"duplicate port":   `{"ip":"192.168.1.1","timestamp":"2025-09-10T03:00:00Z","services":[{"port":80,"protocol":"HTTP"},{"port":80,"protocol":"TCP"}]}`,
		"missing protocol": `{"ip":"192.168.1.1","timestamp":"2025-09-10T03:00:00Z","services":[{"port":80}]}`,
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(payload))
			if !errors.Is(err, snapshot.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestParseSnapshotMalformedJSON(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{"ip":`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if errors.Is(err, snapshot.ErrInvalid) {
		t.Fatalf("decode errors must not be reported as ErrInvalid: %v", err)
	}
}

func TestParseSetsFilename(t *testing.T) {
	payload := []byte(`{"ip":"192.168.1.1","timestamp":"2025-09-10T03:00:00Z","services":[]}`)

	snaps, err := Parse("uploads/host_192.168.1.1_2025-09-10.json", payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Filename != "host_192.168.1.1_2025-09-10.json" {
		t.Fatalf("unexpected result: %+v", snaps)
	}
}

func TestDetectFormat(t *testing.T) {
	if f, err := DetectFormat("scan.JSON"); err != nil || f != FormatJSON {
		t.Fatalf("expected json, got %q (%v)", f, err)
	}
	if f, err := DetectFormat("scan.xml"); err != nil || f != FormatNmap {
		t.Fatalf("expected nmap, got %q (%v)", f, err)
	}
	if _, err := DetectFormat("scan.txt"); err == nil {
		t.Fatal("expected error for .txt")
	}
}
