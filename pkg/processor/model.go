package processor

import (
	"time"

	"github.com/censys/scandiff/pkg/snapshot"
)

// Document is the wire form of a snapshot, as uploaded or published.
type Document struct {
	IP           string             `json:"ip"`
	Timestamp    time.Time          `json:"timestamp"`
	Services     []snapshot.Service `json:"services"`
	ServiceCount *int               `json:"service_count,omitempty"`
}

// Format names the encoding of an ingested payload.
type Format string

const (
	FormatJSON Format = "json"
	FormatNmap Format = "nmap"
)
