package diff

import (
	"github.com/censys/scandiff/pkg/snapshot"
)

// Detect compares two services that share a port. It returns false when no
// attribute differs; a ServiceChange with no true flag is never returned.
func Detect(old, new snapshot.Service, opts Options) (ServiceChange, bool) {
	change := ServiceChange{
		Port:     old.Port,
		Protocol: new.Protocol,
	}

	if !intEqual(old.Status, new.Status) {
		change.StatusChanged = true
		change.OldStatus = cloneInt(old.Status)
		change.NewStatus = cloneInt(new.Status)
	}

	if !softwareEqual(old.Software, new.Software) {
		change.SoftwareChanged = true
		change.OldSoftware = cloneSoftware(old.Software)
		change.NewSoftware = cloneSoftware(new.Software)
	}

	if !tlsEqual(old.TLS, new.TLS) {
		change.TLSChanged = true
		change.OldTLS = cloneTLS(old.TLS)
		change.NewTLS = cloneTLS(new.TLS)
	}

	if opts.ProtocolPolicy == ProtocolModify && old.Protocol != new.Protocol {
		change.ProtocolChanged = true
		change.OldProtocol = old.Protocol
		change.NewProtocol = new.Protocol
	}

	change.VulnerabilitiesAdded = new.Vulnerabilities.Minus(old.Vulnerabilities)
	change.VulnerabilitiesFixed = old.Vulnerabilities.Minus(new.Vulnerabilities)

	if !change.Changed() {
		return ServiceChange{}, false
	}
	return change, true
}

func softwareEqual(a, b *snapshot.Software) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return stringEqual(a.Vendor, b.Vendor) &&
		stringEqual(a.Product, b.Product) &&
		stringEqual(a.Version, b.Version)
}

func tlsEqual(a, b *snapshot.TLS) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return stringEqual(a.Version, b.Version) &&
		stringEqual(a.Cipher, b.Cipher) &&
		stringEqual(a.CertFingerprintSHA256, b.CertFingerprintSHA256)
}

// stringEqual treats absent as distinct from every present value, including "".
func stringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneSoftware(s *snapshot.Software) *snapshot.Software {
	if s == nil {
		return nil
	}
	return &snapshot.Software{
		Vendor:  cloneString(s.Vendor),
		Product: cloneString(s.Product),
		Version: cloneString(s.Version),
	}
}

func cloneTLS(t *snapshot.TLS) *snapshot.TLS {
	if t == nil {
		return nil
	}
	return &snapshot.TLS{
		Version:               cloneString(t.Version),
		Cipher:                cloneString(t.Cipher),
		CertFingerprintSHA256: cloneString(t.CertFingerprintSHA256),
	}
}
