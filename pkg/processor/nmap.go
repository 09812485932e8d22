package processor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/censys/scandiff/pkg/snapshot"
)

var (
	cvePattern        = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)
	tlsVersionPattern = regexp.MustCompile(`\b(SSLv3|TLSv1(?:\.[0-3])?)\b`)
	cipherPattern     = regexp.MustCompile(`\bTLS_[A-Z0-9_]+\b`)
	sha256Pattern     = regexp.MustCompile(`(?i)SHA-256:\s*([0-9a-f]{2}(?:[\s:]?[0-9a-f]{2}){31})`)
)

// ParseNmap decodes an nmap XML report into one snapshot per host that is up.
func ParseNmap(data []byte) ([]*snapshot.Snapshot, error) {
	run := &nmap.Run{}
	if err := nmap.Parse(data, run); err != nil {
		return nil, fmt.Errorf("%w: error parsing nmap report: %w", ErrMalformed, err)
	}
	return FromNmapRun(run)
}

// FromNmapRun converts parsed nmap results. Only open ports are kept; when a
// port number appears under several transports the first one wins.
func FromNmapRun(run *nmap.Run) ([]*snapshot.Snapshot, error) {
	if run == nil {
		return nil, fmt.Errorf("nil scan result")
	}

	var snaps []*snapshot.Snapshot
	for _, host := range run.Hosts {
		if host.Status.State != "up" {
			continue
		}
		ip := hostAddress(host)
		if ip == "" {
			continue
		}

		ts := time.Time(host.StartTime)
		if ts.IsZero() {
			ts = time.Time(run.Start)
		}

		services := servicesFromPorts(host.Ports)
		snap, err := snapshot.New(ip, ts, services, len(services))
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", ip, err)
		}
		snaps = append(snaps, snap)
	}

	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: nmap report contains no hosts that are up", ErrMalformed)
	}
	return snaps, nil
}

// hostAddress prefers IPv4, then IPv6; MAC addresses are never used.
func hostAddress(host nmap.Host) string {
	var v6 string
	for _, addr := range host.Addresses {
		switch addr.AddrType {
		case "ipv4":
			return addr.Addr
		case "ipv6":
			if v6 == "" {
				v6 = addr.Addr
			}
		}
	}
	return v6
}

func servicesFromPorts(ports []nmap.Port) []snapshot.Service {
	seen := make(map[int]struct{}, len(ports))
	services := make([]snapshot.Service, 0, len(ports))
	for _, port := range ports {
		if port.State.State != "open" {
			continue
		}
		id := int(port.ID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		services = append(services, serviceFromPort(port))
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Port < services[j].Port
	})
	return services
}

func serviceFromPort(port nmap.Port) snapshot.Service {
	var outputs []string
	for _, script := range port.Scripts {
		outputs = append(outputs, script.Output)
	}
	return snapshot.Service{
		Port:            int(port.ID),
		Protocol:        protocolLabel(port),
		Software:        softwareFromService(port.Service),
		TLS:             tlsFromPort(port),
		Vulnerabilities: snapshot.NewVulnSet(cvePattern.FindAllString(strings.Join(outputs, "\n"), -1)...),
	}
}

func protocolLabel(port nmap.Port) string {
	name := strings.ToUpper(strings.TrimSpace(port.Service.Name))
	if name == "" {
		return strings.ToUpper(port.Protocol)
	}
	if port.Service.Tunnel == "ssl" && name == "HTTP" {
		return "HTTPS"
	}
	return name
}

// softwareFromService fills vendor from the first application CPE
// (cpe:/a:vendor:product:version) and product/version from service detection.
func softwareFromService(s nmap.Service) *snapshot.Software {
	var sw snapshot.Software
	for _, cpe := range s.CPEs {
		parts := strings.Split(string(cpe), ":")
		if len(parts) >= 3 && parts[1] == "/a" && parts[2] != "" {
			sw.Vendor = snapshot.String(parts[2])
			break
		}
	}
	if s.Product != "" {
		sw.Product = snapshot.String(s.Product)
	}
	if s.Version != "" {
		sw.Version = snapshot.String(s.Version)
	}
	if sw.Vendor == nil && sw.Product == nil && sw.Version == nil {
		return nil
	}
	return &sw
}

// tlsFromPort reads ssl-enum-ciphers and ssl-cert output.
func tlsFromPort(port nmap.Port) *snapshot.TLS {
	var tls snapshot.TLS
	for _, script := range port.Scripts {
		switch script.ID {
		case "ssl-enum-ciphers":
			if v := highestTLSVersion(script.Output); v != "" {
				tls.Version = snapshot.String(v)
			}
			if c := cipherPattern.FindString(script.Output); c != "" {
				tls.Cipher = snapshot.String(c)
			}
		case "ssl-cert":
			if m := sha256Pattern.FindStringSubmatch(script.Output); m != nil {
				fp := strings.NewReplacer(" ", "", ":", "").Replace(m[1])
				tls.CertFingerprintSHA256 = snapshot.String(strings.ToLower(fp))
			}
		}
	}
	if tls.Version == nil && tls.Cipher == nil && tls.CertFingerprintSHA256 == nil {
		return nil
	}
	return &tls
}

func highestTLSVersion(output string) string {
	versions := tlsVersionPattern.FindAllString(output, -1)
	if len(versions) == 0 {
		return ""
	}
	sort.Strings(versions)
	return versions[len(versions)-1]
}
