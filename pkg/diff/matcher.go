package diff

import (
	"sort"

	"github.com/censys/scandiff/pkg/snapshot"
)

// Pair is a port observed in both snapshots.
type Pair struct {
	Old snapshot.Service
	New snapshot.Service
}

// Partition splits two service lists by port.
type Partition struct {
	Added   []snapshot.Service // only in new
	Removed []snapshot.Service // only in old
	Common  []Pair
}

// Match partitions old and new services by port number. Protocol is not part
// of the key. Every partition is sorted by ascending port regardless of input
// order; ports are assumed unique within each side.
func Match(old, new []snapshot.Service) Partition {
	oldByPort := indexByPort(old)
	newByPort := indexByPort(new)

	p := Partition{
		Added:   []snapshot.Service{},
		Removed: []snapshot.Service{},
		Common:  []Pair{},
	}

	for _, port := range sortedPorts(oldByPort) {
		oldSvc := oldByPort[port]
		if newSvc, ok := newByPort[port]; ok {
			p.Common = append(p.Common, Pair{Old: oldSvc, New: newSvc})
		} else {
			p.Removed = append(p.Removed, oldSvc)
		}
	}

	for _, port := range sortedPorts(newByPort) {
		if _, ok := oldByPort[port]; !ok {
			p.Added = append(p.Added, newByPort[port])
		}
	}

	return p
}

func indexByPort(services []snapshot.Service) map[int]snapshot.Service {
	m := make(map[int]snapshot.Service, len(services))
	for _, svc := range services {
		m[svc.Port] = svc
	}
	return m
}

func sortedPorts(m map[int]snapshot.Service) []int {
	ports := make([]int, 0, len(m))
	for port := range m {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
