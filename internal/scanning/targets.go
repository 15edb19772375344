package scanning

import (
	"iter"
	"net/netip"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/ports"
)

// NewTarget builds a Target for addr and port. The address must be a valid
// IPv4 address; anything else is an endpoint construction failure.
func NewTarget(addr netip.Addr, port uint16) (Target, error) {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if !addr.IsValid() || !addr.Is4() {
		return Target{}, errors.ErrEndpointConstruction(netip.AddrPortFrom(addr, port).String())
	}
	return Target{Address: addr, Port: port}, nil
}

// BuildTargets returns the lazy cross product of addrs and portSet in
// address-major, port-minor order. No deduplication is performed.
//
// If an address cannot be turned into an endpoint the sequence yields the
// error once and stops. Targets for earlier addresses have been yielded by
// then, so consumers that start work per target see the error mid-scan.
func BuildTargets(addrs iter.Seq[netip.Addr], portSet ports.PortSet) iter.Seq2[Target, error] {
	return func(yield func(Target, error) bool) {
		for addr := range addrs {
			for _, port := range portSet {
				target, err := NewTarget(addr, port)
				if err != nil {
					yield(Target{}, err)
					return
				}
				if !yield(target, nil) {
					return
				}
			}
		}
	}
}

// CountTargets returns the number of targets BuildTargets produces for the
// given address and port counts.
func CountTargets(addrCount uint64, portCount int) uint64 {
	if portCount <= 0 {
		return 0
	}
	return addrCount * uint64(portCount)
}
