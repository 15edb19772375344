// Package netrange expands IPv4 CIDR blocks into the concrete host addresses
// they cover. Expansion is lazy and restartable: every call to Addresses
// returns a fresh sequence over the same block.
package netrange

import (
	"fmt"
	"iter"
	"net/netip"
	"strconv"
	"strings"

	"github.com/anstrom/portsweep/internal/errors"
)

const (
	// MaxPrefixLength is the number of bits in an IPv4 address.
	MaxPrefixLength = 32
)

// NetworkRange is an immutable IPv4 CIDR block.
type NetworkRange struct {
	prefix netip.Prefix
}

// New builds a NetworkRange from a base address and a prefix length.
//
// The base address must be IPv4 and must not carry host bits beyond the
// prefix; 10.0.0.5/24 is rejected rather than silently rewritten to
// 10.0.0.0/24. All failures carry errors.CodeInvalidNetwork.
func New(base netip.Addr, bits int) (NetworkRange, error) {
	network := fmt.Sprintf("%s/%d", base, bits)

	if !base.IsValid() {
		return NetworkRange{}, errors.ErrInvalidNetwork(network, fmt.Errorf("base address is not set"))
	}
	if base.Is4In6() {
		base = base.Unmap()
	}
	if !base.Is4() {
		return NetworkRange{}, errors.ErrInvalidNetwork(network, fmt.Errorf("base address %s is not IPv4", base))
	}
	if bits < 0 || bits > MaxPrefixLength {
		return NetworkRange{}, errors.ErrInvalidNetwork(network,
			fmt.Errorf("prefix length %d out of range 0..%d", bits, MaxPrefixLength))
	}

	prefix := netip.PrefixFrom(base, bits)
	masked := prefix.Masked()
	if masked.Addr() != base {
		return NetworkRange{}, errors.ErrInvalidNetwork(network,
			fmt.Errorf("host bits set beyond /%d, did you mean %s", bits, masked))
	}

	return NetworkRange{prefix: masked}, nil
}

// Parse builds a NetworkRange from a network id and a prefix string. The
// prefix may be written with or without a leading slash ("24" or "/24").
func Parse(networkID, prefix string) (NetworkRange, error) {
	networkID = strings.TrimSpace(networkID)
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	network := networkID + "/" + prefix

	addr, err := netip.ParseAddr(networkID)
	if err != nil {
		return NetworkRange{}, errors.ErrInvalidNetwork(network, err)
	}
	bits, err := strconv.Atoi(prefix)
	if err != nil {
		return NetworkRange{}, errors.ErrInvalidNetwork(network, err)
	}
	return New(addr, bits)
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level fixtures.
func MustParse(cidr string) NetworkRange {
	networkID, prefix, ok := strings.Cut(cidr, "/")
	if !ok {
		panic(fmt.Sprintf("netrange: %q is not in CIDR notation", cidr))
	}
	r, err := Parse(networkID, prefix)
	if err != nil {
		panic(err)
	}
	return r
}

// Base returns the network address of the block.
func (r NetworkRange) Base() netip.Addr {
	return r.prefix.Addr()
}

// Bits returns the prefix length.
func (r NetworkRange) Bits() int {
	return r.prefix.Bits()
}

// Prefix returns the block as a netip.Prefix.
func (r NetworkRange) Prefix() netip.Prefix {
	return r.prefix
}

// String returns the block in CIDR notation.
func (r NetworkRange) String() string {
	return r.prefix.String()
}

// Count returns the number of addresses in the block, 2^(32-bits).
func (r NetworkRange) Count() uint64 {
	if !r.prefix.IsValid() {
		return 0
	}
	return uint64(1) << (MaxPrefixLength - r.prefix.Bits())
}

// Contains reports whether addr lies inside the block.
func (r NetworkRange) Contains(addr netip.Addr) bool {
	return r.prefix.Contains(addr)
}

// Addresses returns every address in the block in ascending order,
// network and broadcast addresses included. The zero NetworkRange yields
// nothing.
func (r NetworkRange) Addresses() iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		if !r.prefix.IsValid() {
			return
		}
		addr := r.prefix.Addr()
		for i := uint64(0); i < r.Count(); i++ {
			if !yield(addr) {
				return
			}
			addr = addr.Next()
		}
	}
}

// Collect materializes the block into a slice. Callers are responsible for
// keeping the block small enough to fit in memory.
func (r NetworkRange) Collect() []netip.Addr {
	out := make([]netip.Addr, 0, min(r.Count(), 1<<16))
	for addr := range r.Addresses() {
		out = append(out, addr)
	}
	return out
}
