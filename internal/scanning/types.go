package scanning

import (
	"fmt"
	"net/netip"
	"time"
)

// ConnectionStatus is the classified outcome of a single connection attempt.
type ConnectionStatus string

// Connection statuses.
const (
	StatusOpen        ConnectionStatus = "open"
	StatusRefused     ConnectionStatus = "refused"
	StatusTimeout     ConnectionStatus = "timeout"
	StatusUnreachable ConnectionStatus = "unreachable"
)

// AllStatuses lists every status in reporting order.
var AllStatuses = []ConnectionStatus{StatusOpen, StatusRefused, StatusTimeout, StatusUnreachable}

// String returns the status name.
func (s ConnectionStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the four known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusRefused, StatusTimeout, StatusUnreachable:
		return true
	}
	return false
}

// Target is a single (address, port) pair to probe.
type Target struct {
	Address netip.Addr
	Port    uint16
}

// Endpoint returns the socket endpoint of the target.
func (t Target) Endpoint() netip.AddrPort {
	return netip.AddrPortFrom(t.Address, t.Port)
}

// String returns the endpoint in host:port form.
func (t Target) String() string {
	return t.Endpoint().String()
}

// ScanResult is the outcome of probing one target.
type ScanResult struct {
	Endpoint netip.AddrPort   `json:"endpoint"`
	Status   ConnectionStatus `json:"status"`
	Duration time.Duration    `json:"duration"`
}

// String formats the result as "endpoint - status".
func (r ScanResult) String() string {
	return fmt.Sprintf("%s - %s", r.Endpoint, r.Status)
}

// Event is emitted by the Coordinator once per submitted target.
// Exactly one of Result and Err is set.
type Event struct {
	TaskID string
	Target Target
	Result *ScanResult
	Err    error
}

// Failed reports whether the event is a task failure rather than a result.
func (e Event) Failed() bool {
	return e.Err != nil
}
