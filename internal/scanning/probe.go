package scanning

import (
	"context"
	stderrors "errors"
	"net"
	"syscall"
	"time"
)

// DefaultTimeout is the deadline for a single connection attempt.
const DefaultTimeout = 3 * time.Second

const networkTCP = "tcp"

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Executor probes a single target.
type Executor interface {
	Probe(ctx context.Context, target Target) ScanResult
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	// Timeout overrides DefaultTimeout. Only tests set it.
	Timeout time.Duration
	// Dialer is used for connection attempts. Nil means a plain net.Dialer.
	Dialer Dialer
}

// Prober performs one TCP connection attempt per target and classifies it.
type Prober struct {
	timeout time.Duration
	dialer  Dialer
}

// NewProber creates a Prober from cfg.
func NewProber(cfg ProberConfig) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	return &Prober{timeout: cfg.Timeout, dialer: cfg.Dialer}
}

// Timeout returns the per-attempt deadline.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Probe attempts a single connection to target. A successful connection is
// closed immediately. Probe never retries and always returns a result.
func (p *Prober) Probe(ctx context.Context, target Target) ScanResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := target.Endpoint()
	start := time.Now()

	conn, err := p.dialer.DialContext(ctx, networkTCP, endpoint.String())
	if err == nil {
		_ = conn.Close()
	}

	return ScanResult{
		Endpoint: endpoint,
		Status:   Classify(err),
		Duration: time.Since(start),
	}
}

// Classify maps the error of a connection attempt to a ConnectionStatus.
// Errors that match no known condition are reported as timeouts.
func Classify(err error) ConnectionStatus {
	if err == nil {
		return StatusOpen
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return StatusRefused
	case stderrors.Is(err, syscall.EHOSTUNREACH), stderrors.Is(err, syscall.ENETUNREACH):
		return StatusUnreachable
	}

	return StatusTimeout
}
