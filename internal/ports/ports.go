// Package ports parses port specifications such as "22,80,8000-8100" into
// an ordered PortSet.
//
// Ranges are inclusive on both ends: "20-22" yields 20, 21 and 22. Order is
// preserved exactly as written and duplicates are kept, so "80,80" probes
// port 80 twice.
package ports

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/anstrom/portsweep/internal/errors"
)

const (
	// MinPort is the lowest port accepted in a specification.
	MinPort = 1
	// MaxPort is the highest port accepted in a specification.
	MaxPort = 65535

	expectedRangeParts = 2
	fieldName          = "port input"
)

// specPattern is the lexical shape of a specification: digits separated by
// commas or dashes.
var specPattern = regexp.MustCompile(`^([0-9]{1,5}[-,])*[0-9]{1,5}$`)

// PortSet is an ordered sequence of ports. Duplicates are permitted.
type PortSet []uint16

// Len returns the number of ports in the set.
func (s PortSet) Len() int {
	return len(s)
}

// String renders the set as a comma separated list.
func (s PortSet) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}

// ValidSpec reports whether spec has the lexical shape of a port
// specification. It does not check numeric bounds.
func ValidSpec(spec string) bool {
	return specPattern.MatchString(strings.TrimSpace(spec))
}

// Parse converts a specification into a PortSet. Whitespace around tokens
// is ignored. Every failure is an *errors.InputError.
func Parse(spec string) (PortSet, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.NewInputError(fieldName, spec, fmt.Errorf("empty port specification"))
	}

	var set PortSet
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, errors.NewInputError(fieldName, spec, fmt.Errorf("empty token"))
		}

		if strings.Contains(token, "-") {
			start, end, err := parseRange(token)
			if err != nil {
				return nil, errors.NewInputError(fieldName, spec, err)
			}
			for p := start; p <= end; p++ {
				set = append(set, uint16(p))
			}
			continue
		}

		p, err := parsePort(token)
		if err != nil {
			return nil, errors.NewInputError(fieldName, spec, err)
		}
		set = append(set, uint16(p))
	}

	return set, nil
}

// MustParse is like Parse but panics on error.
func MustParse(spec string) PortSet {
	set, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return set
}

// parseRange parses "start-end" with start <= end.
func parseRange(token string) (int, int, error) {
	bounds := strings.Split(token, "-")
	if len(bounds) != expectedRangeParts {
		return 0, 0, fmt.Errorf("invalid port range: %s", token)
	}

	start, err := parsePort(bounds[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start in %s: %w", token, err)
	}
	end, err := parsePort(bounds[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end in %s: %w", token, err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("range start greater than end: %s", token)
	}
	return start, end, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %q", s)
	}
	if p < MinPort || p > MaxPort {
		return 0, fmt.Errorf("port %d out of range %d-%d", p, MinPort, MaxPort)
	}
	return p, nil
}
