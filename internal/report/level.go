package report

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/anstrom/portsweep/internal/errors"
)

// Level is the verbosity class of a console line. A line is printed when its
// level is at or below the configured verbosity, so the ordering is
// info < warn < error < debug.
type Level int

// Console levels.
const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelDebug
)

// DefaultVerbosity prints everything except debug lines.
const DefaultVerbosity = LevelError

var levelNames = map[Level]string{
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelDebug: "debug",
}

// String returns the lower-case level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Prefix returns the bracketed tag printed before a line, e.g. "[WARN]".
func (l Level) Prefix() string {
	return "[" + strings.ToUpper(l.String()) + "]"
}

func (l Level) color() *color.Color {
	switch l {
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelError:
		return color.New(color.FgRed)
	case LevelDebug:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}

// ParseLevel converts a verbosity name into a Level.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return 0, errors.NewInputError("verbosity", s, fmt.Errorf("must be one of info, warn, error, debug"))
}

// Format selects how results are written.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a format name into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", errors.NewInputError("format", s, fmt.Errorf("must be text or json"))
}
