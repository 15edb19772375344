// Package report turns scan events into console output: leveled and colored
// text lines, JSON lines, and an end-of-run summary table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portsweep/internal/scanning"
)

// Options configures a Console.
type Options struct {
	Verbosity Level
	Format    Format
	Color     bool
	// Stdout receives info, warn and debug lines, and every JSON record.
	// Nil means os.Stdout.
	Stdout io.Writer
	// Stderr receives error lines. Nil means os.Stderr.
	Stderr io.Writer
}

// Console is a reporting sink for scan events. It is safe for concurrent use.
type Console struct {
	opts     Options
	prefixes map[Level]string
	mu       sync.Mutex
	tally    scanning.Tally
	started  time.Time
}

// Record is the JSON representation of one event.
type Record struct {
	Level      string  `json:"level"`
	TaskID     string  `json:"task_id,omitempty"`
	Endpoint   string  `json:"endpoint"`
	Status     string  `json:"status,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// NewConsole creates a Console from opts.
func NewConsole(opts Options) *Console {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}

	prefixes := make(map[Level]string, len(levelNames))
	for level := range levelNames {
		c := level.color()
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		prefixes[level] = c.Sprint(level.Prefix())
	}

	return &Console{opts: opts, prefixes: prefixes, started: time.Now()}
}

// Enabled reports whether lines at level are printed.
func (c *Console) Enabled(level Level) bool {
	return level <= c.opts.Verbosity
}

// Print writes msg at level. Error lines go to stderr, everything else to
// stdout. In JSON mode plain messages are suppressed.
func (c *Console) Print(level Level, msg string) {
	if !c.Enabled(level) || c.opts.Format == FormatJSON {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLine(level, msg)
}

// Printf formats and writes a message at level.
func (c *Console) Printf(level Level, format string, args ...any) {
	if !c.Enabled(level) {
		return
	}
	c.Print(level, fmt.Sprintf(format, args...))
}

func (c *Console) writeLine(level Level, msg string) {
	w := c.opts.Stdout
	if level == LevelError {
		w = c.opts.Stderr
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", c.prefixes[level], msg)
}

// Started announces a scan of targets endpoints.
func (c *Console) Started(network string, targets uint64) {
	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()

	c.Printf(LevelDebug, "Scanning %s (%d targets)", network, targets)
	c.Print(LevelInfo, "Waiting for results")
}

// Targeting reports that a target has been submitted.
func (c *Console) Targeting(target scanning.Target) {
	c.Printf(LevelDebug, "Targeting: %s", target)
}

// Event reports one scan event and counts it towards the summary.
//
// Open results print at info, refused at warn, timeouts, unreachable hosts
// and task failures at error.
func (c *Console) Event(event scanning.Event) {
	level := EventLevel(event)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tally.Add(event)

	if !c.Enabled(level) {
		return
	}

	if c.opts.Format == FormatJSON {
		c.writeRecord(NewRecord(event))
		return
	}

	if event.Failed() || event.Result == nil {
		c.writeLine(level, fmt.Sprintf("An error has occurred: %v", event.Err))
		return
	}
	c.writeLine(level, fmt.Sprintf("%s - %s", event.Result.Endpoint, statusTitle(event.Result.Status)))
}

func (c *Console) writeRecord(record Record) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	_, _ = c.opts.Stdout.Write(append(data, '\n'))
}

// Completed announces the end of the scan.
func (c *Console) Completed() {
	c.mu.Lock()
	c.tally.Elapsed = time.Since(c.started)
	c.mu.Unlock()

	c.Print(LevelInfo, "Scan has completed")
}

// Tally returns the counts of events reported so far.
func (c *Console) Tally() scanning.Tally {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tally
}

// WriteSummary renders the tally as a table to w.
func (c *Console) WriteSummary(w io.Writer) {
	WriteSummary(w, c.Tally())
}

// WriteSummary renders tally as a status/count table.
func WriteSummary(w io.Writer, tally scanning.Tally) {
	table := tablewriter.NewWriter(w)
	table.Header("Status", "Count")

	for _, status := range scanning.AllStatuses {
		_ = table.Append([]string{statusTitle(status), strconv.Itoa(tally.Count(status))})
	}
	_ = table.Append([]string{"Failed", strconv.Itoa(tally.Failed)})
	_ = table.Append([]string{"Total", strconv.Itoa(tally.Total())})
	if tally.Elapsed > 0 {
		_ = table.Append([]string{"Elapsed", tally.Elapsed.Round(time.Millisecond).String()})
	}

	_ = table.Render()
}

// EventLevel returns the console level an event is reported at.
func EventLevel(event scanning.Event) Level {
	if event.Failed() || event.Result == nil {
		return LevelError
	}
	switch event.Result.Status {
	case scanning.StatusOpen:
		return LevelInfo
	case scanning.StatusRefused:
		return LevelWarn
	default:
		return LevelError
	}
}

// NewRecord converts an event into its JSON representation.
func NewRecord(event scanning.Event) Record {
	record := Record{
		Level:    EventLevel(event).String(),
		TaskID:   event.TaskID,
		Endpoint: event.Target.String(),
	}
	if event.Failed() {
		record.Error = event.Err.Error()
		return record
	}
	if event.Result == nil {
		return record
	}
	record.Endpoint = event.Result.Endpoint.String()
	record.Status = event.Result.Status.String()
	record.DurationMS = float64(event.Result.Duration.Microseconds()) / 1000
	return record
}

func statusTitle(status scanning.ConnectionStatus) string {
	s := status.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
