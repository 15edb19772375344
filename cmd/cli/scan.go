package cli

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/netrange"
	"github.com/anstrom/portsweep/internal/ports"
	"github.com/anstrom/portsweep/internal/report"
	"github.com/anstrom/portsweep/internal/scanning"
)

// scanOptions holds the scan inputs that are not part of the configuration.
type scanOptions struct {
	network string
	prefix  string
	ports   string
	noColor bool
}

var scanFlags scanOptions

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe every port of every address in a network",
	Long: `Attempt a TCP connection to each port of each address in an IPv4 network
and report every endpoint as it completes.

Any of --network, --prefix and --ports that is not given is read from
standard input. Answer "exit" or "quit" to leave without scanning.`,
	Example: `  portsweep scan --network 192.168.1.0 --prefix 24 --ports 22,80,443
  portsweep scan --network 10.0.0.0 --prefix /30 --ports 1-1024 --verbosity info
  portsweep scan --network 10.0.0.0 --prefix 24 --ports 22 --format json
  portsweep scan --max-concurrency 256 --summary`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	defaults := config.Default()

	scanCmd.Flags().StringVar(&scanFlags.network, "network", "", "Network id, e.g. 192.168.1.0")
	scanCmd.Flags().StringVar(&scanFlags.prefix, "prefix", "", "Network prefix length, e.g. 24 or /24")
	scanCmd.Flags().StringVar(&scanFlags.ports, "ports", "", "Ports to probe, e.g. 22,80,8000-8100")
	scanCmd.Flags().BoolVar(&scanFlags.noColor, "no-color", false, "Disable colored output")

	scanCmd.Flags().Int("max-concurrency", defaults.Scanning.MaxConcurrency,
		"Maximum outstanding connection attempts (0 for no limit)")
	scanCmd.Flags().String("verbosity", defaults.Output.Verbosity, "Most verbose level printed: info, warn, error, debug")
	scanCmd.Flags().String("format", defaults.Output.Format, "Output format: text or json")
	scanCmd.Flags().Bool("summary", defaults.Output.Summary, "Print a summary table when the scan completes")

	bindFlags(scanCmd.Flags().Lookup, map[string]string{
		"scanning.max_concurrency": "max-concurrency",
		"output.verbosity":         "verbosity",
		"output.format":            "format",
		"output.summary":           "summary",
	})
}

func runScan(cmd *cobra.Command, _ []string) error {
	opts := scanFlags
	if opts.ports == "" {
		opts.ports = appConfig.Scanning.DefaultPorts
	}

	// The scan is never aborted early; every target reports an outcome.
	return executeScan(context.Background(), appConfig, opts,
		cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// executeScan resolves the scan inputs, probes every target and reports the
// events to stdout and stderr.
func executeScan(ctx context.Context, cfg *config.Config, opts scanOptions,
	stdin io.Reader, stdout, stderr io.Writer) error {
	console, err := newConsole(cfg.Output, opts.noColor, stdout, stderr)
	if err != nil {
		return err
	}

	prompt := newPrompter(stdin, stdout, console)
	networkID, err := prompt.resolve(opts.network, networkIDInput)
	if err != nil {
		return err
	}
	prefix, err := prompt.resolve(opts.prefix, prefixInput)
	if err != nil {
		return err
	}
	spec, err := prompt.resolve(opts.ports, portsInput)
	if err != nil {
		return err
	}

	network, err := netrange.Parse(networkID, prefix)
	if err != nil {
		return err
	}
	portSet, err := ports.Parse(spec)
	if err != nil {
		return err
	}

	logger := logging.Default().WithComponent("cli")
	engine := metrics.NewRegistry()
	coordinator := scanning.NewCoordinator(scanning.CoordinatorConfig{
		Executor:       scanning.NewProber(scanning.ProberConfig{}),
		MaxConcurrency: cfg.Scanning.MaxConcurrency,
		Metrics:        engine,
		Logger:         logger,
	})

	total := scanning.CountTargets(network.Count(), portSet.Len())
	logger.InfoNetwork("Scan started", network.String(),
		"ports", portSet.String(),
		"targets", total,
		"timeout", scanning.DefaultTimeout,
		"max_concurrency", cfg.Scanning.MaxConcurrency)

	console.Started(network.String(), total)
	targets := announce(scanning.BuildTargets(network.Addresses(), portSet), console.Targeting)
	timer := metrics.NewTimerFor(engine, metrics.MetricScanDuration, nil)
	stream := coordinator.Run(ctx, targets)
	for event := range stream.Events() {
		console.Event(event)
	}
	if err := stream.Err(); err != nil {
		return err
	}
	timer.Stop()
	console.Completed()

	logger.InfoNetwork("Scan completed", network.String(), scanStats(engine)...)

	if cfg.Output.Summary {
		console.WriteSummary(stdout)
	}
	return nil
}

// newConsole builds the reporting sink. Colors are also disabled when the
// terminal does not support them.
func newConsole(out config.OutputConfig, noColor bool, stdout, stderr io.Writer) (*report.Console, error) {
	level, err := report.ParseLevel(out.Verbosity)
	if err != nil {
		return nil, err
	}
	format, err := report.ParseFormat(out.Format)
	if err != nil {
		return nil, err
	}

	return report.NewConsole(report.Options{
		Verbosity: level,
		Format:    format,
		Color:     out.Color && !noColor && !color.NoColor,
		Stdout:    stdout,
		Stderr:    stderr,
	}), nil
}

// scanStats turns the counters recorded by the engine into log attributes.
func scanStats(engine *metrics.Registry) []any {
	statuses := []scanning.ConnectionStatus{
		scanning.StatusOpen, scanning.StatusRefused, scanning.StatusTimeout, scanning.StatusUnreachable,
	}
	stats := make([]any, 0, 2*len(statuses)+4)
	for _, status := range statuses {
		count := engine.Value(metrics.MetricProbesTotal, metrics.Labels{metrics.LabelStatus: status.String()})
		stats = append(stats, status.String(), int(count))
	}
	return append(stats,
		"failed", int(engine.Value(metrics.MetricTaskFailures, nil)),
		"duration", time.Duration(engine.Value(metrics.MetricScanDuration, nil)*float64(time.Second)))
}

// announce calls fn for every well-formed target before it is yielded.
func announce(targets iter.Seq2[scanning.Target, error], fn func(scanning.Target)) iter.Seq2[scanning.Target, error] {
	return func(yield func(scanning.Target, error) bool) {
		for target, err := range targets {
			if err == nil {
				fn(target)
			}
			if !yield(target, err) {
				return
			}
		}
	}
}
