package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/netrange"
	"github.com/anstrom/portsweep/internal/ports"
	"github.com/anstrom/portsweep/internal/report"
	"github.com/anstrom/portsweep/internal/scanning"
)

// loopbackPorts returns a port with a listener behind it and a port without.
func loopbackPorts(t *testing.T) (open, closed int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	unused, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed = unused.Addr().(*net.TCPAddr).Port
	require.NoError(t, unused.Close())

	return listener.Addr().(*net.TCPAddr).Port, closed
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Output.Color = false
	return cfg
}

func runTestScan(t *testing.T, cfg *config.Config, opts scanOptions, stdin string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := executeScan(context.Background(), cfg, opts, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestExecuteScan_TextOutput(t *testing.T) {
	open, closed := loopbackPorts(t)

	stdout, stderr, err := runTestScan(t, createTestConfig(), scanOptions{
		network: "127.0.0.1",
		prefix:  "32",
		ports:   fmt.Sprintf("%d,%d", open, closed),
	}, "")
	require.NoError(t, err)

	assert.Contains(t, stdout, "[INFO] Waiting for results")
	assert.Contains(t, stdout, fmt.Sprintf("[INFO] 127.0.0.1:%d - Open", open))
	assert.Contains(t, stdout, fmt.Sprintf("[WARN] 127.0.0.1:%d - Refused", closed))
	assert.Contains(t, stdout, "[INFO] Scan has completed")
	assert.NotContains(t, stdout, "Targeting")
	assert.Empty(t, stderr)
}

func TestExecuteScan_Verbosity(t *testing.T) {
	open, closed := loopbackPorts(t)
	opts := scanOptions{network: "127.0.0.1", prefix: "/32", ports: fmt.Sprintf("%d,%d", open, closed)}

	t.Run("info hides refused", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Output.Verbosity = "info"

		stdout, _, err := runTestScan(t, cfg, opts, "")
		require.NoError(t, err)
		assert.Contains(t, stdout, "- Open")
		assert.NotContains(t, stdout, "- Refused")
	})

	t.Run("debug shows targeting", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Output.Verbosity = "debug"

		stdout, _, err := runTestScan(t, cfg, opts, "")
		require.NoError(t, err)
		assert.Contains(t, stdout, fmt.Sprintf("[DEBUG] Targeting: 127.0.0.1:%d", open))
		assert.Contains(t, stdout, "[DEBUG] Valid input: 127.0.0.1")
		assert.Contains(t, stdout, "[DEBUG] Scanning 127.0.0.1/32 (2 targets)")
	})
}

func TestExecuteScan_JSONOutput(t *testing.T) {
	open, closed := loopbackPorts(t)
	cfg := createTestConfig()
	cfg.Output.Format = "json"

	stdout, _, err := runTestScan(t, cfg, scanOptions{
		network: "127.0.0.1",
		prefix:  "32",
		ports:   fmt.Sprintf("%d,%d", open, closed),
	}, "")
	require.NoError(t, err)

	statuses := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		var record report.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record), scanner.Text())
		statuses[record.Endpoint] = record.Status
	}

	assert.Equal(t, map[string]string{
		fmt.Sprintf("127.0.0.1:%d", open):   "open",
		fmt.Sprintf("127.0.0.1:%d", closed): "refused",
	}, statuses)
}

func TestExecuteScan_Summary(t *testing.T) {
	_, closed := loopbackPorts(t)
	cfg := createTestConfig()
	cfg.Output.Summary = true
	cfg.Scanning.MaxConcurrency = 1

	stdout, _, err := runTestScan(t, cfg, scanOptions{
		network: "127.0.0.1",
		prefix:  "32",
		ports:   fmt.Sprint(closed),
	}, "")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Refused")
	assert.Contains(t, stdout, "Total")
}

func TestExecuteScan_PromptsForMissingInput(t *testing.T) {
	_, closed := loopbackPorts(t)

	stdout, _, err := runTestScan(t, createTestConfig(), scanOptions{},
		fmt.Sprintf("127.0.0.1\n32\n%d\n", closed))
	require.NoError(t, err)

	assert.Contains(t, stdout, "Input a valid network id")
	assert.Contains(t, stdout, "Input a valid network cidr")
	assert.Contains(t, stdout, "Input a range of ports")
	assert.Contains(t, stdout, fmt.Sprintf("127.0.0.1:%d - Refused", closed))
}

func TestExecuteScan_ExitAtPrompt(t *testing.T) {
	stdout, _, err := runTestScan(t, createTestConfig(), scanOptions{network: "127.0.0.1"}, "quit\n")

	assert.ErrorIs(t, err, errExitRequested)
	assert.Equal(t, ExitSuccess, exitCode(err))
	assert.Contains(t, stdout, "Input a valid network cidr")
	assert.NotContains(t, stdout, "Waiting for results")
}

func TestExecuteScan_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     scanOptions
		mutate   func(*config.Config)
		code     errors.ErrorCode
		exitCode int
	}{
		{
			name:     "malformed network id",
			opts:     scanOptions{network: "10.0.0", prefix: "24", ports: "22"},
			code:     errors.CodeValidation,
			exitCode: ExitInvalidInput,
		},
		{
			name:     "malformed ports",
			opts:     scanOptions{network: "10.0.0.0", prefix: "24", ports: "22-"},
			code:     errors.CodeValidation,
			exitCode: ExitInvalidInput,
		},
		{
			name:     "port out of range",
			opts:     scanOptions{network: "10.0.0.0", prefix: "24", ports: "70000"},
			code:     errors.CodeValidation,
			exitCode: ExitInvalidInput,
		},
		{
			name:     "host bits set",
			opts:     scanOptions{network: "10.0.0.5", prefix: "24", ports: "22"},
			code:     errors.CodeInvalidNetwork,
			exitCode: ExitInvalidNetwork,
		},
		{
			name:     "prefix too long",
			opts:     scanOptions{network: "10.0.0.0", prefix: "33", ports: "22"},
			code:     errors.CodeInvalidNetwork,
			exitCode: ExitInvalidNetwork,
		},
		{
			name:     "octet out of range",
			opts:     scanOptions{network: "10.0.0.256", prefix: "32", ports: "22"},
			code:     errors.CodeInvalidNetwork,
			exitCode: ExitInvalidNetwork,
		},
		{
			name:     "unknown verbosity",
			opts:     scanOptions{network: "10.0.0.0", prefix: "24", ports: "22"},
			mutate:   func(cfg *config.Config) { cfg.Output.Verbosity = "loud" },
			code:     errors.CodeValidation,
			exitCode: ExitInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			stdout, _, err := runTestScan(t, cfg, tt.opts, "")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "unexpected error: %v", err)
			assert.Equal(t, tt.exitCode, exitCode(err))
			assert.NotContains(t, stdout, "Waiting for results")
		})
	}
}

func TestAnnounce(t *testing.T) {
	targets := scanning.BuildTargets(netrange.MustParse("10.0.0.0/31").Addresses(), ports.MustParse("22,80"))

	var announced []string
	var yielded int
	for _, err := range announce(targets, func(target scanning.Target) {
		announced = append(announced, target.String())
	}) {
		require.NoError(t, err)
		yielded++
		if yielded == 3 {
			break
		}
	}

	assert.Equal(t, 3, yielded)
	assert.Equal(t, []string{"10.0.0.0:22", "10.0.0.0:80", "10.0.0.1:22"}, announced)
}

func TestScanCommand(t *testing.T) {
	_, closed := loopbackPorts(t)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs([]string{
		"scan",
		"--network", "127.0.0.1",
		"--prefix", "32",
		"--ports", fmt.Sprint(closed),
		"--verbosity", "warn",
		"--no-color",
	})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		scanFlags = scanOptions{}
	}()

	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "warn", appConfig.Output.Verbosity)
	assert.Contains(t, stdout.String(), fmt.Sprintf("[WARN] 127.0.0.1:%d - Refused", closed))
}

func TestScanCommand_DeadlineIsNotConfigurable(t *testing.T) {
	assert.Nil(t, scanCmd.Flags().Lookup("timeout"))

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"scan",
		"--network", "127.0.0.1",
		"--prefix", "32",
		"--ports", "80",
		"--timeout", "10ms",
	})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		scanFlags = scanOptions{}
	}()

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag: --timeout")
}

func TestScanStats(t *testing.T) {
	engine := metrics.NewRegistry()
	open := metrics.Labels{metrics.LabelStatus: "open"}
	engine.Counter(metrics.MetricProbesTotal, open)
	engine.Counter(metrics.MetricProbesTotal, open)
	engine.Counter(metrics.MetricProbesTotal, metrics.Labels{metrics.LabelStatus: "timeout"})
	engine.Counter(metrics.MetricTaskFailures, nil)
	engine.Histogram(metrics.MetricScanDuration, 1.5, nil)

	assert.Equal(t, []any{
		"open", 2,
		"refused", 0,
		"timeout", 1,
		"unreachable", 0,
		"failed", 1,
		"duration", 1500 * time.Millisecond,
	}, scanStats(engine))
}

func TestExecuteScan_LogsEngineStats(t *testing.T) {
	open, closed := loopbackPorts(t)

	var logs bytes.Buffer
	original := logging.Default()
	logging.SetDefault(logging.NewWithWriter(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON}, &logs))
	defer logging.SetDefault(original)

	_, _, err := runTestScan(t, createTestConfig(), scanOptions{
		network: "127.0.0.1",
		prefix:  "32",
		ports:   fmt.Sprintf("%d,%d", open, closed),
	}, "")
	require.NoError(t, err)

	entries := make(map[string]map[string]any)
	for line := range strings.Lines(logs.String()) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries[fmt.Sprint(entry["msg"])] = entry
	}

	started, ok := entries["Scan started"]
	require.True(t, ok, "scan start was not logged")
	assert.Equal(t, float64(scanning.DefaultTimeout), started["timeout"])

	completed, ok := entries["Scan completed"]
	require.True(t, ok, "scan completion was not logged")
	assert.Equal(t, 1.0, completed["open"])
	assert.Equal(t, 1.0, completed["refused"])
	assert.Equal(t, 0.0, completed["timeout"])
	assert.Equal(t, 0.0, completed["failed"])
	assert.Positive(t, completed["duration"])
}
