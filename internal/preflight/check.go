package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/newsline/internal/index"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its lower-case name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Pinger is anything that can report whether it is reachable.
// embed.Embedder and oracle.Oracle both satisfy it.
type Pinger interface {
	Available(ctx context.Context) bool
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) bool

// Available calls f.
func (f PingFunc) Available(ctx context.Context) bool { return f(ctx) }

// ConsistencyInspector reports article/vector drift.
type ConsistencyInspector interface {
	Check(ctx context.Context) (*index.CheckResult, error)
}

type upstream struct {
	name     string
	required bool
	target   Pinger
	hint     string
}

// Checker performs preflight validation checks.
type Checker struct {
	dataDir   string
	upstreams []upstream
	index     ConsistencyInspector
	timeout   time.Duration
	verbose   bool
	output    io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithUpstream adds a reachability check. A required upstream that is down
// fails the run; an optional one only warns.
func WithUpstream(name string, required bool, target Pinger, hint string) Option {
	return func(c *Checker) {
		c.upstreams = append(c.upstreams, upstream{name: name, required: required, target: target, hint: hint})
	}
}

// WithIndex enables the index consistency check.
func WithIndex(inspector ConsistencyInspector) Option {
	return func(c *Checker) {
		c.index = inspector
	}
}

// WithTimeout bounds each upstream check.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker for the given data directory.
func New(dataDir string, opts ...Option) *Checker {
	c := &Checker{
		dataDir: dataDir,
		timeout: 5 * time.Second,
		output:  os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in a fixed order: local, upstream, index.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckDiskSpace(c.dataDir),
		c.CheckWritePermissions(c.dataDir),
		c.CheckFileDescriptors(),
	}
	for _, u := range c.upstreams {
		results = append(results, c.checkUpstream(ctx, u))
	}
	if c.index != nil {
		results = append(results, c.CheckIndex(ctx))
	}
	return results
}

func (c *Checker) checkUpstream(ctx context.Context, u upstream) CheckResult {
	result := CheckResult{Name: u.name, Required: u.required}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if u.target != nil && u.target.Available(ctx) {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("reachable (%s)", time.Since(start).Round(time.Millisecond))
		return result
	}

	result.Status = StatusWarn
	if u.required {
		result.Status = StatusFail
	}
	result.Message = "not reachable"
	result.Details = u.hint
	return result
}

// CheckIndex compares stored articles with stored vectors.
func (c *Checker) CheckIndex(ctx context.Context) CheckResult {
	result := CheckResult{Name: "index_consistency", Required: false}

	report, err := c.index.Check(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("check failed: %v", err)
		return result
	}

	missing, orphans := len(report.Missing()), len(report.Orphans())
	if missing == 0 && orphans == 0 {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d articles, all with vectors", report.Checked)
		return result
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("%d articles without vectors, %d orphan vectors", missing, orphans)
	result.Details = "Re-run 'newsline index' on any snapshot to repair"
	return result
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "newsline system check")
	_, _ = fmt.Fprintln(c.output, "=====================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Details != "" && (c.verbose || r.Status != StatusPass) {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckWritePermissions checks that the data directory is writable,
// creating it if needed.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create data directory: %v", err)
		return result
	}

	f, err := os.CreateTemp(path, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = filepath.Clean(path)
	return result
}
