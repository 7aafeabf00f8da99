// Package benchmarks holds the storage benchmarks and turns `go test -bench`
// output into reports checked against latency and throughput targets.
package benchmarks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Result is one line of benchmark output.
type Result struct {
	Name        string  `json:"name"`
	Package     string  `json:"package"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"nsPerOp"`
	BytesPerOp  int64   `json:"bytesPerOp"`
	AllocsPerOp int64   `json:"allocsPerOp"`
}

// Target is a performance goal for one benchmark. Exactly one of
// MaxNsPerOp and MinOpsPerSec is set.
type Target struct {
	Benchmark    string
	Name         string
	MaxNsPerOp   float64
	MinOpsPerSec float64
}

// DefaultTargets returns the goals for the benchmarks in this package.
func DefaultTargets() []Target {
	return []Target{
		{Benchmark: "BenchmarkHGet", Name: "Field lookup", MaxNsPerOp: 10000},
		{Benchmark: "BenchmarkHGetNested", Name: "Nested field lookup", MaxNsPerOp: 20000},
		{Benchmark: "BenchmarkHSet", Name: "Write throughput", MinOpsPerSec: 10000},
		{Benchmark: "BenchmarkHGetAll", Name: "Iterate 1000 fields", MaxNsPerOp: 1000000},
	}
}

// Check is the outcome of comparing a result with its target.
type Check struct {
	Target          string  `json:"target"`
	Benchmark       string  `json:"benchmark"`
	Passed          bool    `json:"passed"`
	ActualNsPerOp   float64 `json:"actualNsPerOp"`
	TargetNsPerOp   float64 `json:"targetNsPerOp,omitempty"`
	ActualOpsPerSec float64 `json:"actualOpsPerSec,omitempty"`
	TargetOpsPerSec float64 `json:"targetOpsPerSec,omitempty"`
}

// Report collects benchmark results.
type Report struct {
	Timestamp time.Time
	GoVersion string
	OS        string
	Arch      string
	Results   []Result
	Targets   []Target
}

// NewReport returns an empty report for the running platform.
func NewReport() *Report {
	return &Report{
		Timestamp: time.Now(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Targets:   DefaultTargets(),
	}
}

// Format: BenchmarkName-N    iterations    ns/op    B/op    allocs/op
var benchLine = regexp.MustCompile(`^(Benchmark\S+?)(?:-\d+)?\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

// ParseOutput reads `go test -bench` output. Lines that are not results are
// skipped; "pkg:" lines set the package of the results that follow.
func ParseOutput(r io.Reader) ([]Result, error) {
	var (
		results []Result
		pkg     string
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "pkg:"); ok {
			pkg = strings.TrimSpace(rest)
			continue
		}

		m := benchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		res := Result{Name: m[1], Package: pkg}
		res.Iterations, _ = strconv.Atoi(m[2])
		res.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			res.BytesPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		}
		if m[5] != "" {
			res.AllocsPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading benchmark output: %w", err)
	}
	return results, nil
}

// Add appends results to the report.
func (r *Report) Add(results ...Result) {
	r.Results = append(r.Results, results...)
}

// Check compares every result that has a target with it.
func (r *Report) Check() []Check {
	var checks []Check
	for _, res := range r.Results {
		i := slices.IndexFunc(r.Targets, func(t Target) bool { return t.Benchmark == res.Name })
		if i < 0 {
			continue
		}
		target := r.Targets[i]
		c := Check{
			Target:        target.Name,
			Benchmark:     res.Name,
			ActualNsPerOp: res.NsPerOp,
		}
		if target.MaxNsPerOp > 0 {
			c.TargetNsPerOp = target.MaxNsPerOp
			c.Passed = res.NsPerOp <= target.MaxNsPerOp
		} else if res.NsPerOp > 0 {
			c.ActualOpsPerSec = 1e9 / res.NsPerOp
			c.TargetOpsPerSec = target.MinOpsPerSec
			c.Passed = c.ActualOpsPerSec >= target.MinOpsPerSec
		}
		checks = append(checks, c)
	}
	return checks
}

// byPackage groups results by package, both sorted by name.
func (r *Report) byPackage() ([]string, map[string][]Result) {
	groups := make(map[string][]Result)
	for _, res := range r.Results {
		pkg := res.Package
		if pkg == "" {
			pkg = "unknown"
		}
		groups[pkg] = append(groups[pkg], res)
	}
	pkgs := make([]string, 0, len(groups))
	for pkg, results := range groups {
		pkgs = append(pkgs, pkg)
		slices.SortFunc(results, func(a, b Result) int { return strings.Compare(a.Name, b.Name) })
	}
	slices.Sort(pkgs)
	return pkgs, groups
}

func (c Check) actualAndTarget() (string, string) {
	if c.TargetNsPerOp > 0 {
		return formatDuration(c.ActualNsPerOp), "< " + formatDuration(c.TargetNsPerOp)
	}
	return formatOpsPerSec(c.ActualOpsPerSec), ">= " + formatOpsPerSec(c.TargetOpsPerSec)
}

// WriteText writes a plain text report.
func (r *Report) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "=== nestkv Benchmark Report ===\n\n")
	fmt.Fprintf(bw, "Generated: %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(bw, "Go Version: %s\n", r.GoVersion)
	fmt.Fprintf(bw, "Platform: %s/%s\n\n", r.OS, r.Arch)

	pkgs, groups := r.byPackage()
	for _, pkg := range pkgs {
		fmt.Fprintf(bw, "--- Package: %s ---\n\n", pkg)
		fmt.Fprintf(bw, "%-45s %12s %12s %12s %12s\n", "Benchmark", "Iterations", "ns/op", "B/op", "allocs/op")
		fmt.Fprintln(bw, strings.Repeat("-", 97))
		for _, res := range groups[pkg] {
			fmt.Fprintf(bw, "%-45s %12d %12.2f %12d %12d\n",
				res.Name, res.Iterations, res.NsPerOp, res.BytesPerOp, res.AllocsPerOp)
		}
		fmt.Fprintln(bw)
	}

	if checks := r.Check(); len(checks) > 0 {
		fmt.Fprintf(bw, "=== Targets ===\n\n")
		fmt.Fprintf(bw, "%-25s %-22s %12s %14s %8s\n", "Target", "Benchmark", "Actual", "Target", "Status")
		fmt.Fprintln(bw, strings.Repeat("-", 85))
		for _, c := range checks {
			actual, target := c.actualAndTarget()
			fmt.Fprintf(bw, "%-25s %-22s %12s %14s %8s\n", c.Target, c.Benchmark, actual, target, status(c.Passed))
		}
		fmt.Fprintln(bw)
		if allPassed(checks) {
			fmt.Fprintln(bw, "All targets met.")
		} else {
			fmt.Fprintln(bw, "WARNING: some targets not met")
		}
	}
	return bw.Flush()
}

// WriteMarkdown writes the report as Markdown tables.
func (r *Report) WriteMarkdown(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# nestkv Benchmark Report\n\n")
	fmt.Fprintf(bw, "Generated: %s\n\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(bw, "- Go Version: %s\n- Platform: %s/%s\n\n", r.GoVersion, r.OS, r.Arch)

	pkgs, groups := r.byPackage()
	for _, pkg := range pkgs {
		fmt.Fprintf(bw, "## %s\n\n", pkg)
		fmt.Fprintln(bw, "| Benchmark | Iterations | ns/op | B/op | allocs/op |")
		fmt.Fprintln(bw, "|-----------|------------|-------|------|-----------|")
		for _, res := range groups[pkg] {
			fmt.Fprintf(bw, "| %s | %d | %.2f | %d | %d |\n",
				res.Name, res.Iterations, res.NsPerOp, res.BytesPerOp, res.AllocsPerOp)
		}
		fmt.Fprintln(bw)
	}

	if checks := r.Check(); len(checks) > 0 {
		fmt.Fprintf(bw, "## Targets\n\n")
		fmt.Fprintln(bw, "| Target | Benchmark | Actual | Target | Status |")
		fmt.Fprintln(bw, "|--------|-----------|--------|--------|--------|")
		for _, c := range checks {
			actual, target := c.actualAndTarget()
			st := status(c.Passed)
			if !c.Passed {
				st = "**" + st + "**"
			}
			fmt.Fprintf(bw, "| %s | %s | %s | %s | %s |\n", c.Target, c.Benchmark, actual, target, st)
		}
	}
	return bw.Flush()
}

// WriteJSON writes the results and target checks as one JSON object.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Timestamp time.Time `json:"timestamp"`
		GoVersion string    `json:"goVersion"`
		OS        string    `json:"os"`
		Arch      string    `json:"arch"`
		Results   []Result  `json:"results"`
		Checks    []Check   `json:"checks"`
	}{r.Timestamp, r.GoVersion, r.OS, r.Arch, r.Results, r.Check()})
}

// Write writes the report in format: text, markdown or json.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "text", "txt":
		return r.WriteText(w)
	case "markdown", "md":
		return r.WriteMarkdown(w)
	case "json":
		return r.WriteJSON(w)
	default:
		return fmt.Errorf("unknown report format: %s", format)
	}
}

// Summary returns a short overview of the results.
func (r *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total benchmarks: %d\n", len(r.Results))

	if len(r.Results) > 0 {
		var ns float64
		var allocs int64
		for _, res := range r.Results {
			ns += res.NsPerOp
			allocs += res.AllocsPerOp
		}
		n := float64(len(r.Results))
		fmt.Fprintf(&sb, "Average ns/op: %.2f\n", ns/n)
		fmt.Fprintf(&sb, "Average allocs/op: %.2f\n", float64(allocs)/n)
	}

	checks := r.Check()
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	fmt.Fprintf(&sb, "Targets: %d/%d passed\n", passed, len(checks))
	return sb.String()
}

func status(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func allPassed(checks []Check) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func formatDuration(ns float64) string {
	switch {
	case ns < 1e3:
		return fmt.Sprintf("%.2f ns", ns)
	case ns < 1e6:
		return fmt.Sprintf("%.2f us", ns/1e3)
	case ns < 1e9:
		return fmt.Sprintf("%.2f ms", ns/1e6)
	default:
		return fmt.Sprintf("%.2f s", ns/1e9)
	}
}

func formatOpsPerSec(ops float64) string {
	switch {
	case ops >= 1e6:
		return fmt.Sprintf("%.2fM/s", ops/1e6)
	case ops >= 1e3:
		return fmt.Sprintf("%.2fK/s", ops/1e3)
	default:
		return fmt.Sprintf("%.2f/s", ops)
	}
}
