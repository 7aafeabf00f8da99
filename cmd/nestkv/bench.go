package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/KilimcininKorOglu/nestkv/benchmarks"
)

// benchReportCmd reads `go test -bench` output from stdin and writes a
// report checked against the benchmark targets.
func benchReportCmd(args []string) int {
	fs := flag.NewFlagSet("bench-report", flag.ContinueOnError)
	fs.SetOutput(stderr)

	format := fs.String("format", "text", "Report format: text, markdown, json")
	output := fs.String("output", "", "Write the report to a file instead of stdout")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printBenchReportUsage(stdout)
		return 0
	}

	results, err := benchmarks.ParseOutput(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(results) == 0 {
		fmt.Fprintln(stderr, "Error: no benchmark results on stdin")
		return 1
	}

	report := benchmarks.NewReport()
	report.Add(results...)

	w := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}

	if err := report.Write(w, *format); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *output != "" {
		fmt.Fprint(stdout, report.Summary())
	}
	return 0
}
