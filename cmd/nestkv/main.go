// Package main provides the nestkv command line tool.
package main

import (
	"fmt"
	"io"
	"os"
)

// Output streams, replaced by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	exitCode := run(os.Args)
	os.Exit(exitCode)
}

// run executes the CLI and returns an exit code.
// This is separated from main() to facilitate testing.
func run(args []string) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 1
	}

	switch args[1] {
	case "shell":
		return shellCmd(args[2:])
	case "exec":
		return execCmd(args[2:])
	case "stats":
		return statsCmd(args[2:])
	case "checkpoint":
		return checkpointCmd(args[2:])
	case "backup":
		return backupCmd(args[2:])
	case "restore":
		return restoreCmd(args[2:])
	case "config":
		return configCmd(args[2:])
	case "bench-report":
		return benchReportCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		fmt.Fprintln(stderr, "Run 'nestkv help' for usage.")
		return 1
	}
}
