package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `nestkv - transactional store of nested hash values

Usage:
  nestkv <command> [options]

Commands:
  shell         Start the interactive shell
  exec          Run a command or a script from stdin
  stats         Show database statistics
  checkpoint    Recover and checkpoint the database
  backup        Create a database backup
  restore       Restore a database from backup
  config        Configuration management
  bench-report  Summarize benchmark output against targets
  version       Show version information

Use "nestkv <command> -h" for more information about a command.
`)
}

const dbOptionsUsage = `  -config string
        Path to configuration file
  -data-dir string
        Data directory path (overrides config, default "/var/lib/nestkv")
  -log-level string
        Log level: debug, info, warn, error (overrides config)
`

const envUsage = `Environment Variables:
  NESTKV_STORAGE_DATA_DIR    Override data directory path
  NESTKV_BLOB_COMPRESSION    Override value compression: none, snappy, zstd
  NESTKV_LOGGING_LEVEL       Override log level
  NESTKV_LOGGING_FORMAT      Override log format
  NESTKV_TELEMETRY_ENABLED   Enable or disable telemetry
`

// printShellUsage prints the shell command usage.
func printShellUsage(w io.Writer) {
	fmt.Fprint(w, `Start the interactive shell

Usage:
  nestkv shell [options]

Options:
`+dbOptionsUsage+`  -history string
        Path to history file, empty to disable (default "~/.nestkv_history")
  -h, -help
        Show this help message

`+envUsage)
}

// printExecUsage prints the exec command usage.
func printExecUsage(w io.Writer) {
	fmt.Fprint(w, `Run a command or a script from stdin

Usage:
  nestkv exec [options] [COMMAND [ARG ...]]

With a command, runs it and exits. Without one, runs each line of standard
input as a shell command and stops at the first error.

Options:
`+dbOptionsUsage+`  -keep-going
        Continue a script after a failing command
  -h, -help
        Show this help message

Examples:
  nestkv exec -data-dir ./db HSET user:1 name ada
  printf 'BEGIN\nHSET k f v\nCOMMIT\n' | nestkv exec -data-dir ./db

`+envUsage)
}

// printStatsUsage prints the stats command usage.
func printStatsUsage(w io.Writer) {
	fmt.Fprint(w, `Show database statistics

Usage:
  nestkv stats [options]

Options:
`+dbOptionsUsage+`  -h, -help
        Show this help message
`)
}

// printCheckpointUsage prints the checkpoint command usage.
func printCheckpointUsage(w io.Writer) {
	fmt.Fprint(w, `Recover and checkpoint the database

Usage:
  nestkv checkpoint [options]

Replays committed transactions left in the WAL, writes them to the data
file and truncates the WAL.

Options:
`+dbOptionsUsage+`  -h, -help
        Show this help message
`)
}

// printBackupUsage prints the backup command usage.
func printBackupUsage(w io.Writer) {
	fmt.Fprint(w, `Create a database backup

Usage:
  nestkv backup [options] -output FILE

Checkpoints the database and copies every page of the data file. Other
users of the database wait while the pages are copied.

Options:
`+dbOptionsUsage+`  -output string
        Output file path (required)
  -compress
        Compress backup file with zstd
  -h, -help
        Show this help message

Examples:
  nestkv backup -data-dir ./db -output nestkv.nkvb
  nestkv backup -config /etc/nestkv/config.yaml -compress -output nestkv.nkvb
`)
}

// printRestoreUsage prints the restore command usage.
func printRestoreUsage(w io.Writer) {
	fmt.Fprint(w, `Restore a database from backup

Usage:
  nestkv restore [options] -input FILE

The database must not be open while it is restored. The WAL in the data
directory is removed.

Options:
`+dbOptionsUsage+`  -input string
        Input backup file path (required)
  -force
        Replace an existing database
  -verify-only
        Verify the backup file without restoring it
  -h, -help
        Show this help message

Examples:
  nestkv restore -data-dir ./db -input nestkv.nkvb
  nestkv restore -input nestkv.nkvb -verify-only
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  nestkv config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Generate default configuration
  show        Show effective configuration
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  nestkv version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}

// printShellHelp prints the commands understood by the shell.
func printShellHelp(w io.Writer) {
	fmt.Fprintln(w, "Hash commands:")
	for _, name := range commandNames() {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Transactions:")
	fmt.Fprintln(w, "  BEGIN [READONLY]   start a transaction")
	fmt.Fprintln(w, "  COMMIT             commit the open transaction")
	fmt.Fprintln(w, "  ROLLBACK           discard the open transaction")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Shell:")
	fmt.Fprintln(w, "  .stats             show database statistics")
	fmt.Fprintln(w, "  .checkpoint        checkpoint the WAL")
	fmt.Fprintln(w, "  .watch [pattern]   print committed changes to matching keys")
	fmt.Fprintln(w, "  .unwatch           stop printing changes")
	fmt.Fprintln(w, "  .help              show this help")
	fmt.Fprintln(w, "  .exit              leave the shell")
	fmt.Fprintln(w)
	fmt.Fprintln(w, `Quote arguments containing spaces with "..." or '...'.`)
}

// printBenchReportUsage prints the bench-report command usage.
func printBenchReportUsage(w io.Writer) {
	fmt.Fprint(w, `Summarize benchmark output against targets

Usage:
  go test -bench=. -benchmem ./benchmarks | nestkv bench-report [options]

Options:
  -format string
        Report format: text, markdown, json (default "text")
  -output string
        Write the report to a file instead of stdout
  -h, -help
        Show this help message
`)
}
