package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/nestkv/internal/backup"
)

// backupCmd handles the backup command.
func backupCmd(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbf := addDBFlags(fs)
	output := fs.String("output", "", "Output file path")
	compress := fs.Bool("compress", false, "Compress backup file with zstd")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printBackupUsage(stdout)
		return 0
	}

	if *output == "" {
		fmt.Fprintln(stderr, "Error: -output is required")
		return 1
	}

	cfg, err := dbf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, closeDB, err := openDB(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening database: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Creating backup...\n")
	fmt.Fprintf(stdout, "  Output:      %s\n", *output)
	fmt.Fprintf(stdout, "  Data Dir:    %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(stdout, "  Compress:    %v\n", *compress)

	code := 0
	stats, err := backup.Create(ctx, db, backup.Options{OutputPath: *output, Compress: *compress})
	if err != nil {
		fmt.Fprintf(stderr, "Backup failed: %v\n", err)
		code = 1
	} else {
		fmt.Fprintf(stdout, "\nBackup completed successfully!\n")
		fmt.Fprintf(stdout, "  Total pages: %d\n", stats.Pages)
		fmt.Fprintf(stdout, "  LSN:         %d\n", stats.LSN)
		fmt.Fprintf(stdout, "  File bytes:  %d\n", stats.FileBytes)
		if *compress {
			fmt.Fprintf(stdout, "  Compressed:  %.1f%% reduction\n", stats.CompressionRatio()*100)
		}
		fmt.Fprintf(stdout, "  Duration:    %v\n", stats.Duration.Round(time.Millisecond))
	}

	if err := closeDB(); err != nil {
		fmt.Fprintf(stderr, "Error closing database: %v\n", err)
		code = 1
	}
	return code
}

// restoreCmd handles the restore command. With -verify-only it checks the
// backup file and leaves the data directory alone.
func restoreCmd(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbf := addDBFlags(fs)
	input := fs.String("input", "", "Input backup file path")
	force := fs.Bool("force", false, "Replace an existing database")
	verifyOnly := fs.Bool("verify-only", false, "Verify the backup file without restoring it")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printRestoreUsage(stdout)
		return 0
	}

	if *input == "" {
		fmt.Fprintln(stderr, "Error: -input is required")
		return 1
	}

	if *verifyOnly {
		header, err := backup.Verify(*input)
		if err != nil {
			fmt.Fprintf(stderr, "Verification failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Backup is valid\n")
		fmt.Fprintf(stdout, "  Taken:       %s\n", header.Time().UTC().Format(time.RFC3339))
		fmt.Fprintf(stdout, "  Total pages: %d\n", header.TotalPages)
		fmt.Fprintf(stdout, "  LSN:         %d\n", header.LSN)
		fmt.Fprintf(stdout, "  Compressed:  %v\n", header.IsCompressed())
		return 0
	}

	cfg, err := dbf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Restoring from backup...\n")
	fmt.Fprintf(stdout, "  Input:    %s\n", *input)
	fmt.Fprintf(stdout, "  Data Dir: %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(stdout, "  Force:    %v\n", *force)

	stats, err := backup.Restore(backup.RestoreOptions{
		InputPath: *input,
		DataDir:   cfg.Storage.DataDir,
		Force:     *force,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Restore failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "\nRestore completed successfully!\n")
	fmt.Fprintf(stdout, "  Total pages: %d\n", stats.Pages)
	fmt.Fprintf(stdout, "  LSN:         %d\n", stats.LSN)
	fmt.Fprintf(stdout, "  Duration:    %v\n", stats.Duration.Round(time.Millisecond))
	return 0
}
