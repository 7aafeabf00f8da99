package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KilimcininKorOglu/nestkv/internal/storage/engine"
)

// stdin is the script source of exec, replaced by tests.
var stdin io.Reader = os.Stdin

// execCmd handles the exec command. It runs the command given as arguments,
// or every line of standard input when there are none.
func execCmd(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbf := addDBFlags(fs)
	keepGoing := fs.Bool("keep-going", false, "Continue a script after a failing command")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printExecUsage(stdout)
		return 0
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

	sess := newSession(db, stdout)
	code := 0
	if fs.NArg() > 0 {
		if err := sess.exec(ctx, fs.Args()); err != nil && !errors.Is(err, errQuit) {
			writeError(stderr, err)
			code = 1
		}
	} else {
		code = runScript(ctx, sess, stdin, *keepGoing)
	}

	if err := sess.close(); err != nil {
		fmt.Fprintf(stderr, "Error rolling back open transaction: %v\n", err)
		code = 1
	}
	if err := closeDB(); err != nil {
		fmt.Fprintf(stderr, "Error closing database: %v\n", err)
		code = 1
	}
	return code
}

// runScript executes r line by line. A transaction left open at the end is
// rolled back by the caller.
func runScript(ctx context.Context, sess *session, r io.Reader, keepGoing bool) int {
	code := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		err := sess.execLine(ctx, scanner.Text())
		if err == nil {
			continue
		}
		if errors.Is(err, errQuit) {
			break
		}
		fmt.Fprintf(stderr, "line %d: ", lineNo)
		writeError(stderr, err)
		code = 1
		if !keepGoing {
			return code
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(stderr, "Error reading input: %v\n", err)
		return 1
	}
	return code
}

// statsCmd handles the stats command.
func statsCmd(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbf := addDBFlags(fs)
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printStatsUsage(stdout)
		return 0
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

	code := 0
	stats, err := db.Stats(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error collecting stats: %v\n", err)
		code = 1
	} else {
		printStats(stdout, stats)
	}

	if err := closeDB(); err != nil {
		fmt.Fprintf(stderr, "Error closing database: %v\n", err)
		code = 1
	}
	return code
}

// checkpointCmd handles the checkpoint command.
func checkpointCmd(args []string) int {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbf := addDBFlags(fs)
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printCheckpointUsage(stdout)
		return 0
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

	code := 0
	recovery := db.Recovery()
	result, err := db.Checkpoint(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Checkpoint failed: %v\n", err)
		code = 1
	} else {
		fmt.Fprintf(stdout, "Recovered:  %d transactions, %d pages\n", recovery.Committed, recovery.PagesRedone)
		fmt.Fprintf(stdout, "Checkpoint: lsn %d, %d free pages, %s\n",
			result.LSN, result.FreePages, result.Duration.Round(time.Microsecond))
	}

	if err := closeDB(); err != nil {
		fmt.Fprintf(stderr, "Error closing database: %v\n", err)
		code = 1
	}
	return code
}

// printStats prints database statistics.
func printStats(w io.Writer, stats engine.Stats) {
	pages := stats.Pages
	ks := stats.Keyspace

	fmt.Fprintln(w, "Keyspace:")
	fmt.Fprintf(w, "  Keys:          %d\n", ks.Keys)
	fmt.Fprintf(w, "  Fields:        %d\n", ks.Fields)
	fmt.Fprintf(w, "  Tree height:   %d\n", ks.Height)
	fmt.Fprintf(w, "  Tree pages:    %d\n", ks.TreePages)
	fmt.Fprintf(w, "  Nested pages:  %d\n", ks.NestedPages)
	fmt.Fprintln(w, "Pages:")
	fmt.Fprintf(w, "  Total:         %d\n", pages.TotalPages)
	fmt.Fprintf(w, "  Used:          %d\n", pages.UsedPages)
	fmt.Fprintf(w, "  Free:          %d\n", pages.FreePages)
	fmt.Fprintf(w, "  Meta:          %d\n", pages.MetaPages)
	fmt.Fprintf(w, "  File size:     %d bytes\n", pages.FileSizeBytes)
	fmt.Fprintf(w, "  Cache:         %d/%d pages, %.1f%% hits\n",
		pages.Cache.Size, pages.Cache.Capacity, pages.Cache.HitRate()*100)
	fmt.Fprintln(w, "WAL:")
	fmt.Fprintf(w, "  Size:          %d bytes\n", stats.WALBytes)
	fmt.Fprintf(w, "  Checkpoint:    lsn %d", stats.LastCheckpointLSN)
	if !stats.LastCheckpoint.IsZero() {
		fmt.Fprintf(w, " at %s", stats.LastCheckpoint.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Recovered:     %d transactions, %d pages\n",
		stats.Recovery.Committed, stats.Recovery.PagesRedone)
	fmt.Fprintln(w, "Transactions:")
	fmt.Fprintf(w, "  Active:        %d\n", stats.ActiveTransactions)
	fmt.Fprintf(w, "  Next ID:       %d\n", stats.NextTxID)
	fmt.Fprintln(w, "Watch:")
	fmt.Fprintf(w, "  Subscribers:   %d\n", stats.Watch.Subscribers)
	fmt.Fprintf(w, "  Events:        %d (%d dropped)\n", stats.Watch.CurrentToken, stats.Watch.Dropped)
}
