package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
)

// shellCmd handles the shell command.
func shellCmd(args []string) int {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dbf := addDBFlags(fs)
	history := fs.String("history", defaultHistoryFile(), "Path to history file, empty to disable")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printShellUsage(stdout)
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

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nestkv> ",
		HistoryFile:     *history,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    shellCompleter(),
		Stdout:          stdout,
		Stderr:          stderr,
	})
	if err != nil {
		closeDB()
		fmt.Fprintf(stderr, "Error initializing readline: %v\n", err)
		return 1
	}
	defer rl.Close()

	fmt.Fprintf(stdout, "nestkv %s (%s)\n", version, cfg.Storage.DataDir)
	fmt.Fprintln(stdout, "Enter .help for usage hints.")

	sess := newSession(db, stdout)
	for {
		rl.SetPrompt(sess.prompt())

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error reading input: %v\n", err)
			break
		}

		if err := sess.execLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			writeError(stdout, err)
		}
	}

	code := 0
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

func defaultHistoryFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".nestkv_history")
}

func shellCompleter() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".stats"),
		readline.PcItem(".checkpoint"),
		readline.PcItem(".exit"),
		readline.PcItem("BEGIN", readline.PcItem("READONLY")),
		readline.PcItem("COMMIT"),
		readline.PcItem("ROLLBACK"),
	}
	for _, name := range commandNames() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}
