package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/KilimcininKorOglu/nestkv/internal/storage/engine"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/stream"
)

// Session errors.
var (
	errQuit          = errors.New("quit")
	errSyntax        = errors.New("syntax error")
	errUnknown       = errors.New("unknown command")
	errInTransaction = errors.New("transaction already in progress")
	errNoTransaction = errors.New("no transaction in progress")
	errReadOnly      = errors.New("command not allowed in a read-only transaction")
	errNotWatching   = errors.New("not watching")
)

// session executes commands against a database. Outside BEGIN/COMMIT every
// command runs in its own transaction. A session belongs to one goroutine.
type session struct {
	db    *engine.DB
	tx    *engine.Tx
	watch *stream.Subscriber
	out   io.Writer
}

func newSession(db *engine.DB, out io.Writer) *session {
	return &session{db: db, out: out}
}

// prompt returns the shell prompt for the session state.
func (s *session) prompt() string {
	switch {
	case s.tx == nil:
		return "nestkv> "
	case s.tx.Writable():
		return "nestkv[RW]> "
	default:
		return "nestkv[RO]> "
	}
}

// close rolls back a transaction left open and ends a watch.
func (s *session) close() error {
	if s.watch != nil {
		s.db.Unwatch(s.watch)
		s.watch = nil
	}
	if s.tx == nil {
		return nil
	}
	err := s.db.Rollback(s.tx)
	s.tx = nil
	return err
}

// execLine splits and runs one command line. Blank lines and lines starting
// with '#' are ignored.
func (s *session) execLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	err = s.exec(ctx, args)
	s.printEvents()
	return err
}

// printEvents writes the change events received since the last command.
func (s *session) printEvents() {
	if s.watch == nil {
		return
	}
	for {
		select {
		case ev, ok := <-s.watch.Events():
			if !ok {
				s.watch = nil
				return
			}
			if ev.Field != "" {
				fmt.Fprintf(s.out, "-> %d %s %s %s\n", ev.Token, ev.Operation, strconv.Quote(ev.Key), strconv.Quote(ev.Field))
			} else {
				fmt.Fprintf(s.out, "-> %d %s %s\n", ev.Token, ev.Operation, strconv.Quote(ev.Key))
			}
		default:
			return
		}
	}
}

// exec runs one command. It returns errQuit for .exit.
func (s *session) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}

	name := strings.ToUpper(args[0])
	if strings.HasPrefix(name, ".") {
		return s.dotCommand(ctx, strings.ToLower(name), args[1:])
	}

	switch name {
	case "BEGIN":
		return s.begin(ctx, args[1:])
	case "COMMIT":
		return s.commit()
	case "ROLLBACK":
		return s.rollback()
	}

	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w %q", errUnknown, args[0])
	}
	args = args[1:]
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return fmt.Errorf("%w: usage: %s", errSyntax, cmd.usage)
	}

	run := func(t *engine.Tx) error {
		return cmd.run(t.Keyspace(), args, s.out)
	}

	if s.tx != nil {
		if cmd.writes && !s.tx.Writable() {
			return errReadOnly
		}
		return run(s.tx)
	}
	if cmd.writes {
		return s.db.Update(ctx, run)
	}
	return s.db.View(ctx, run)
}

func (s *session) begin(ctx context.Context, args []string) error {
	if s.tx != nil {
		return errInTransaction
	}
	writable := true
	switch {
	case len(args) == 0:
	case len(args) == 1 && strings.EqualFold(args[0], "READONLY"):
		writable = false
	default:
		return fmt.Errorf("%w: usage: BEGIN [READONLY]", errSyntax)
	}

	t, err := s.db.Begin(ctx, writable)
	if err != nil {
		return err
	}
	s.tx = t
	if writable {
		fmt.Fprintln(s.out, "OK (read-write transaction)")
	} else {
		fmt.Fprintln(s.out, "OK (read-only transaction)")
	}
	return nil
}

func (s *session) commit() error {
	if s.tx == nil {
		return errNoTransaction
	}
	t := s.tx
	s.tx = nil
	if err := s.db.Commit(t); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *session) rollback() error {
	if s.tx == nil {
		return errNoTransaction
	}
	t := s.tx
	s.tx = nil
	if err := s.db.Rollback(t); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *session) dotCommand(ctx context.Context, name string, args []string) error {
	switch name {
	case ".help":
		printShellHelp(s.out)
		return nil
	case ".exit", ".quit":
		return errQuit
	case ".stats":
		stats, err := s.db.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(s.out, stats)
		return nil
	case ".checkpoint":
		if s.tx != nil {
			return errInTransaction
		}
		result, err := s.db.Checkpoint(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "OK (lsn %d, %d WAL bytes, %d free pages)\n",
			result.LSN, result.WALBytes, result.FreePages)
		return nil
	case ".watch":
		return s.startWatch(args)
	case ".unwatch":
		if s.watch == nil {
			return errNotWatching
		}
		s.db.Unwatch(s.watch)
		s.watch = nil
		fmt.Fprintln(s.out, "OK")
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknown, name)
	}
}

// startWatch subscribes the session to committed changes of the keys
// matching an optional glob pattern.
func (s *session) startWatch(args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: usage: .watch [pattern]", errSyntax)
	}
	filter := stream.MatchAll()
	if len(args) == 1 {
		filter = stream.MatchPattern(args[0])
	}
	sub, err := s.db.Watch(filter)
	if err != nil {
		return err
	}
	if s.watch != nil {
		s.db.Unwatch(s.watch)
	}
	s.watch = sub
	fmt.Fprintln(s.out, "OK")
	return nil
}

// splitArgs splits a command line on whitespace. Double-quoted arguments
// use Go string escapes; single-quoted ones are taken literally.
func splitArgs(line string) ([]string, error) {
	var args []string
	for i := 0; i < len(line); {
		switch c := line[i]; {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("%w: unterminated quote", errSyntax)
			}
			arg, err := strconv.Unquote(line[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errSyntax, err)
			}
			args = append(args, arg)
			i = j + 1
		case c == '\'':
			j := strings.IndexByte(line[i+1:], '\'')
			if j < 0 {
				return nil, fmt.Errorf("%w: unterminated quote", errSyntax)
			}
			args = append(args, line[i+1:i+1+j])
			i += j + 2
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' {
				j++
			}
			args = append(args, line[i:j])
			i = j
		}
	}
	return args, nil
}

// =============================================================================
// Reply formatting
// =============================================================================

func writeInteger(w io.Writer, n int64) {
	fmt.Fprintf(w, "(integer) %d\n", n)
}

func writeBulk(w io.Writer, s string) {
	fmt.Fprintln(w, strconv.Quote(s))
}

func writeNil(w io.Writer) {
	fmt.Fprintln(w, "(nil)")
}

func writeArray(w io.Writer, items []*string) {
	if len(items) == 0 {
		fmt.Fprintln(w, "(empty array)")
		return
	}
	for i, item := range items {
		if item == nil {
			fmt.Fprintf(w, "%d) (nil)\n", i+1)
		} else {
			fmt.Fprintf(w, "%d) %s\n", i+1, strconv.Quote(*item))
		}
	}
}

func writeStrings(w io.Writer, items []string) {
	ptrs := make([]*string, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	writeArray(w, ptrs)
}

func writeError(w io.Writer, err error) {
	fmt.Fprintf(w, "(error) ERR %v\n", err)
}
