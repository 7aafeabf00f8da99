package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/KilimcininKorOglu/nestkv/internal/storage/hash"
)

// command describes a keyspace command of the shell.
type command struct {
	usage   string
	minArgs int
	maxArgs int // -1 for no limit
	writes  bool
	run     func(ks *hash.Keyspace, args []string, out io.Writer) error
}

const hsetUsage = "HSET key field value [field value ...]"

var commands = map[string]command{
	"HSET": {
		usage:   hsetUsage,
		minArgs: 3, maxArgs: -1, writes: true,
		run: hsetCommand,
	},
	"HSETNX": {
		usage:   "HSETNX key field value",
		minArgs: 3, maxArgs: 3, writes: true,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			set, err := ks.HSetNX(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			writeInteger(out, boolInt(set))
			return nil
		},
	},
	"HGET": {
		usage:   "HGET key field",
		minArgs: 2, maxArgs: 2,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			value, ok, err := ks.HGet(args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				writeNil(out)
				return nil
			}
			writeBulk(out, value)
			return nil
		},
	},
	"HMGET": {
		usage:   "HMGET key field [field ...]",
		minArgs: 2, maxArgs: -1,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			values, err := ks.HMGet(args[0], args[1:]...)
			if err != nil {
				return err
			}
			writeArray(out, values)
			return nil
		},
	},
	"HDEL": {
		usage:   "HDEL key field [field ...]",
		minArgs: 2, maxArgs: -1, writes: true,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			n, err := ks.HDel(args[0], args[1:]...)
			if err != nil {
				return err
			}
			writeInteger(out, int64(n))
			return nil
		},
	},
	"HLEN": {
		usage:   "HLEN key",
		minArgs: 1, maxArgs: 1,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			n, err := ks.HLen(args[0])
			if err != nil {
				return err
			}
			writeInteger(out, int64(n))
			return nil
		},
	},
	"HSTRLEN": {
		usage:   "HSTRLEN key field",
		minArgs: 2, maxArgs: 2,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			n, err := ks.HStrLen(args[0], args[1])
			if err != nil {
				return err
			}
			writeInteger(out, n)
			return nil
		},
	},
	"HGETRANGE": {
		usage:   "HGETRANGE key field offset length",
		minArgs: 4, maxArgs: 4,
		run:     hgetrangeCommand,
	},
	"HEXISTS": {
		usage:   "HEXISTS key field",
		minArgs: 2, maxArgs: 2,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			ok, err := ks.HExists(args[0], args[1])
			if err != nil {
				return err
			}
			writeInteger(out, boolInt(ok))
			return nil
		},
	},
	"HGETALL": {
		usage:   "HGETALL key",
		minArgs: 1, maxArgs: 1,
		run:     hgetallCommand,
	},
	"HKEYS": {
		usage:   "HKEYS key",
		minArgs: 1, maxArgs: 1,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			fields, err := ks.HKeys(args[0])
			if err != nil {
				return err
			}
			writeStrings(out, fields)
			return nil
		},
	},
	"HVALS": {
		usage:   "HVALS key",
		minArgs: 1, maxArgs: 1,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			values, err := ks.HVals(args[0])
			if err != nil {
				return err
			}
			writeStrings(out, values)
			return nil
		},
	},
	"DEL": {
		usage:   "DEL key [key ...]",
		minArgs: 1, maxArgs: -1, writes: true,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			n, err := ks.Del(args...)
			if err != nil {
				return err
			}
			writeInteger(out, int64(n))
			return nil
		},
	},
	"EXISTS": {
		usage:   "EXISTS key [key ...]",
		minArgs: 1, maxArgs: -1,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			var n int64
			for _, key := range args {
				ok, err := ks.Exists(key)
				if err != nil {
					return err
				}
				n += boolInt(ok)
			}
			writeInteger(out, n)
			return nil
		},
	},
	"KEYS": {
		usage:   "KEYS pattern",
		minArgs: 1, maxArgs: 1,
		run: func(ks *hash.Keyspace, args []string, out io.Writer) error {
			it, err := ks.Keys(args[0])
			if err != nil {
				return err
			}
			defer it.Close()
			keys, err := it.Collect()
			if err != nil {
				return err
			}
			writeStrings(out, keys)
			return nil
		},
	},
}

// commandNames returns the keyspace command names in sorted order.
func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hsetCommand(ks *hash.Keyspace, args []string, out io.Writer) error {
	key, pairs := args[0], args[1:]
	if len(pairs)%2 != 0 {
		return fmt.Errorf("%w: usage: %s", errSyntax, hsetUsage)
	}

	var added int64
	for i := 0; i < len(pairs); i += 2 {
		created, err := ks.HSet(key, pairs[i], pairs[i+1])
		if err != nil {
			return err
		}
		added += boolInt(created)
	}
	writeInteger(out, added)
	return nil
}

func hgetrangeCommand(ks *hash.Keyspace, args []string, out io.Writer) error {
	offset, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || offset < 0 {
		return fmt.Errorf("%w: offset must be a non-negative integer", errSyntax)
	}
	n, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: length must be a non-negative integer", errSyntax)
	}

	value, ok, err := ks.HGetRange(args[0], args[1], offset, n)
	if err != nil {
		return err
	}
	if !ok {
		writeNil(out)
		return nil
	}
	writeBulk(out, value)
	return nil
}

// hgetallCommand streams field/value pairs straight from the iterator.
func hgetallCommand(ks *hash.Keyspace, args []string, out io.Writer) error {
	it, err := ks.HGetAll(args[0])
	if err != nil {
		return err
	}
	defer it.Close()

	i := 0
	for it.Next() {
		fmt.Fprintf(out, "%d) %s\n", i+1, strconv.Quote(it.Field()))
		fmt.Fprintf(out, "%d) %s\n", i+2, strconv.Quote(it.Value()))
		i += 2
	}
	if err := it.Err(); err != nil {
		return err
	}
	if i == 0 {
		fmt.Fprintln(out, "(empty array)")
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
