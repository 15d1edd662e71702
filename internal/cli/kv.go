package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fsdb/pkg/fsdb"
)

// PutCmd returns the put command.
func PutCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("put", flag.ContinueOnError),
		Usage: "put <key> [value|-]",
		Short: "Store a value",
		Long: `Store value under key, replacing any previous value.

With no value, or "-", the value is read from stdin.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 || args[0] == "" {
				return ErrKeyRequired
			}

			if len(args) > 2 {
				return fmt.Errorf("%w: put takes a key and one value", ErrTooManyArgs)
			}

			var value []byte

			if len(args) == 1 || args[1] == "-" {
				data, err := io.ReadAll(o.Stdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}

				value = data
			} else {
				value = []byte(args[1])
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				return put(o, db, args[0], value)
			})
		},
	}
}

// GetCmd returns the get command.
func GetCmd(a *app) *Command {
	flags := flag.NewFlagSet("get", flag.ContinueOnError)
	noNewline := flags.BoolP("no-newline", "n", false, "Do not print a trailing newline")

	return &Command{
		Flags: flags,
		Usage: "get <key> [flags]",
		Short: "Print a value",
		Long:  "Print the value stored under key. Fails if the key is missing or its value is corrupt.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			key, err := singleKey(args)
			if err != nil {
				return err
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				return get(o, db, key, !*noNewline)
			})
		},
	}
}

// RmCmd returns the rm command.
func RmCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rm", flag.ContinueOnError),
		Usage: "rm <key>...",
		Short: "Remove keys",
		Long:  "Remove each key. Missing keys produce a warning. The value space is not reclaimed.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return ErrKeyRequired
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				for _, key := range args {
					err := remove(o, db, key)
					if err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

// HasCmd returns the has command.
func HasCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("has", flag.ContinueOnError),
		Usage: "has <key>",
		Short: "Report whether a key exists",
		Exec: func(_ context.Context, o *IO, args []string) error {
			key, err := singleKey(args)
			if err != nil {
				return err
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				o.Println(db.Contains(key))

				return nil
			})
		},
	}
}

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)
	prefix := flags.String("prefix", "", "Only list keys starting with `prefix`")
	limit := flags.Int("limit", 0, "Stop after `n` keys (0 = all)")

	return &Command{
		Flags: flags,
		Usage: "ls [flags]",
		Short: "List keys in sorted order",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: ls takes no arguments", ErrTooManyArgs)
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				list(o, db, *prefix, *limit)

				return nil
			})
		},
	}
}

func singleKey(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", ErrKeyRequired
	}

	if len(args) > 1 {
		return "", fmt.Errorf("%w: expected one key", ErrTooManyArgs)
	}

	return args[0], nil
}

func put(o *IO, db *fsdb.DB[string], key string, value []byte) error {
	err := db.Save(key, value)
	if err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}

	o.Println("saved", key)

	return nil
}

func get(o *IO, db *fsdb.DB[string], key string, newline bool) error {
	value, err := db.Get(key)
	if err != nil {
		return fmt.Errorf("reading %q: %w", key, err)
	}

	if value == nil {
		if db.Contains(key) {
			return fmt.Errorf("%w: %s", ErrValueUnreadable, key)
		}

		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	_, _ = o.Write(value)

	if newline {
		o.Println()
	}

	return nil
}

func remove(o *IO, db *fsdb.DB[string], key string) error {
	removed, err := db.Remove(key)
	if err != nil {
		return fmt.Errorf("removing %q: %w", key, err)
	}

	if !removed {
		o.Warn("key not found: "+key, "nothing was removed for it")

		return nil
	}

	o.Println("removed", key)

	return nil
}

func list(o *IO, db *fsdb.DB[string], prefix string, limit int) {
	keys := slices.Sorted(db.Keys())

	n := 0

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}

		o.Println(k)

		n++
		if limit > 0 && n >= limit {
			return
		}
	}
}
