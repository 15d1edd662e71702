package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fsdb/pkg/fsdb"
)

const maxImportLine = 64 << 20

// ImportCmd returns the import command.
func ImportCmd(a *app) *Command {
	flags := flag.NewFlagSet("import", flag.ContinueOnError)
	batchMB := flags.Int("batch-mb", 0, "Bytes per write batch in `MiB` (0 = config batch_size_mb)")

	return &Command{
		Flags: flags,
		Usage: "import [file|-] [flags]",
		Short: "Store key<TAB>value lines in one batch",
		Long: `Read lines of the form key<TAB>value from file (or stdin) and store them
with a batched write. Later lines win over earlier lines with the same key.
Lines without a tab are skipped with a warning.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w: import takes at most one file", ErrTooManyArgs)
			}

			in := o.Stdin()

			if len(args) == 1 && args[0] != "-" {
				path := args[0]
				if !filepath.IsAbs(path) {
					path = filepath.Join(a.cfg.EffectiveCwd, path)
				}

				f, err := a.fs.Open(path)
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close()

				in = f
			}

			entries, err := readEntries(ctx, o, in)
			if err != nil {
				return err
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				err := db.SaveBatch(entries, int64(*batchMB)<<20)
				if err != nil {
					return fmt.Errorf("saving batch: %w", err)
				}

				o.Printf("imported %d entries\n", len(entries))

				return nil
			})
		},
	}
}

// ExportCmd returns the export command.
func ExportCmd(a *app) *Command {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	prefix := flags.String("prefix", "", "Only export keys starting with `prefix`")
	batchMB := flags.Int("batch-mb", 0, "Bytes per read batch in `MiB` (0 = config batch_size_mb)")

	return &Command{
		Flags: flags,
		Usage: "export [flags]",
		Short: "Print all entries as key<TAB>value lines",
		Long: `Print every entry as a key<TAB>value line, sorted by key, using batched
reads. Entries that cannot be represented on one line, or whose value fails
verification, are skipped with a warning.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: export takes no arguments", ErrTooManyArgs)
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				var keys []string

				for _, k := range slices.Sorted(db.Keys()) {
					if strings.HasPrefix(k, *prefix) {
						keys = append(keys, k)
					}
				}

				values := make(map[string][]byte, len(keys))

				seq, finish := db.GetBatch(keys, int64(*batchMB)<<20)
				for k, v := range seq {
					if ctx.Err() != nil {
						break
					}

					values[k] = v
				}

				err := finish()
				if err != nil {
					return fmt.Errorf("reading values: %w", err)
				}

				if err := ctx.Err(); err != nil {
					return err
				}

				for _, k := range keys {
					v := values[k]

					switch {
					case v == nil:
						o.Warn("value of "+strconv.Quote(k)+" failed verification", "it was not exported")
					case !exportable(k, v):
						o.Warn("entry "+strconv.Quote(k)+" contains a tab or newline", "export it with 'fsdb get'")
					default:
						o.Printf("%s\t%s\n", k, v)
					}
				}

				return nil
			})
		},
	}
}

// BulkCmd returns the bulk command.
func BulkCmd(a *app) *Command {
	flags := flag.NewFlagSet("bulk", flag.ContinueOnError)
	size := flags.Int("size", 100, "Value size in `bytes`")
	batchMB := flags.Int("batch-mb", 0, "Bytes per write batch in `MiB` (0 = config batch_size_mb)")

	return &Command{
		Flags: flags,
		Usage: "bulk <count> [flags]",
		Short: "Store random values under random UUID keys",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return ErrInvalidCount
			}

			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: %q", ErrInvalidCount, args[0])
			}

			if *size < 0 {
				return fmt.Errorf("size must not be negative: %d", *size)
			}

			entries := make([]fsdb.Entry[string], n)

			for i := range entries {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				value := make([]byte, *size)
				_, _ = rand.Read(value)

				entries[i] = fsdb.Entry[string]{Key: uuid.NewString(), Value: value}
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				start := time.Now()

				err := db.SaveBatch(entries, int64(*batchMB)<<20)
				if err != nil {
					return fmt.Errorf("saving batch: %w", err)
				}

				total := uint64(n) * uint64(*size)
				o.Printf("wrote %d keys (%s) in %s\n", n, humanize.Bytes(total), time.Since(start).Round(time.Millisecond))

				return nil
			})
		},
	}
}

func readEntries(ctx context.Context, o *IO, in io.Reader) ([]fsdb.Entry[string], error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	var entries []fsdb.Entry[string]

	line := 0

	for scanner.Scan() {
		line++

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		text := scanner.Text()
		if text == "" {
			continue
		}

		key, value, ok := strings.Cut(text, "\t")
		if !ok || key == "" {
			o.Warn("line "+strconv.Itoa(line)+" is not key<TAB>value", "it was skipped")

			continue
		}

		entries = append(entries, fsdb.Entry[string]{Key: key, Value: []byte(value)})
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	return entries, nil
}

func exportable(key string, value []byte) bool {
	return !strings.ContainsAny(key, "\t\n") && !bytes.ContainsAny(value, "\r\n")
}
