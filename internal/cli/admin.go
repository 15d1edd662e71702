package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fsdb/internal/config"
	"github.com/calvinalkan/fsdb/pkg/fsdb"
)

// InitCmd returns the init command.
func InitCmd(a *app) *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	force := flags.Bool("force", false, "Overwrite an existing config file")

	return &Command{
		Flags: flags,
		Usage: "init [flags]",
		Short: "Create a config file and an empty database",
		Long: `Write the resolved settings to .fsdb.json in the working directory and
create the data directory with an empty database.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: init takes no arguments", ErrTooManyArgs)
			}

			path := filepath.Join(a.cfg.EffectiveCwd, config.FileName)

			exists, err := a.fs.Exists(path)
			if err != nil {
				return fmt.Errorf("checking %s: %w", path, err)
			}

			if exists && !*force {
				return fmt.Errorf("%w: %s", ErrAlreadyInit, path)
			}

			err = config.Write(a.fs, path, a.cfg)
			if err != nil {
				return err
			}

			err = a.withDB(func(*fsdb.DB[string]) error { return nil })
			if err != nil {
				return err
			}

			o.Println("initialized", a.cfg.DirAbs)

			return nil
		},
	}
}

// StatCmd returns the stat command.
func StatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stat", flag.ContinueOnError),
		Usage: "stat",
		Short: "Show database size",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: stat takes no arguments", ErrTooManyArgs)
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				stat(o, a, db)

				return nil
			})
		},
	}
}

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			cfg := a.cfg

			o.Println("effective_cwd=" + cfg.EffectiveCwd)
			o.Println("dir=" + cfg.DirAbs)
			o.Println("prefix=" + cfg.Prefix)
			o.Println("min_record_len=" + strconv.Itoa(cfg.MinRecordLen))
			o.Println("max_file_length=" + strconv.FormatInt(cfg.MaxFileLength, 10))
			o.Println("batch_size_mb=" + strconv.Itoa(cfg.BatchSizeMB))
			o.Println("compress=" + strconv.FormatBool(cfg.Compressed()))

			o.Println("")
			o.Println("# sources")

			if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
				o.Println("(defaults only)")
			} else {
				if cfg.Sources.Global != "" {
					o.Println("global_config=" + cfg.Sources.Global)
				}

				if cfg.Sources.Project != "" {
					o.Println("project_config=" + cfg.Sources.Project)
				}
			}

			return nil
		},
	}
}

func stat(o *IO, a *app, db *fsdb.DB[string]) {
	st := db.Stats()

	o.Println("dir=" + a.cfg.DirAbs)
	o.Println("keys=" + strconv.Itoa(st.Keys))
	o.Println("data_files=" + strconv.Itoa(st.Store.Files))
	o.Printf("data_bytes=%d (%s)\n", st.Store.Bytes, humanize.Bytes(uint64(st.Store.Bytes)))
	o.Printf("index_bytes=%d (%s)\n", st.IndexBytes, humanize.Bytes(uint64(st.IndexBytes)))
}
