// Package cli implements the fsdb command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fsdb/internal/config"
	"github.com/calvinalkan/fsdb/pkg/fs"
	"github.com/calvinalkan/fsdb/pkg/fsdb"
	"github.com/calvinalkan/fsdb/pkg/keyindex"
)

var (
	ErrKeyRequired     = errors.New("key is required")
	ErrKeyNotFound     = errors.New("key not found")
	ErrValueUnreadable = errors.New("value failed verification")
	ErrTooManyArgs     = errors.New("too many arguments")
	ErrAlreadyInit     = errors.New("config file already exists (use --force to overwrite)")
	ErrInvalidCount    = errors.New("count must be a positive integer")
)

// app is the state shared by all commands of one invocation.
type app struct {
	cfg config.Config
	log *slog.Logger
	fs  fs.FS
}

// openDB opens the database described by the resolved config.
func (a *app) openDB() (*fsdb.DB[string], error) {
	cfg := a.cfg.DB()
	cfg.FS = a.fs
	cfg.Logger = a.log

	return fsdb.Open(cfg, keyindex.StringKeys)
}

// withDB opens the database, runs fn and closes it.
func (a *app) withDB(fn func(db *fsdb.DB[string]) error) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}

	return errors.Join(fn(db), db.Close())
}

func commands(a *app) []*Command {
	return []*Command{
		InitCmd(a),
		PutCmd(a),
		GetCmd(a),
		RmCmd(a),
		HasCmd(a),
		LsCmd(a),
		StatCmd(a),
		ImportCmd(a),
		ExportCmd(a),
		BulkCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a),
	}
}

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. A signal on it cancels the context handed to the
// running command.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("fsdb", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use specified config `file`")
	dataDir := globals.String("dir", "", "Override the data `dir`")
	compress := globals.Bool("compress", false, "Store values zstd-compressed")
	verbose := globals.BoolP("verbose", "v", false, "Log engine events to stderr")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()

	input := config.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		Overrides:       config.Overrides{Dir: *dataDir},
		Env:             env,
	}

	if globals.Changed("compress") {
		input.Overrides.Compress = compress
	}

	cfg, err := config.Load(input)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	a := &app{
		cfg: cfg,
		log: slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
		fs:  fs.NewReal(),
	}

	cmds := commands(a)

	if *help || len(rest) == 0 {
		printUsage(out, globals, cmds)

		return 0
	}

	if rest[0] == "help" && len(rest) > 1 {
		rest = []string{rest[1], "--help"}
	} else if rest[0] == "help" {
		printUsage(out, globals, cmds)

		return 0
	}

	var cmd *Command

	for _, c := range cmds {
		if c.Name() == rest[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, globals, cmds)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(stdin, out, errOut), rest[1:])
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, cmds []*Command) {
	fprintln(w, `fsdb - embedded key-value store

Usage: fsdb [options] <command> [args]

Options:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	if len(cmds) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range cmds {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, `Run "fsdb <command> --help" for command details.`)
}
