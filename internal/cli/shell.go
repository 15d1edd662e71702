package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fsdb/pkg/fsdb"
)

const shellHelp = `Commands:
  put <key> <value...>   Store a value (rest of the line)
  get <key>              Print a value
  rm <key>...            Remove keys
  has <key>              Report whether a key exists
  ls [prefix] [limit]    List keys
  stat                   Show database size
  help                   Show this help
  exit / quit / q        Exit`

var shellCommands = []string{"put", "get", "rm", "has", "ls", "stat", "help", "exit", "quit"}

var errShellExit = errors.New("exit")

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt on an open database",
		Long: `Open the database once and read commands interactively.

When stdin is not a terminal, commands are read line by line without a prompt.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: shell takes no arguments", ErrTooManyArgs)
			}

			return a.withDB(func(db *fsdb.DB[string]) error {
				sh := &shell{app: a, db: db, o: o}

				if f, ok := o.Stdin().(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
					return sh.interactive(ctx)
				}

				return sh.script(ctx, o.Stdin())
			})
		},
	}
}

type shell struct {
	app *app
	db  *fsdb.DB[string]
	o   *IO
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".fsdb_history")
}

func (sh *shell) interactive(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(prefix)) {
				out = append(out, c)
			}
		}

		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if path := historyFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				_, _ = line.WriteHistory(f)
				_ = f.Close()
			}
		}
	}()

	sh.o.Printf("fsdb shell - %s (%d keys)\n", sh.app.cfg.DirAbs, sh.db.Count())
	sh.o.Println("Type 'help' for available commands.")

	for ctx.Err() == nil {
		input, err := line.Prompt("fsdb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if sh.exec(input) {
			return nil
		}
	}

	return ctx.Err()
}

func (sh *shell) script(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		if sh.exec(input) {
			return nil
		}
	}

	return scanner.Err()
}

// exec runs one shell line. Errors are printed and do not end the session.
// It reports whether the session should end.
func (sh *shell) exec(input string) bool {
	err := sh.dispatch(input)

	switch {
	case errors.Is(err, errShellExit):
		return true
	case err != nil:
		sh.o.ErrPrintln("error:", err)
	}

	return false
}

func (sh *shell) dispatch(input string) error {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(name) {
	case "exit", "quit", "q":
		return errShellExit
	case "help", "?":
		sh.o.Println(shellHelp)
	case "put":
		key, value, ok := strings.Cut(rest, " ")
		if key == "" {
			return ErrKeyRequired
		}

		if !ok {
			value = ""
		}

		return put(sh.o, sh.db, key, []byte(value))
	case "get":
		key, err := singleKey(args)
		if err != nil {
			return err
		}

		return get(sh.o, sh.db, key, true)
	case "rm", "del":
		if len(args) == 0 {
			return ErrKeyRequired
		}

		for _, key := range args {
			err := remove(sh.o, sh.db, key)
			if err != nil {
				return err
			}
		}
	case "has":
		key, err := singleKey(args)
		if err != nil {
			return err
		}

		sh.o.Println(sh.db.Contains(key))
	case "ls":
		prefix, limit := "", 0

		if len(args) > 0 {
			prefix = args[0]
		}

		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return fmt.Errorf("%w: %q", ErrInvalidCount, args[1])
			}

			limit = n
		}

		list(sh.o, sh.db, prefix, limit)
	case "stat":
		stat(sh.o, sh.app, sh.db)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", name)
	}

	return nil
}
