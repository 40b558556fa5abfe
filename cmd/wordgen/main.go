// Command wordgen trains, inspects and samples word models from the command
// line, using the same database layout as the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const usage = `usage: wordgen <command> [flags]

commands:
  train     build a model from a corpus file and store it
  generate  sample words from a stored model
  export    write a stored model as JSON
  import    store a model from a JSON export
  list      list stored models
  stats     show the shape of a stored model

run "wordgen <command> -h" for the flags of a command.
`

// command runs one subcommand. Output meant for the user goes to stdout.
type command func(ctx context.Context, args []string, stdout io.Writer) error

var commands = map[string]command{
	"train":    runTrain,
	"generate": runGenerate,
	"export":   runExport,
	"import":   runImport,
	"list":     runList,
	"stats":    runStats,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "wordgen %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	dbPath   string
	logLevel string
}

func newFlagSet(name string, c *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.dbPath, "db", "./data/logogen.db", "path to the model database")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return fs
}

func (c *commonFlags) logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
