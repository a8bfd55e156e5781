package screwnote

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/config"
	"github.com/h0pes/screw.nvim-sub001/pkg/mode"
)

// Main is the CLI entry point. It takes a context for cancellation and the
// command line arguments, so tests can drive it without building the binary.
//
// Usage:
//
//	screwnote [flags] <command>
//
//	status    Print the resolved session status
//	stats     Print note statistics for the active backend
//	sync      Pull the latest note set from the shared backend
//	migrate   Copy notes between the local and remote backends
//	switch    Change the storage mode, migrating the working set
func Main(ctx context.Context, args []string) error {
	cmd, cfg, opts, err := Parse(args)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, opts.verbose)

	app := New(cfg, logger,
		WithPrompter(stdinPrompter{in: os.Stdin, out: os.Stderr}),
		WithConfirmer(stdinConfirmer{in: os.Stdin, out: os.Stderr}),
	)
	defer app.Close()

	if err := app.Setup(ctx); err != nil {
		return err
	}
	return cmd.run(ctx, app, os.Stdout)
}

type cliOptions struct {
	verbose bool
}

type command interface {
	run(ctx context.Context, app *App, out io.Writer) error
}

// Parse splits the argument list into the command to execute, the session
// configuration and the shared CLI options.
func Parse(args []string) (command, *config.Config, cliOptions, error) {
	flagSet := flag.NewFlagSet("screwnote", flag.ContinueOnError)

	var (
		workspace = flagSet.String("workspace", ".", "Workspace directory holding the notes")
		verbose   = flagSet.Bool("verbose", false, "Enable debug logging")
		force     = flagSet.Bool("force", false, "Skip confirmation prompts")
		target    = flagSet.String("to", "", "Target for switch: local or collaborative")
		direction = flagSet.String("direction", "local-to-remote", "Migration direction: local-to-remote or remote-to-local")
	)

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, cliOptions{}, err
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		return nil, nil, cliOptions{}, fmt.Errorf(`command required

Usage: screwnote [flags] <command>

Commands:
  status    Print the resolved session status
  stats     Print note statistics for the active backend
  sync      Pull the latest note set from the shared backend
  migrate   Copy notes between the local and remote backends
  switch    Change the storage mode (requires -to local|collaborative)

Examples:
  screwnote status
  screwnote -workspace ~/src/audit stats
  screwnote sync
  screwnote migrate -direction local-to-remote
  screwnote -force switch -to collaborative`)
	}

	cfg, err := config.FromEnv(*workspace)
	if err != nil {
		return nil, nil, cliOptions{}, err
	}

	var cmd command
	switch remaining[0] {
	case "status":
		cmd = statusCommand{}
	case "stats":
		cmd = statsCommand{}
	case "sync":
		cmd = syncCommand{}
	case "migrate":
		d := mode.Direction(*direction)
		if d != mode.DirectionLocalToRemote && d != mode.DirectionRemoteToLocal {
			return nil, nil, cliOptions{}, fmt.Errorf("invalid migration direction %q", *direction)
		}
		cmd = migrateCommand{direction: d}
	case "switch":
		var m mode.Mode
		switch *target {
		case "local":
			m = mode.ModeLocal
		case "collaborative":
			m = mode.ModeCollaborative
		default:
			return nil, nil, cliOptions{}, fmt.Errorf("switch requires -to local or -to collaborative")
		}
		cmd = switchCommand{target: m, force: *force}
	default:
		return nil, nil, cliOptions{}, fmt.Errorf("unknown command: %s\n\nValid commands: status, stats, sync, migrate, switch", remaining[0])
	}

	return cmd, cfg, cliOptions{verbose: *verbose}, nil
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
}

type statusCommand struct{}

func (statusCommand) run(ctx context.Context, app *App, out io.Writer) error {
	return printJSON(out, app.Status())
}

type statsCommand struct{}

func (statsCommand) run(ctx context.Context, app *App, out io.Writer) error {
	stats, err := app.StorageStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

type syncCommand struct{}

func (syncCommand) run(ctx context.Context, app *App, out io.Writer) error {
	notes, err := app.SyncNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "synced %d notes\n", len(notes))
	return nil
}

type migrateCommand struct {
	direction mode.Direction
}

func (c migrateCommand) run(ctx context.Context, app *App, out io.Writer) error {
	result, err := app.Migrate(ctx, c.direction)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result)
	return nil
}

type switchCommand struct {
	target mode.Mode
	force  bool
}

func (c switchCommand) run(ctx context.Context, app *App, out io.Writer) error {
	if err := app.SwitchMode(ctx, c.target, c.force); err != nil {
		return err
	}
	fmt.Fprintf(out, "mode is now %s\n", c.target)
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stdinPrompter resolves ambiguous detection outcomes interactively on the
// terminal. Anything other than a listed option cancels.
type stdinPrompter struct {
	in  io.Reader
	out io.Writer
}

func (p stdinPrompter) ChooseMode(ctx context.Context, reason string, options []mode.Choice) mode.Choice {
	fmt.Fprintf(p.out, "%s\n", reason)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
	fmt.Fprint(p.out, "choice: ")

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil {
		return mode.ChoiceCancelled
	}
	line = strings.TrimSpace(line)
	for i, o := range options {
		if line == fmt.Sprintf("%d", i+1) || line == string(o) {
			return options[i]
		}
	}
	return mode.ChoiceCancelled
}

type stdinConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (c stdinConfirmer) Confirm(ctx context.Context, message string) bool {
	fmt.Fprintf(c.out, "%s [y/N]: ", message)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
