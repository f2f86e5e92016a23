package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/SonJH7/Yakssok/internal/config"
)

// CLI is the command tree of the yakssok binary.
type CLI struct {
	Serve   serveCmd   `cmd:"" help:"Run the HTTP API and the scheduled calendar resync." default:"1"`
	Migrate migrateCmd `cmd:"" help:"Apply database migrations and exit."`
	Resync  resyncCmd  `cmd:"" help:"Run one resync pass over pending calendar syncs."`

	Credential struct {
		Set credentialSetCmd `cmd:"" help:"Store a user's Google refresh token."`
	} `cmd:"" help:"Manage stored Google credentials."`

	Token struct {
		Issue tokenIssueCmd `cmd:"" help:"Issue a bearer token for a user."`
	} `cmd:"" help:"Manage API bearer tokens."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, config.Load); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run parses args and executes the selected command.
func run(ctx context.Context, args []string, stdout io.Writer, load func() (config.Config, error)) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("yakssok"),
		kong.Description("Group appointment scheduling with Google Calendar sync."),
		kong.UsageOnError(),
		kong.Writers(stdout, os.Stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&runContext{
		ctx:        ctx,
		stdout:     stdout,
		loadConfig: load,
		now:        time.Now,
	})
}

// runContext is bound to every command's Run method.
type runContext struct {
	ctx        context.Context
	stdout     io.Writer
	loadConfig func() (config.Config, error)
	now        func() time.Time
}
