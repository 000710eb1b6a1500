package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"octopus/internal/cli"
	"octopus/internal/config"
	"octopus/internal/core"
	applog "octopus/internal/log"
)

const usage = `usage: octopus <command> [flags]

commands:
  login      authenticate and show the session and load status
  register   create an account (does not log in)
  budget     show the budget collections and aggregates
  health     show the health collections and today's summary
  summary    show the aggregates of both domains
  export     write this month's summary row to the spreadsheet
  serve      run the local bridge API

Credentials come from -u/-p or OCTOPUS_USERNAME/OCTOPUS_PASSWORD.
`

type command func(ctx context.Context, env *environment, args []string) error

var commands = map[string]command{
	"login":    runLogin,
	"register": runRegister,
	"budget":   runBudget,
	"health":   runHealth,
	"summary":  runSummary,
	"export":   runExport,
	"serve":    runServe,
}

// environment is the state shared by every subcommand.
type environment struct {
	cfg    *config.Config
	logger *applog.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Fprint(os.Stdout, usage)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	env := &environment{cfg: cfg, logger: cli.SetupLogger(cfg)}

	if err := cmd(context.Background(), env, os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "octopus %s: %v\n", name, err)
		if core.RequiresReauth(err) {
			fmt.Fprintln(os.Stderr, "the session was rejected; check the credentials and log in again")
		}
		os.Exit(1)
	}
}
