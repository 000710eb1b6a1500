package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"octopus/internal/aggregate"
	"octopus/internal/app"
	"octopus/internal/cli"
	"octopus/internal/core"
	apphttp "octopus/internal/http"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
)

// credentialFlags registers -u, -p and -backend with env defaults.
type credentialFlags struct {
	username string
	password string
	backend  string
}

func (c *credentialFlags) register(fs *flag.FlagSet, env *environment) {
	fs.StringVar(&c.username, "u", env.cfg.Username, "username (default $OCTOPUS_USERNAME)")
	fs.StringVar(&c.password, "p", env.cfg.Password, "password (default $OCTOPUS_PASSWORD)")
	fs.StringVar(&c.backend, "backend", env.cfg.AuthBackend, "backend to authenticate against: budget or health")
}

func (c *credentialFlags) domain() (core.Domain, error) {
	return core.ParseDomain(c.backend)
}

// newApp builds the facade with the snapshot store and the configured
// export target. The returned cleanup closes them.
func newApp(ctx context.Context, env *environment) (*app.App, func()) {
	store, cacheManager := cli.InitSnapshotStore(ctx, env.logger, env.cfg)
	summaries := cli.InitSummaryWriter(ctx, env.logger, env.cfg)
	a := cli.NewApp(env.logger, env.cfg, nil, store, nil, summaries)
	return a, func() {
		cacheManager.Stop()
		if err := store.Close(); err != nil {
			env.logger.Warn("Failed to close snapshot store", applog.FieldError, err)
		}
	}
}

// loginApp builds the facade and logs in with the parsed credentials.
func loginApp(ctx context.Context, env *environment, creds credentialFlags) (*app.App, func(), error) {
	backend, err := creds.domain()
	if err != nil {
		return nil, nil, err
	}
	a, cleanup := newApp(ctx, env)
	if err := a.Login(ctx, creds.username, creds.password, backend); err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runLogin(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, cleanup, err := loginApp(ctx, env, creds)
	if err != nil {
		return err
	}
	defer cleanup()
	return printJSON(map[string]any{
		"session": a.Session(),
		"budget":  a.Budget().Status,
		"health":  a.Health().Status,
	})
}

func runRegister(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	backend, err := creds.domain()
	if err != nil {
		return err
	}

	a, cleanup := newApp(ctx, env)
	defer cleanup()
	conf, err := a.Register(ctx, creds.username, creds.password, backend)
	if err != nil {
		return err
	}
	return printJSON(conf)
}

func runBudget(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("budget", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	lastKnown := fs.Bool("last-known", false, "print the last persisted snapshot without logging in")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *lastKnown {
		a, cleanup := newApp(ctx, env)
		defer cleanup()
		snap, err := a.LastKnownBudget(ctx)
		if err != nil {
			return err
		}
		return printJSON(snap)
	}

	a, cleanup, err := loginApp(ctx, env, creds)
	if err != nil {
		return err
	}
	defer cleanup()
	snap := a.Budget()
	if snap.Cause != nil {
		return snap.Cause
	}
	return printJSON(snap)
}

func runHealth(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	lastKnown := fs.Bool("last-known", false, "print the last persisted snapshot without logging in")
	today := fs.Bool("today", false, "print only today's entries and summary")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *lastKnown {
		a, cleanup := newApp(ctx, env)
		defer cleanup()
		snap, err := a.LastKnownHealth(ctx)
		if err != nil {
			return err
		}
		return printJSON(snap)
	}

	a, cleanup, err := loginApp(ctx, env, creds)
	if err != nil {
		return err
	}
	defer cleanup()
	snap := a.Health()
	if snap.Cause != nil {
		return snap.Cause
	}
	if *today {
		day := snap.Aggregates.Today
		return printJSON(map[string]any{
			"summary": snap.Aggregates,
			"entries": aggregate.TodayEntries(snap.Collections, day),
		})
	}
	return printJSON(snap)
}

func runSummary(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, cleanup, err := loginApp(ctx, env, creds)
	if err != nil {
		return err
	}
	defer cleanup()

	budget, health := a.Budget(), a.Health()
	if err := errors.Join(budget.Cause, health.Cause); err != nil {
		return err
	}
	b, h := budget.Aggregates, health.Aggregates
	w := os.Stdout
	fmt.Fprintf(w, "Budget\n")
	fmt.Fprintf(w, "  Monthly income          %12s  (%d sources)\n", b.MonthlyIncome.StringFixed(2), b.IncomeSources)
	fmt.Fprintf(w, "  Monthly subscriptions   %12s  (%d active)\n", b.MonthlySubscriptions.StringFixed(2), b.SubscriptionCount)
	fmt.Fprintf(w, "  Monthly net             %12s\n", b.MonthlyNet.StringFixed(2))
	fmt.Fprintf(w, "  Accounts total          %12s  (%d accounts)\n", b.AccountsTotal.StringFixed(2), b.AccountCount)
	fmt.Fprintf(w, "  Debt total              %12s  (%d debts)\n", b.DebtTotal.StringFixed(2), b.DebtCount)
	fmt.Fprintf(w, "Health (%s)\n", h.Today)
	fmt.Fprintf(w, "  Exercise minutes        %12d  (%d sessions)\n", h.TodayExerciseMinutes, h.TodayExercises)
	fmt.Fprintf(w, "  Calories                %12d  (%d meals)\n", h.TodayCalories, h.TodayMeals)
	latest := "-"
	if h.LatestWeight != nil {
		latest = fmt.Sprintf("%.1f (%s)", *h.LatestWeight, h.LatestWeightDate)
	}
	fmt.Fprintf(w, "  Latest weight           %12s\n", latest)
	fmt.Fprintf(w, "  Active goals            %12d  (of %d)\n", h.ActiveGoals, h.TotalGoals)
	return nil
}

func runExport(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	dryRun := fs.Bool("dry-run", false, "print the row without writing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, cleanup, err := loginApp(ctx, env, creds)
	if err != nil {
		return err
	}
	defer cleanup()

	if *dryRun {
		row, err := a.SummaryRow()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(cellStrings(row.Values()), "\t"))
		return nil
	}
	exp, err := a.ExportSummary(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", exp.Row.Period, exp.Ref)
	return nil
}

func cellStrings(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func runServe(_ context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var creds credentialFlags
	creds.register(fs, env)
	port := fs.String("port", env.cfg.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	backend, err := creds.domain()
	if err != nil {
		return err
	}

	logger := env.logger
	m := metrics.New()
	var running atomic.Pointer[apphttp.Server]
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if srv := running.Load(); srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				logger.ErrorContext(ctx, "Server shutdown error", applog.FieldError, err)
			}
		}
	})

	store, cacheManager := cli.InitSnapshotStore(ctx, logger, env.cfg)
	defer store.Close()
	defer cacheManager.Stop()
	events := cli.InitAMQP(logger, env.cfg)
	if events != nil {
		defer events.Close()
	}
	a := cli.NewApp(logger, env.cfg, m, store, events, cli.InitSummaryWriter(ctx, logger, env.cfg))

	if creds.username != "" && creds.password != "" {
		if err := a.Login(ctx, creds.username, creds.password, backend); err != nil {
			logger.WarnContext(ctx, "Startup login failed, waiting for a login over the API", applog.FieldError, err)
		}
	}

	srv := apphttp.NewServer(":"+*port, a, apphttp.WithLogger(logger), apphttp.WithMetrics(m))
	running.Store(srv)
	go func() {
		logger.InfoContext(ctx, "Bridge API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "Server error", applog.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	return nil
}
