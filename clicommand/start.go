package clicommand

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/minicd/minicd/api"
	"github.com/minicd/minicd/config"
	"github.com/minicd/minicd/definition"
	"github.com/minicd/minicd/indexer"
	"github.com/minicd/minicd/internal/git"
	"github.com/minicd/minicd/internal/httpclient"
	"github.com/minicd/minicd/logger"
	"github.com/minicd/minicd/mail"
	"github.com/minicd/minicd/metrics"
	"github.com/minicd/minicd/runner"
	"github.com/minicd/minicd/secrets"
	"github.com/minicd/minicd/version"
	"github.com/minicd/minicd/webhook"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

const startDescription = `Usage:

    minicd start [options...]

Description:

Starts the minicd agent: an HTTP server that accepts post-receive
notifications from git repositories and runs the jobs declared in each
repository's ` + definition.FileName + `, and an indexer that installs the
notifying hook into every bare repository under the configured root.

Most settings come from the configuration files or MINICD_* environment
variables rather than flags; see the configuration reference for the
full list.

Example:

    $ minicd start

    # With an explicit configuration file
    $ minicd start --config /etc/minicd/config.toml`

// shutdownGrace bounds how long detached jobs get to abort and release
// their workspaces once the server has stopped.
const shutdownGrace = 30 * time.Second

var StartCommand = cli.Command{
	Name:        "start",
	Usage:       "Starts the minicd agent",
	Description: startDescription,
	Flags:       slices.Concat([]cli.Flag{ConfigFlag}, globalFlags()),
	Action: func(c *cli.Context) error {
		l, err := createLogger(c)
		if err != nil {
			return err
		}
		return start(c, l)
	},
}

func start(c *cli.Context, l logger.Logger) error {
	cfg, err := config.Load(l, c.String("config"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	l.Notice("Starting minicd v%s with PID: %d", version.Version(), os.Getpid())

	store := secrets.Empty()
	if cfg.SecretsFile != "" {
		if store, err = secrets.Load(cfg.SecretsFile); err != nil {
			return err
		}
		l.Debug("Loaded secrets from %s", cfg.SecretsFile)
	}

	var mailer *mail.Mailer
	if cfg.Email.Configured() {
		mailer, err = mail.New(cfg.Email.SMTPServer, cfg.Email.SMTPPort, cfg.Email.Username, cfg.Email.Password, cfg.Email.From)
		if err != nil {
			return fmt.Errorf("configuring mail transport: %w", err)
		}
	} else {
		l.Info("No email transport configured, email notification targets will be skipped")
	}

	var defaultShell definition.ShellLine
	if cfg.DefaultShell != "" {
		parts, err := shellwords.Split(cfg.DefaultShell)
		if err != nil {
			return fmt.Errorf("parsing default_shell: %w", err)
		}
		if len(parts) == 0 {
			return fmt.Errorf("default_shell %q has no words", cfg.DefaultShell)
		}
		defaultShell = definition.ShellLine{Runner: parts[0], Args: parts[1:]}
	}

	collector := metrics.NewCollector(l, metrics.Config{
		Statsd:     cfg.Metrics.Statsd,
		StatsdHost: cfg.Metrics.StatsdHost,
	})
	if err := collector.Start(); err != nil {
		return fmt.Errorf("starting metrics collector: %w", err)
	}
	defer func() {
		if err := collector.Stop(); err != nil {
			l.Warn("Stopping metrics collector: %v", err)
		}
	}()

	r := runner.New(l, runner.Config{
		Secrets:      store,
		Mailer:       mailer,
		Webhooks:     webhook.New(l, store, httpclient.New()),
		Git:          git.NewClient(l),
		Metrics:      collector,
		DefaultShell: defaultShell,
	})

	server := api.NewServer(l, r, cfg.Address, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })

	if cfg.RepoDir != "" {
		idx := indexer.New(l, cfg.RepoDir, cfg.Port, cfg.IndexInterval())
		g.Go(func() error { return idx.Run(gctx) })
	} else {
		l.Info("No repo_dir configured, repository indexing is disabled")
	}

	runErr := g.Wait()

	// The server is down; give detached jobs a bounded window to wind up.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		l.Warn("Detached jobs did not finish within %v: %v", shutdownGrace, err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
