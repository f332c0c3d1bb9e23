package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"repp/internal/bus"
	"repp/internal/channel"
	"repp/internal/config"
	"repp/internal/directory"
	"repp/internal/domain"
	"repp/internal/metrics"
	"repp/internal/pipeline"
	"repp/internal/rulebook"
	"repp/internal/ticker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// transport is a platform channel that can also deliver replies.
type transport interface {
	domain.Channel
	domain.Sender
}

// runSpec describes one platform run.
type runSpec struct {
	transport transport
	lister    domain.UserLister // nil: no user directory
	mentions  *regexp.Regexp
}

func slackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slack",
		Short: "Connect to Slack (Socket Mode) and route messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			bot, app, err := cfg.SlackTokens()
			if err != nil {
				return err
			}
			sl := channel.NewSlack(channel.SlackConfig{
				BotToken:  bot,
				AppToken:  app,
				APIURL:    cfg.Slack.APIURL,
				SendRate:  cfg.Slack.SendPerSec,
				SendBurst: cfg.Slack.SendBurst,
				Logger:    logger,
			})
			return run(cfg, runSpec{transport: sl, lister: sl, mentions: pipeline.SlackMentionPattern})
		},
	}
}

func discordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discord",
		Short: "Connect to a Discord guild and route messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := cfg.DiscordToken()
			if err != nil {
				return err
			}
			dc, err := channel.NewDiscord(channel.DiscordConfig{
				Token:   token,
				GuildID: cfg.Discord.GuildID,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			return run(cfg, runSpec{transport: dc, lister: dc, mentions: pipeline.DiscordMentionPattern})
		},
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Talk to the rulebook from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sh, err := channel.NewShell(channel.ShellConfig{
				Out:    os.Stdout,
				User:   cfg.Shell.User,
				Prompt: cfg.Shell.Prompt,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			return run(cfg, runSpec{transport: sh})
		},
	}
}

// run wires the pipeline around one transport and blocks until the
// transport stops or a signal arrives.
func run(cfg *config.Config, p runSpec) error {
	app, err := rulebook.Load(cfg.Rules.Path, logger)
	if err != nil {
		return fmt.Errorf("%w (run 'repp init' to create an example)", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := p.transport.Name()
	events := bus.NewEventBus(logger)

	var (
		users pipeline.UserResolver
		dir   *directory.Directory
	)
	if p.lister != nil {
		dir = directory.New(directory.Config{
			Lister:   p.lister,
			PageSize: cfg.Directory.PageSize,
			Logger:   logger,
		})
		users = dir
	}

	handler := pipeline.NewHandler(pipeline.Config{
		Application:     app,
		Sender:          p.transport,
		Users:           users,
		MentionPattern:  p.mentions,
		Source:          source,
		MaxTriggerDepth: cfg.Triggers.MaxDepth,
		MaxInFlight:     cfg.Triggers.MaxInFlight,
		Events:          events,
		Logger:          logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Enabled {
		mcfg := metrics.Config{
			Events:   events,
			InFlight: func() float64 { return float64(handler.Triggers().InFlight()) },
		}
		if dir != nil {
			mcfg.DirectorySize = func() float64 { return float64(dir.Len()) }
		}
		m := metrics.New(mcfg)
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Addr, logger) })
	}

	if jobs := app.Jobs(); len(jobs) > 0 {
		tk, err := ticker.New(ticker.Config{Processor: handler, Jobs: jobs, Logger: logger})
		if err != nil {
			return fmt.Errorf("ticker: %w", err)
		}
		g.Go(func() error {
			tk.Start(gctx)
			return nil
		})
	}

	if dir != nil {
		g.Go(func() error {
			if err := dir.Refresh(gctx); err != nil {
				logger.Warn("initial user directory load failed", "err", err)
			} else {
				logger.Info("user directory loaded", "users", dir.Len())
			}
			return nil
		})
	}

	g.Go(func() error {
		// The transport returning (EOF, /quit, disconnect) ends the run.
		defer cancel()
		return p.transport.Start(gctx, handler)
	})

	logger.Info("repp started", "source", source, "version", version)
	runErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.General.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, abandoning trigger tasks", "in_flight", handler.Triggers().InFlight())
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("shutdown complete")
	}
	return runErr
}
