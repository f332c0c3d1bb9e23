package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"repp/internal/config"
	"repp/internal/rulebook"
	"repp/internal/ticker"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your repp setup",
		Long: `Verifies that the config, credentials, rulebook and metrics address
are usable. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

type doctor struct {
	out                    io.Writer
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Fprintf(d.out, "  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Fprintf(d.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Fprintf(d.out, "  [WARN] %-20s %s\n", check, detail)
}

func runDoctor(out io.Writer, cfgPath string) error {
	d := &doctor{out: out}
	fmt.Fprintf(out, "repp doctor v%s\n\n", version)

	if _, err := os.Stat(cfgPath); err != nil {
		d.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
	} else {
		d.pass("Config file", cfgPath)
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		d.fail("Config validation", err.Error())
		return d.summary()
	}
	d.pass("Config validation", "valid")

	if _, _, err := cfg.SlackTokens(); err != nil {
		d.warn("Slack tokens", err.Error())
	} else {
		d.pass("Slack tokens", "found")
	}
	if _, err := cfg.DiscordToken(); err != nil {
		d.warn("Discord token", err.Error())
	} else if cfg.Discord.GuildID == "" {
		d.warn("Discord token", "found, but discord.guildId is not set")
	} else {
		d.pass("Discord token", "found")
	}

	book, err := rulebook.Load(cfg.Rules.Path, logger)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.fail("Rulebook", fmt.Sprintf("not found at %s (run 'repp init')", cfg.Rules.Path))
	case err != nil:
		d.fail("Rulebook", err.Error())
	default:
		d.pass("Rulebook", cfg.Rules.Path)
		if _, err := ticker.New(ticker.Config{Jobs: book.Jobs(), Logger: logger}); err != nil {
			d.fail("Rulebook jobs", err.Error())
		} else {
			d.pass("Rulebook jobs", fmt.Sprintf("%d scheduled", len(book.Jobs())))
		}
	}

	if cfg.Metrics.Enabled {
		if err := checkAddr(cfg.Metrics.Addr); err != nil {
			d.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
		} else {
			d.pass("Metrics address", cfg.Metrics.Addr+" available")
		}
	}

	return d.summary()
}

func (d *doctor) summary() error {
	fmt.Fprintf(d.out, "\nResults: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
