package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/shadowshift/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		p := &prompter{scanner: bufio.NewScanner(cmd.InOrStdin()), out: out}

		fmt.Fprintln(out, "ShadowShift Setup Wizard")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		cfg.LLM.Provider = p.ask("LLM provider (openai, gemini, offline)", cfg.LLM.Provider)
		if cfg.LLM.Provider != "offline" {
			cfg.LLM.BaseURL = p.ask("LLM base URL (optional)", cfg.LLM.BaseURL)
			cfg.LLM.APIKey = p.ask("LLM API key", cfg.LLM.APIKey)
			cfg.LLM.Model = p.ask("LLM model name", cfg.LLM.Model)
		}

		cfg.Poll.IntervalSeconds = p.askInt("Poll interval (seconds)", cfg.Poll.IntervalSeconds)
		cfg.SelfAliases = p.askList("Your names/handles (comma separated)", cfg.SelfAliases)

		cfg.Telegram.Token = p.ask("Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			cfg.Telegram.ChatID = p.ask("Telegram chat id", cfg.Telegram.ChatID)
		}

		cfg.Gmail.ClientID = p.ask("Gmail OAuth client id (optional)", cfg.Gmail.ClientID)
		if cfg.Gmail.ClientID != "" {
			cfg.Gmail.ClientSecret = p.ask("Gmail OAuth client secret", cfg.Gmail.ClientSecret)
			cfg.Gmail.RefreshToken = p.ask("Gmail refresh token", cfg.Gmail.RefreshToken)
		}

		cfg.Discord.BotToken = p.ask("Discord bot token (optional)", cfg.Discord.BotToken)
		if cfg.Discord.BotToken != "" {
			cfg.Discord.ChannelIDs = p.askList("Discord channel ids (comma separated)", cfg.Discord.ChannelIDs)
		}

		cfg.GitHub.Token = p.ask("GitHub token (optional)", cfg.GitHub.Token)
		if cfg.GitHub.Token != "" {
			cfg.GitHub.Repos = p.askList("GitHub repos, owner/name (comma separated)", cfg.GitHub.Repos)
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// ask displays a labeled prompt with a default value and reads one line.
// An empty answer keeps the default.
func (p *prompter) ask(label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	if p.scanner.Scan() {
		if input := strings.TrimSpace(p.scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}

func (p *prompter) askInt(label string, defaultVal int) int {
	s := p.ask(label, strconv.Itoa(defaultVal))
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func (p *prompter) askList(label string, defaultVal []string) []string {
	s := p.ask(label, strings.Join(defaultVal, ","))
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
