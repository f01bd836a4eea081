package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/user/shadowshift/internal/types"
)

// EnvPrefix prefixes every config key read from the environment, with dots
// replaced by underscores: poll.window -> SHADOWSHIFT_POLL_WINDOW.
const EnvPrefix = "SHADOWSHIFT"

type Config struct {
	DataDir     string   `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel    string   `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string   `mapstructure:"log_format" yaml:"log_format"`
	SelfAliases []string `mapstructure:"self_aliases" yaml:"self_aliases"`

	Poll struct {
		IntervalSeconds  int      `mapstructure:"interval_seconds" yaml:"interval_seconds"`
		Window           int      `mapstructure:"window" yaml:"window"`
		DraftConcurrency int      `mapstructure:"draft_concurrency" yaml:"draft_concurrency"`
		MaxWords         int      `mapstructure:"max_words" yaml:"max_words"`
		Sources          []string `mapstructure:"sources" yaml:"sources"`
		EventsFile       string   `mapstructure:"events_file" yaml:"events_file"`
	} `mapstructure:"poll" yaml:"poll"`

	Classifier struct {
		Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
		NgramMin  int     `mapstructure:"ngram_min" yaml:"ngram_min"`
		NgramMax  int     `mapstructure:"ngram_max" yaml:"ngram_max"`
		Neighbors int     `mapstructure:"neighbors" yaml:"neighbors"`
		MaxDF     float64 `mapstructure:"max_df" yaml:"max_df"`
		ModelPath string  `mapstructure:"model_path" yaml:"model_path"`
	} `mapstructure:"classifier" yaml:"classifier"`

	Dataset struct {
		Driver     string `mapstructure:"driver" yaml:"driver"`
		DSN        string `mapstructure:"dsn" yaml:"dsn"`
		EventsPath string `mapstructure:"events_path" yaml:"events_path"`
	} `mapstructure:"dataset" yaml:"dataset"`

	LLM struct {
		Provider         string  `mapstructure:"provider" yaml:"provider"`
		BaseURL          string  `mapstructure:"base_url" yaml:"base_url"`
		APIKey           string  `mapstructure:"api_key" yaml:"api_key"`
		Model            string  `mapstructure:"model" yaml:"model"`
		MaxTokens        int     `mapstructure:"max_tokens" yaml:"max_tokens"`
		Temperature      float32 `mapstructure:"temperature" yaml:"temperature"`
		StateTokenBudget int     `mapstructure:"state_token_budget" yaml:"state_token_budget"`
	} `mapstructure:"llm" yaml:"llm"`

	HTTP struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
		Listen  string `mapstructure:"listen" yaml:"listen"`
	} `mapstructure:"http" yaml:"http"`

	Telegram struct {
		Token  string `mapstructure:"token" yaml:"token"`
		ChatID string `mapstructure:"chat_id" yaml:"chat_id"`
	} `mapstructure:"telegram" yaml:"telegram"`

	Gmail struct {
		ClientID          string `mapstructure:"client_id" yaml:"client_id"`
		ClientSecret      string `mapstructure:"client_secret" yaml:"client_secret"`
		RefreshToken      string `mapstructure:"refresh_token" yaml:"refresh_token"`
		Query             string `mapstructure:"query" yaml:"query"`
		Limit             int    `mapstructure:"limit" yaml:"limit"`
		IncludePromotions bool   `mapstructure:"include_promotions" yaml:"include_promotions"`
	} `mapstructure:"gmail" yaml:"gmail"`

	Discord struct {
		BotToken         string   `mapstructure:"bot_token" yaml:"bot_token"`
		ChannelIDs       []string `mapstructure:"channel_ids" yaml:"channel_ids"`
		Limit            int      `mapstructure:"limit" yaml:"limit"`
		NewerThanMinutes int      `mapstructure:"newer_than_minutes" yaml:"newer_than_minutes"`
	} `mapstructure:"discord" yaml:"discord"`

	GitHub struct {
		Token            string   `mapstructure:"token" yaml:"token"`
		Repos            []string `mapstructure:"repos" yaml:"repos"`
		LimitPerRepo     int      `mapstructure:"limit_per_repo" yaml:"limit_per_repo"`
		NewerThanMinutes int      `mapstructure:"newer_than_minutes" yaml:"newer_than_minutes"`
	} `mapstructure:"github" yaml:"github"`
}

// DefaultDataDir is ~/.shadowshift.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".shadowshift")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("self_aliases", []string{"you"})

	v.SetDefault("poll.interval_seconds", 120)
	v.SetDefault("poll.window", 5)
	v.SetDefault("poll.draft_concurrency", 4)
	v.SetDefault("poll.max_words", 140)
	v.SetDefault("poll.sources", []string{"mail", "chat", "vcs"})
	v.SetDefault("poll.events_file", "")

	v.SetDefault("classifier.threshold", 0.5)
	v.SetDefault("classifier.ngram_min", 1)
	v.SetDefault("classifier.ngram_max", 2)
	v.SetDefault("classifier.neighbors", 1)
	v.SetDefault("classifier.max_df", 0.95)
	v.SetDefault("classifier.model_path", "")

	v.SetDefault("dataset.driver", "sqlite")
	v.SetDefault("dataset.dsn", "")
	v.SetDefault("dataset.events_path", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.state_token_budget", 1500)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", "127.0.0.1:8080")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.refresh_token", "")
	v.SetDefault("gmail.query", "newer_than:7d -category:promotions")
	v.SetDefault("gmail.limit", 5)
	v.SetDefault("gmail.include_promotions", false)

	v.SetDefault("discord.bot_token", "")
	v.SetDefault("discord.channel_ids", []string{})
	v.SetDefault("discord.limit", 20)
	v.SetDefault("discord.newer_than_minutes", 0)

	v.SetDefault("github.token", "")
	v.SetDefault("github.repos", []string{})
	v.SetDefault("github.limit_per_repo", 30)
	v.SetDefault("github.newer_than_minutes", 1440)
}

// providerEnv maps config keys to the provider variables they also read.
var providerEnv = map[string][]string{
	"llm.api_key":           {"OPENAI_API_KEY"},
	"llm.base_url":          {"OPENAI_BASE_URL"},
	"llm.model":             {"LLM_MODEL"},
	"telegram.token":        {"TELEGRAM_BOT_TOKEN"},
	"gmail.client_id":       {"CLIENT_ID"},
	"gmail.client_secret":   {"CLIENT_SECRET"},
	"gmail.refresh_token":   {"GMAIL_REFRESH_TOKEN"},
	"discord.bot_token":     {"DISCORD_BOT_TOKEN"},
	"discord.channel_ids":   {"DISCORD_CHANNEL_IDS"},
	"github.token":          {"GITHUB_TOKEN"},
	"github.repos":          {"GITHUB_REPOS"},
	"dataset.dsn":           {"DATABASE_URL"},
	"poll.interval_seconds": {"POLL_EVERY_SECONDS"},

	"discord.newer_than_minutes": {"DISCORD_NEWER_THAN_MIN"},
	"github.newer_than_minutes":  {"GITHUB_NEWER_THAN_MIN"},
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range providerEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, prefixed}, names...)...)
	}
	return v
}

// Load reads the YAML config at path, writing defaults there when the file
// does not exist. An empty path uses defaults and the environment only.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if os.IsNotExist(err) {
			if err := writeDefaults(path); err != nil {
				return nil, err
			}
		} else {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// LLM_OFFLINE=1 forces canned drafts.
	if os.Getenv("LLM_OFFLINE") == "1" {
		cfg.LLM.Provider = "offline"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.Provider == "gemini" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	return cfg, nil
}

func defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func writeDefaults(path string) error {
	return Save(path, defaults())
}

// Save writes cfg to path as YAML via a temp file and rename.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Poll.IntervalSeconds < 1 {
		errs = append(errs, &types.ValidationError{Field: "poll.interval_seconds", Reason: "must be at least 1"})
	}
	if c.Poll.Window < 1 {
		errs = append(errs, &types.ValidationError{Field: "poll.window", Reason: "must be at least 1"})
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		errs = append(errs, &types.ValidationError{Field: "classifier.threshold", Reason: "must be between 0 and 1"})
	}
	switch c.LLM.Provider {
	case "openai", "gemini", "offline":
	default:
		errs = append(errs, &types.ValidationError{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)})
	}
	switch c.Dataset.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, &types.ValidationError{Field: "dataset.driver", Reason: fmt.Sprintf("unknown driver %q", c.Dataset.Driver)})
	}
	if _, err := c.Sources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sources parses poll.sources, dropping duplicates.
func (c *Config) Sources() ([]types.Source, error) {
	seen := make(map[types.Source]bool, len(c.Poll.Sources))
	out := make([]types.Source, 0, len(c.Poll.Sources))
	for _, s := range c.Poll.Sources {
		src, err := types.ParseSource(s)
		if err != nil {
			return nil, err
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out, nil
}

// PollInterval is poll.interval_seconds as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// ModelPath is classifier.model_path, defaulting into the data dir.
func (c *Config) ModelPath() string {
	if c.Classifier.ModelPath != "" {
		return c.Classifier.ModelPath
	}
	return filepath.Join(c.DataDir, "model.ssm")
}

// DatasetDSN is dataset.dsn, defaulting to a sqlite file in the data dir.
func (c *Config) DatasetDSN() string {
	if c.Dataset.DSN != "" {
		return c.Dataset.DSN
	}
	return "file:" + filepath.Join(c.DataDir, "dataset.db")
}

// EventsPath is dataset.events_path, defaulting into the data dir.
func (c *Config) EventsPath() string {
	if c.Dataset.EventsPath != "" {
		return c.Dataset.EventsPath
	}
	return filepath.Join(c.DataDir, "events.jsonl")
}

// PIDPath is where serve records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "shadowshift.pid")
}

// ToMap converts cfg into the nested map written to disk.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues flattens cfg into dotted keys, masking secrets when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readFileMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue returns the value stored under a dotted key in the config file.
// The file is created with defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readFileMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key in an existing config file.
// Values are parsed as YAML scalars, so "16" is an int and "true" a bool.
func SetValue(path, key, value string) error {
	m, err := readFileMap(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = parseScalar(value)
	data, err := yaml.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

// parseScalar reads value as a YAML scalar. Comma-separated values become
// lists; anything that does not parse stays a string.
func parseScalar(s string) any {
	if strings.Contains(s, ",") && !strings.ContainsAny(s, "[]{}") {
		var out []any
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case bool, int, float64, []any:
		return v
	}
	return s
}
