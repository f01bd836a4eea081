package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/classifier"
	"github.com/user/shadowshift/internal/config"
	"github.com/user/shadowshift/internal/dataset"
	"github.com/user/shadowshift/internal/draft"
	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/sources"
	"github.com/user/shadowshift/internal/types"
	"github.com/user/shadowshift/pkg/llm"
	"github.com/user/shadowshift/pkg/llm/gemini"
	"github.com/user/shadowshift/pkg/llm/openai"
)

func classifierOptions(cfg *config.Config) classifier.Options {
	return classifier.Options{
		NgramMin:  cfg.Classifier.NgramMin,
		NgramMax:  cfg.Classifier.NgramMax,
		Neighbors: cfg.Classifier.Neighbors,
		MaxDF:     cfg.Classifier.MaxDF,
	}
}

// newProvider returns nil in offline mode.
func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	lc := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		JSONMode:    true,
	}
	switch cfg.LLM.Provider {
	case "offline":
		return nil, nil
	case "gemini":
		c, err := gemini.New(ctx, lc)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		if lc.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key is required for provider %q (set LLM_OFFLINE=1 for canned drafts)", cfg.LLM.Provider)
		}
		return openai.New(lc), nil
	}
}

func newDrafter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*draft.Drafter, error) {
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	counter, err := draft.NewTiktokenCounter(cfg.LLM.Model)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating tokens", zap.Error(err))
		counter = draft.ApproxCounter
	}
	return draft.New(provider,
		draft.WithBudget(draft.NewBudget(counter, cfg.LLM.StateTokenBudget)),
		draft.WithLogger(logger),
	), nil
}

// newSources builds one source per configured kind. With poll.events_file
// set every kind replays that file; otherwise kinds without credentials are
// skipped.
func newSources(cfg *config.Config, logger *zap.Logger) ([]sources.Source, error) {
	kinds, err := cfg.Sources()
	if err != nil {
		return nil, err
	}

	var out []sources.Source
	for _, kind := range kinds {
		if cfg.Poll.EventsFile != "" {
			out = append(out, sources.NewFile(kind, cfg.Poll.EventsFile))
			continue
		}
		switch kind {
		case types.SourceMail:
			gc := sources.GmailConfig{
				ClientID:          cfg.Gmail.ClientID,
				ClientSecret:      cfg.Gmail.ClientSecret,
				RefreshToken:      cfg.Gmail.RefreshToken,
				Query:             cfg.Gmail.Query,
				Limit:             cfg.Gmail.Limit,
				IncludePromotions: cfg.Gmail.IncludePromotions,
			}
			if !gc.Enabled() {
				logger.Warn("mail source disabled (missing gmail credentials)")
				continue
			}
			out = append(out, sources.NewGmail(gc))
		case types.SourceChat:
			dc := sources.DiscordConfig{
				BotToken:   cfg.Discord.BotToken,
				ChannelIDs: cfg.Discord.ChannelIDs,
				Limit:      cfg.Discord.Limit,
				NewerThan:  time.Duration(cfg.Discord.NewerThanMinutes) * time.Minute,
			}
			if !dc.Enabled() {
				logger.Warn("chat source disabled (missing discord token or channels)")
				continue
			}
			out = append(out, sources.NewDiscord(dc, logger))
		case types.SourceVCS:
			hc := sources.GitHubConfig{
				Token:        cfg.GitHub.Token,
				Repos:        cfg.GitHub.Repos,
				LimitPerRepo: cfg.GitHub.LimitPerRepo,
				NewerThan:    time.Duration(cfg.GitHub.NewerThanMinutes) * time.Minute,
			}
			if !hc.Enabled() {
				logger.Warn("vcs source disabled (missing github token or repos)")
				continue
			}
			out = append(out, sources.NewGitHub(hc, logger))
		}
	}
	return out, nil
}

func openDataset(ctx context.Context, cfg *config.Config) (*dataset.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return dataset.Open(ctx, cfg.Dataset.Driver, cfg.DatasetDSN())
}

// buildDataset reads the events file, labels every thread prefix and
// replaces the stored dataset.
func buildDataset(ctx context.Context, cfg *config.Config, store *dataset.Store, path string, window int) ([]types.TrainingExample, error) {
	events, err := dataset.ReadEventsFile(path, normalize.New(cfg.SelfAliases))
	if err != nil {
		return nil, err
	}
	rows, err := dataset.Build(events, window, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no labeled examples in %s (%d events)", path, len(events))
	}
	if err := store.Replace(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// trainModel fits on rows and saves the model with the dataset digest.
func trainModel(cfg *config.Config, rows []types.TrainingExample) (*classifier.Model, classifier.FitSummary, error) {
	m, summary, err := classifier.Fit(rows, classifierOptions(cfg))
	if err != nil {
		return nil, summary, err
	}
	m = m.WithDigest(dataset.Digest(rows))
	if err := m.Save(cfg.ModelPath()); err != nil {
		return nil, summary, err
	}
	return m, summary, nil
}

// ensureModel loads the saved model when it matches the stored dataset and
// refits otherwise. It returns nil without error when there is nothing to
// train on.
func ensureModel(ctx context.Context, cfg *config.Config, store *dataset.Store, logger *zap.Logger) (*classifier.Model, error) {
	rows, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	digest := dataset.Digest(rows)

	m, err := classifier.Load(cfg.ModelPath())
	switch {
	case err == nil && (len(rows) == 0 || m.Digest() == digest):
		return m, nil
	case err == nil:
		logger.Info("model is stale, refitting", zap.String("model_digest", m.Digest()), zap.String("dataset_digest", digest))
	case errors.Is(err, os.ErrNotExist):
	default:
		logger.Warn("saved model unreadable, refitting", zap.Error(err))
	}

	if len(rows) == 0 {
		return nil, nil
	}
	m, summary, err := trainModel(cfg, rows)
	if err != nil {
		return nil, err
	}
	logger.Info("model trained",
		zap.Int("examples", summary.Count),
		zap.Int("classes", len(summary.Actions)),
		zap.String("path", cfg.ModelPath()))
	return m, nil
}
