package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/audit"
	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/internal/config"
	"github.com/butterflyhq/butterfly/internal/db"
	"github.com/butterflyhq/butterfly/internal/llm/adapter"
	"github.com/butterflyhq/butterfly/internal/search"
	"github.com/butterflyhq/butterfly/internal/search/tavily"
)

// Analyzer runs one causal analysis. *causal.Pipeline implements it.
type Analyzer interface {
	AnalyzeWithProgress(ctx context.Context, event, perspective string, detailLevel int, obs causal.Observer) (*causal.AnalysisResponse, error)
}

// Components are the collaborators built from configuration.
type Components struct {
	LLM      adapter.LLMAdapter
	Searcher search.Searcher
	Pipeline *causal.Pipeline
}

// NewComponents builds the LLM adapter, the searcher and the pipeline. A
// missing LLM credential yields an unconfigured adapter, and a missing search
// credential disables verification searches; neither is an error.
func NewComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	llm, err := NewLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !llm.Configured() {
		logger.Warn("LLM provider not configured, analyses will fail with 503",
			zap.String("provider", cfg.LLM.Provider))
	}

	searcher, err := NewSearcher(cfg)
	if err != nil {
		return nil, err
	}
	if searcher.Name() == "none" {
		logger.Info("search provider disabled, steps will not be verified")
	}

	comps := &Components{LLM: llm, Searcher: searcher}
	comps.Pipeline = newPipeline(comps, cfg, logger)
	return comps, nil
}

func newPipeline(comps *Components, cfg *config.Config, logger *zap.Logger) *causal.Pipeline {
	return causal.NewPipeline(comps.LLM, comps.Searcher,
		causal.WithLogger(logger.Named("causal")),
		causal.WithTemperature(cfg.LLM.Temperature),
		causal.WithMaxTokens(cfg.LLM.MaxTokens),
	)
}

// NewLLM creates the LLM adapter for cfg.LLM.
func NewLLM(ctx context.Context, cfg *config.Config) (adapter.LLMAdapter, error) {
	llm, err := adapter.NewLLMAdapter(ctx, &adapter.Config{
		Provider:   adapter.ProviderType(cfg.LLM.Provider),
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    seconds(cfg.LLM.TimeoutSeconds),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM adapter: %w", err)
	}
	return llm, nil
}

// NewSearcher creates the instrumented searcher for cfg.Search.
func NewSearcher(cfg *config.Config) (search.Searcher, error) {
	switch cfg.Search.Provider {
	case "", "none":
		return search.Instrument(search.Disabled{}), nil
	case "tavily":
		if cfg.Search.APIKey == "" {
			return search.Instrument(search.Disabled{}), nil
		}
		client, err := tavily.NewClient(tavily.Config{
			APIKey:            cfg.Search.APIKey,
			BaseURL:           cfg.Search.BaseURL,
			MaxResults:        cfg.Search.MaxResults,
			Timeout:           seconds(cfg.Search.TimeoutSeconds),
			RequestsPerSecond: cfg.Search.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize search client: %w", err)
		}
		return search.Instrument(client), nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Search.Provider)
	}
}

// NewAuditLogger creates the audit logger and, when a database path is set,
// the store it mirrors into. The store is nil when no path is configured.
// Auditing disabled yields audit.NopLogger.
func NewAuditLogger(cfg *config.Config, logger *zap.Logger) (audit.Logger, db.Store, error) {
	if !cfg.Audit.Enabled {
		return audit.NopLogger{}, nil, nil
	}

	var store db.Store
	if cfg.Database.SQLitePath != "" {
		s, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		store = s
	}

	auditCfg := audit.DefaultConfig()
	auditCfg.AuditLogPath = cfg.Audit.LogPath
	auditCfg.AppLogger = logger
	if store != nil {
		auditCfg.Store = store
	}

	auditLogger, err := audit.NewLogger(auditCfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	return auditLogger, store, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
