// Package bootstrap wires configuration, storage, the inference engine,
// and the pipeline into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"jobsift/adapter/in/runner"
	"jobsift/adapter/out/memory"
	"jobsift/adapter/out/mongodb"
	"jobsift/adapter/out/persistence"
	"jobsift/adapter/out/provider/gmail"
	"jobsift/config"
	"jobsift/core/inference"
	"jobsift/core/port/out"
	"jobsift/core/service/digest"
	"jobsift/core/service/extract"
	"jobsift/core/service/pipeline"
	"jobsift/core/service/preclass"
	"jobsift/core/service/review"
	"jobsift/infra/database"
	"jobsift/pkg/apperr"
	"jobsift/pkg/cache"
)

// App holds the wired application.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Source *gmail.Source
	Store  out.StateStore
	Runner *runner.Runner
	Review *review.Service
}

// New wires everything. Missing storage URLs degrade to in-process
// implementations; a missing or non-local model endpoint outside
// development is fatal.
func New(cfg *config.Config, log zerolog.Logger) (*App, func(), error) {
	if !cfg.LocalModelOnly() && !cfg.IsDevelopment() {
		return nil, nil, apperr.ConfigError(
			fmt.Sprintf("model endpoint %s is not local; corpus data never leaves the machine", cfg.ModelBaseURL))
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	source, err := newGmailSource(cfg, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	scope := source.Email()

	// Storage: Postgres when configured, otherwise an in-process store
	// (useful for dry runs; nothing survives the process).
	var store out.StateStore
	var bodies out.BodyStore
	mem := memory.NewStateStore()
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, apperr.PersistenceError("connect postgres", err)
		}
		cleanups = append(cleanups, pool.Close)
		// The pool handles health checking; sqlx drives row mapping in
		// the adapters.
		sqlDB, err := sqlx.Connect("pgx", cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, apperr.PersistenceError("connect sqlx", err)
		}
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })

		adapter := persistence.NewStateAdapter(sqlDB, scope)
		if err := adapter.EnsureSchema(context.Background()); err != nil {
			cleanup()
			return nil, nil, apperr.PersistenceError("ensure schema", err)
		}
		store = adapter
		log.Info().Msg("postgres state store ready")
	} else {
		store = mem
		log.Warn().Msg("DATABASE_URL unset, using in-memory state store")
	}

	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			cleanup()
			return nil, nil, apperr.PersistenceError("connect mongodb", err)
		}
		cleanups = append(cleanups, func() { _ = client.Disconnect(context.Background()) })
		bodyAdapter := mongodb.NewBodyAdapter(client.Database(cfg.MongoDBName), cfg.BodyTTL)
		if err := bodyAdapter.EnsureIndexes(context.Background()); err != nil {
			cleanup()
			return nil, nil, apperr.PersistenceError("ensure mongo indexes", err)
		}
		bodies = bodyAdapter
	} else {
		bodies = mem
	}

	// Inference cache: Redis when available, in-process otherwise.
	var inferenceCache out.Cache
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, apperr.PersistenceError("connect redis", err)
		}
		cleanups = append(cleanups, func() { _ = client.Close() })
		inferenceCache = cache.NewRedisCache(client)
	} else {
		inferenceCache = cache.NewMemoryCache()
	}

	engine := inference.NewEngine(inference.EngineConfig{
		BaseURL:             cfg.ModelBaseURL,
		APIKey:              cfg.ModelAPIKey,
		Model:               cfg.ModelName,
		ClassifyTimeout:     cfg.ClassifyTimeout,
		ExtractTimeout:      cfg.ExtractTimeout,
		MatchTimeout:        cfg.MatchTimeout,
		ClassifyMaxTokens:   cfg.ClassifyMaxTokens,
		ExtractMaxTokens:    cfg.ExtractMaxTokens,
		MatchMaxTokens:      cfg.MatchMaxTokens,
		ClassifyBodyLimit:   cfg.ClassifyBodyLimit,
		ExtractBodyLimit:    cfg.ExtractBodyLimit,
		Concurrency:         cfg.ModelConcurrency,
		BreakerOpenFailures: cfg.BreakerOpenFailures,
		CacheTTL:            cfg.InferenceCacheTTL,
	}, inferenceCache, log)

	extractor := extract.NewExtractor(source, extract.Config{
		MinPartLength:    cfg.MinPartLength,
		ShortBodyLength:  cfg.ShortBodyLength,
		SnippetMaxLength: cfg.SnippetMaxLength,
	}, log)

	sink := runner.NewChannelSink(0)
	pipe := pipeline.New(pipeline.Deps{
		Source:    source,
		Extractor: extractor,
		Digest:    digest.New(),
		Preclass: preclass.New(preclass.Policy{
			AutoApprove: cfg.AutoApproveThreshold,
			NeedsReview: cfg.NeedsReviewThreshold,
			MinStorage:  cfg.MinStorageThreshold,
		}),
		Engine: engine,
		Store:  store,
		Bodies: bodies,
		Sink:   sink,
	}, pipeline.Config{
		AccountScope: scope,
		GroupWorkers: cfg.GroupWorkers,
	}, log)

	app := &App{
		Config: cfg,
		Log:    log,
		Source: source,
		Store:  store,
		Runner: runner.New(pipe, sink, log),
		Review: review.New(store, log),
	}
	return app, cleanup, nil
}

func newGmailSource(cfg *config.Config, log zerolog.Logger) (*gmail.Source, error) {
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, apperr.ConfigError("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	token, err := loadToken(cfg.GoogleTokenFile)
	if err != nil {
		return nil, apperr.ConfigError(
			fmt.Sprintf("cannot read OAuth token from %s: %v", cfg.GoogleTokenFile, err))
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
	return gmail.NewSource(context.Background(), token, oauthCfg, log)
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

