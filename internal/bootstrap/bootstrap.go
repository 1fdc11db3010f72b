// Package bootstrap assembles the service from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	httpadapter "github.com/kirillkom/docchat/internal/adapters/http"
	"github.com/kirillkom/docchat/internal/config"
	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/core/usecase"
	"github.com/kirillkom/docchat/internal/infrastructure/converter/libreoffice"
	"github.com/kirillkom/docchat/internal/infrastructure/extractor/document"
	"github.com/kirillkom/docchat/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docchat/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docchat/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docchat/internal/infrastructure/resilience"
	"github.com/kirillkom/docchat/internal/infrastructure/session/memory"
	"github.com/kirillkom/docchat/internal/infrastructure/session/redis"
	"github.com/kirillkom/docchat/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docchat/internal/observability/metrics"
)

const sessionSweepInterval = time.Minute

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type App struct {
	Config  config.Config
	Handler http.Handler
	Metrics *metrics.HTTPServerMetrics

	UploadUC ports.DocumentUploader
	ChatUC   ports.DocumentChatter
	Sweeper  *usecase.RetentionSweeper

	memorySessions *memory.Store
	closers        []func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.UsesDefaultSessionSecret() {
		slog.Warn("session_secret_default", "hint", "set SESSION_SECRET before exposing the service")
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	m := metrics.NewHTTPServerMetrics(cfg.ServiceName)
	app.Metrics = m

	storage, err := localfs.New(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("init upload storage: %w", err)
	}

	sessions, err := app.openSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewExecutor(completionPolicy(cfg), resilience.WithStateListener(
		func(operation string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_changed", "operation", operation, "from", from.String(), "to", to.String())
			m.SetBreakerState(operation, breakerStateValue(to))
		},
	))
	completion := openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.OpenAITimeout,
	}, breakers)
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("openai_api_key_missing", "hint", "chat requests will fail until OPENAI_API_KEY is set")
	}

	extractor := document.NewExtractor(libreoffice.New(cfg.SofficeBin, cfg.ConvertTimeout))

	opts := usecase.UploadOptions{ContextMaxChars: cfg.ContextMaxChars}
	var ledger ports.UploadLedger
	if cfg.PostgresDSN != "" {
		repo, err := app.openLedger(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		ledger = repo
		opts.Ledger = repo
	}
	if cfg.NATSURL != "" {
		publisher, err := nats.Connect(cfg.NATSURL, nats.Options{
			Subject:            cfg.NATSSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.Policy{MaxAttempts: 3}),
		})
		if err != nil {
			return nil, fmt.Errorf("init upload events: %w", err)
		}
		app.closers = append(app.closers, publisher.Close)
		opts.Events = publisher
	}

	app.UploadUC = usecase.NewUploadDocumentUseCase(storage, extractor, sessions, opts)
	app.ChatUC = usecase.NewChatUseCase(sessions, completion, cfg.ContextMaxChars)

	app.Sweeper = usecase.NewRetentionSweeper(storage, ledger, cfg.UploadRetention)
	app.Sweeper.OnSweep(m.RecordSweep)

	app.Handler = httpadapter.NewRouter(cfg, app.UploadUC, app.ChatUC, sessions, m).Handler()

	slog.Info("bootstrap_complete",
		"session_backend", cfg.SessionBackend,
		"model", completion.Model(),
		"ledger", ledger != nil,
		"events", opts.Events != nil,
		"upload_dir", cfg.UploadDir,
	)
	ok = true
	return app, nil
}

// Start launches the background sweepers; they stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.memorySessions != nil {
		a.memorySessions.Start(ctx, sessionSweepInterval)
	}
	a.Sweeper.Start(ctx, a.Config.UploadSweepInterval)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openSessions(ctx context.Context, cfg config.Config) (ports.SessionStore, error) {
	switch cfg.SessionBackend {
	case SessionBackendRedis:
		store, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				slog.Warn("redis_close_failed", "error", err)
			}
		})
		return store, nil
	default:
		store := memory.New(cfg.SessionTTL)
		a.memorySessions = store
		return store, nil
	}
}

func (a *App) openLedger(ctx context.Context, dsn string) (*postgres.UploadRepository, error) {
	db, err := postgres.OpenDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { closeDB(db) })

	repo := postgres.NewUploadRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("postgres_close_failed", "error", err)
	}
}

func completionPolicy(cfg config.Config) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		p.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	if cfg.BreakerFailureRatio > 0 {
		p.BreakerFailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerOpenTimeout > 0 {
		p.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	return p
}

// breakerStateValue maps breaker states onto the gauge: 0 closed, 1 half-open, 2 open.
func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
