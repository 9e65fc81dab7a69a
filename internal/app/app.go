package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"polychat/internal/api"
	"polychat/internal/config"
	"polychat/internal/database"
	"polychat/internal/llm"
	"polychat/internal/logger"
	"polychat/internal/repository"
	"polychat/internal/service"
)

const (
	shutdownTimeout  = 15 * time.Second
	redisPingTimeout = 2 * time.Second
	probeTimeout     = 2 * time.Second
)

// App holds the fully wired application.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	DB       *sql.DB
	Redis    *redis.Client
	Registry *llm.Registry
	Chat     *service.ChatService
	Server   *http.Server

	// stopRequests cancels the context of every in-flight request.
	stopRequests context.CancelFunc
}

// NewApp wires every dependency from cfg without starting the listener.
func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("Successfully connected to SQLite database.", zap.String("path", cfg.DatabasePath))

	a := &App{Config: cfg, Log: log, DB: db}

	comparisons, err := a.comparisonStore()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Registry = llm.NewRegistry(
		llm.WithRateLimit(cfg.ProviderRateLimit),
		llm.WithRegistryLogger(log.Named("llm")),
	)

	settingsService := service.NewSettingsService(repository.NewSQLiteSettingsRepository(db), a.Registry, log.Named("settings"))
	appSettings, err := settingsService.InitAndGet(context.Background(), cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize application settings: %w", err)
	}
	log.Info("Loaded application settings",
		zap.String("selected_provider", appSettings.SelectedProvider),
		zap.String("selected_model", appSettings.SelectedModel),
	)

	a.Chat = service.NewChatService(repository.NewSQLiteChatRepository(db), a.Registry, settingsService, log.Named("chat"))
	modelService := service.NewModelService(a.Registry, settingsService, log.Named("models"))
	compareService := service.NewCompareService(comparisons, a.Registry, cfg.CompareMaxParallel, log.Named("compare"))

	router := api.NewRouter(log.Named("http"), api.Handlers{
		Chat:    api.NewChatHandler(a.Chat, settingsService),
		Model:   api.NewModelHandler(modelService),
		Compare: api.NewCompareHandler(compareService),
	})

	port := cfg.AppPort
	if port == 0 {
		port = 8000
	}
	baseCtx, stopRequests := context.WithCancel(context.Background())
	a.stopRequests = stopRequests
	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for streaming endpoints
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// Shutdown only waits for handlers, so open streams are cancelled here.
	a.Server.RegisterOnShutdown(stopRequests)
	return a, nil
}

// comparisonStore picks the comparison repository named by COMPARE_STORE.
func (a *App) comparisonStore() (repository.ComparisonRepository, error) {
	switch strings.ToLower(strings.TrimSpace(a.Config.CompareStore)) {
	case "", "sqlite":
		return repository.NewSQLiteComparisonRepository(a.DB), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.Config.RedisAddr, err)
		}
		a.Redis = rdb
		a.Log.Info("Successfully connected to Redis.", zap.String("addr", a.Config.RedisAddr))
		return repository.NewRedisComparisonRepository(rdb), nil
	default:
		return nil, fmt.Errorf("unknown COMPARE_STORE %q (want sqlite or redis)", a.Config.CompareStore)
	}
}

// Close releases the database and redis connections.
func (a *App) Close() error {
	if a.stopRequests != nil {
		a.stopRequests()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// The logger is not configured yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	a, err := NewApp(cfg)
	if err != nil {
		zap.L().Error("Failed to start application", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Failed to start application: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Log.Error("Failed to close connections", zap.Error(err))
		}
		_ = a.Log.Sync()
	}()

	logConfigSource(a.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeLocalProviders(ctx, a.Log, a.Registry)

	serveErr := make(chan error, 1)
	go func() {
		a.Log.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.Log.Error("Server failed", zap.Error(err))
			return 1
		}
	case <-ctx.Done():
		a.Log.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("Graceful shutdown failed", zap.Error(err))
		return 1
	}
	a.Chat.Wait()
	a.Log.Info("Server stopped")
	return 0
}

func logConfigSource(log *zap.Logger) {
	if configFileUsed := viper.ConfigFileUsed(); configFileUsed != "" {
		log.Info("Successfully loaded configuration from file.", zap.String("file", configFileUsed))
	} else {
		log.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

// probeLocalProviders checks once whether the self-hosted providers answer.
// Startup never waits for them; an offline provider only yields empty
// model lists until it comes up.
func probeLocalProviders(ctx context.Context, log *zap.Logger, registry *llm.Registry) {
	client := &http.Client{Timeout: probeTimeout}
	for _, name := range []llm.ProviderName{llm.Ollama, llm.LMStudio} {
		ep, ok := registry.Endpoint(name)
		if !ok || ep.BaseURL == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL, nil)
		if err != nil {
			log.Warn("Invalid provider URL", zap.String("provider", string(name)), zap.String("url", ep.BaseURL), zap.Error(err))
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Warn("Local provider is not reachable yet", zap.String("provider", string(name)), zap.String("url", ep.BaseURL), zap.Error(err))
			continue
		}
		if bErr := resp.Body.Close(); bErr != nil {
			log.Warn("Failed to close response body in provider probe", zap.Error(bErr))
		}
		log.Info("Local provider is reachable", zap.String("provider", string(name)), zap.Int("status", resp.StatusCode))
	}
}
