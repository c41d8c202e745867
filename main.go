package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"floorchat/internal/auth"
	"floorchat/internal/config"
	"floorchat/internal/database/db_client"
	"floorchat/internal/historycache"
	"floorchat/internal/http/http_server"
	"floorchat/internal/ratelimit"
	"floorchat/internal/redis/redis_client"
	"floorchat/internal/services/chat"
	"floorchat/internal/store"
	"floorchat/internal/store/memstore"
	"floorchat/internal/store/pgstore"
	"floorchat/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

//	@title						floorchat API
//	@version					1.0
//	@description				Real-time floor chat relay: socket tokens, profile and chat history. The live protocol runs on GET /ws?token=<socket token>.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully",
		zap.Uint16("port", cfg.HttpServerPort),
		zap.String("store", cfg.StoreDriver))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	issuer := auth.NewIssuer(cfg.AuthSecret, cfg.SocketTokenTTL, cfg.SessionTokenTTL)

	// 3. Identity & membership store
	var st store.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		ms := memstore.New()
		seedDemo(ms, issuer)
		st = ms
	default:
		pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			Log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		if cfg.RunMigrations {
			if err := db_client.Migrate(ctx, pgDb); err != nil {
				Log.Fatal("pg-migrate", zap.Error(err))
			}
		}
		st = pgstore.New(pgDb)
	}

	// 4. Redis: send rate limit + history cache
	opts := chat.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		HistoryPageSize:  cfg.HistoryPageSize,
	}
	var redisClient *redis.Client
	redisClient, err = redis_client.NewRedisClient(ctx, cfg.RedisHost, cfg.RedisPort)
	switch {
	case err == nil:
		defer redisClient.Close()
		opts.Limiter = ratelimit.New(redisClient, cfg.SendRateLimit, cfg.SendRateWindow)
		opts.Cache = historycache.New(redisClient, cfg.HistoryCacheTTL)
	case cfg.StoreDriver == config.StoreDriverMemory:
		Log.Warn("Redis unavailable, running without rate limit and history cache", zap.Error(err))
	default:
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}

	// 5. Chat service
	chatService := chat.NewChatService(st, opts)

	// 6. WebSockets hub + relay
	hub := ws.NewHub()
	wsSrv := ws.NewWsServer(hub, chatService, issuer, cfg.AllowedOrigins)

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, chatService, issuer)
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			Log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	case <-ctx.Done():
		Log.Info("shutdown requested")
	}

	if err := httpServer.Dispose(); err != nil {
		Log.Error("http shutdown", zap.Error(err))
	}
	wsSrv.Shutdown()
	Log.Info("bye")
}
