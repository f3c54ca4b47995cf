package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"encchat/internal/auth"
	"encchat/internal/cache"
	"encchat/internal/config"
	"encchat/internal/crypt"
	"encchat/internal/db"
	clog "encchat/internal/log"
	"encchat/internal/server"
	"encchat/internal/service"
	"encchat/internal/store"
	"encchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	cipher, err := crypt.NewFromBase64(cfg.CipherKey)
	if err != nil {
		log.Fatal().Err(err).Msg("cipher init")
	}
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	var msgStore store.MessageStore = store.NewGormStore(gdb)
	var recent cache.RecentCache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "encchat")
		if err != nil {
			// 缓存只是加速层，不可用时直接读库。
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, history cache disabled")
		} else {
			recent = rc
			msgStore = store.NewCachedStore(msgStore, rc, cfg.HistoryCacheTTL)
			log.Info().Str("addr", cfg.RedisAddr).Msg("history cache enabled")
		}
	}

	hub := ws.NewHub(verifier, cipher, msgStore, ws.Options{
		SendTimeout:       cfg.SendTimeout,
		PersistTimeout:    cfg.PersistTimeout,
		PingInterval:      ws.DefaultOptions().PingInterval,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})
	h := server.NewHandler(
		service.NewUserService(gdb, cfg),
		service.NewRoomService(hub),
		service.NewHistoryService(verifier, cipher, msgStore),
	)
	limiter := server.DefaultLimiter()
	r := server.SetupRouter(cfg, server.Deps{Handler: h, Hub: hub, Verifier: verifier, Limiter: limiter})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// 已升级的 WebSocket 连接不受 http.Server.Shutdown 管理，由 hub 逐个关闭。
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("hub shutdown")
	}
	limiter.Stop()
	if recent != nil {
		if err := recent.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	if err := db.Close(gdb); err != nil {
		log.Warn().Err(err).Msg("db close")
	}
	log.Info().Msg("server stopped")
}
