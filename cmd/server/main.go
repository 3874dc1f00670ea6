package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"personachat/internal/ai"
	"personachat/internal/cache"
	"personachat/internal/config"
	"personachat/internal/db"
	clog "personachat/internal/log"
	"personachat/internal/mw"
	"personachat/internal/server"
	"personachat/internal/service"
	"personachat/internal/store"
	"personachat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	n, err := db.SeedPersonas(seedCtx, gdb)
	cancelSeed()
	if err != nil {
		log.Fatal().Err(err).Msg("seed personas")
	}
	log.Info().Int("created", n).Msg("default personas ready")

	gs := store.NewGormStore(gdb)

	var personaCache cache.Cache
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "personachat:", time.Duration(cfg.PersonaCacheTTLSeconds)*time.Second)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, persona cache disabled")
		} else {
			defer rc.Close()
			personaCache = rc
		}
	}
	personas := cache.NewPersonas(gs, personaCache)

	var gen ai.Generator = ai.Static{}
	if cfg.GenerationURL != "" {
		gen = ai.NewClient(ai.ClientConfig{URL: cfg.GenerationURL, APIKey: cfg.GenerationAPIKey, Model: cfg.GenerationModel})
	} else {
		log.Warn().Msg("GENERATION_URL not set, personas answer with their sample prompt")
	}

	hub := ws.NewHub()
	orch := ws.NewOrchestrator(hub, gs, personas, gen, time.Duration(cfg.GenerationTimeoutSeconds)*time.Second)
	disp := ws.NewDispatcher(hub, gs, orch, cfg.HistoryLimit)

	h := server.NewHandler(
		service.NewUserService(gdb, gs, cfg),
		service.NewRoomService(gdb, hub),
		service.NewMessageService(gdb, gs, hub),
		service.NewPersonaService(gdb, personas),
	)
	// 控制单个 IP+路由的速率。
	limiter := mw.NewKeyedLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	defer limiter.Stop()

	r := server.SetupRouter(cfg, server.Deps{
		Handler: h,
		Users:   gs,
		Limiter: limiter,
		WS:      ws.Serve(hub, disp, gs, cfg),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	// 关闭所有 WebSocket 发送队列，再等待进行中的人设回复落库。
	hub.Shutdown()
	disp.Wait()
	log.Info().Msg("server stopped")
}
