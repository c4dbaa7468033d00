package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/MarvelCollin/MisVord-sub009/internal/bot"
	"github.com/MarvelCollin/MisVord-sub009/internal/chat"
	"github.com/MarvelCollin/MisVord-sub009/internal/config"
	"github.com/MarvelCollin/MisVord-sub009/internal/game"
	clog "github.com/MarvelCollin/MisVord-sub009/internal/log"
	"github.com/MarvelCollin/MisVord-sub009/internal/models"
	"github.com/MarvelCollin/MisVord-sub009/internal/music"
	"github.com/MarvelCollin/MisVord-sub009/internal/mw"
	"github.com/MarvelCollin/MisVord-sub009/internal/presence"
	"github.com/MarvelCollin/MisVord-sub009/internal/server"
	"github.com/MarvelCollin/MisVord-sub009/internal/voice"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

func main() {
	// main 函数负责加载配置、初始化日志、组装各协调器并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)

	hub := ws.NewHub()
	chatRouter := chat.NewRouter(hub)
	pres := presence.NewTracker(hub)
	voiceTracker := voice.NewTracker(hub, voice.StayPolicy{})
	coordinator := game.NewCoordinator(hub, cfg.GameFinishDelay)

	chatAPI := bot.NewChatAPI(cfg.ChatAPIBaseURL, 10*time.Second)
	searcher := music.NewClient(cfg.MusicAPIBaseURL, cfg.MusicLookupTimeout)
	botIdentity := models.Identity{UserID: cfg.BotUserID, Username: cfg.BotUsername}
	orchestrator := bot.NewOrchestrator(hub, voiceTracker, searcher, chatAPI,
		botIdentity, chatAPI.BotAvatar(cfg.BotUsername), cfg.CommandPrefix, cfg.SaveConfirmTimeout)
	chatRouter.Intercept(orchestrator.Intercept)

	// 断连清理统一走 Hub 钩子，顺序无关
	hub.OnDisconnect(pres.HandleDisconnect)
	hub.OnDisconnect(voiceTracker.HandleDisconnect)
	hub.OnDisconnect(coordinator.HandleDisconnect)

	// 握手级与连接级限速器在这里创建，随服务停止一并回收
	httpRL := mw.NewRateLimiter(rate.Limit(5), 10, 2*time.Minute)
	httpRL.StartGC()
	eventRL := mw.NewRateLimiter(rate.Every(time.Second/25), 50, 2*time.Minute)
	eventRL.StartGC()

	sock := server.NewSocketServer(hub, chatRouter, pres, voiceTracker, coordinator, orchestrator, cfg.JWTSecret)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewRouter(cfg, hub, sock, httpRL, eventRL),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	httpRL.Stop()
	eventRL.Stop()
	log.Info().Msg("server stopped")
}
