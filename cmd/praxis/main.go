package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"praxis/internal/auth"
	"praxis/internal/config"
	"praxis/internal/content"
	"praxis/internal/db"
	httpx "praxis/internal/http"
	"praxis/internal/logging"
	"praxis/internal/mailer"
	"praxis/internal/metrics"
	"praxis/internal/publication"
	"praxis/internal/remote"
	"praxis/internal/subscriber"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, true)

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	schedMetrics := metrics.NewScheduler(reg)

	articles := &content.Store{DB: gdb}
	subs := &subscriber.Store{DB: gdb}
	pubRepo := &publication.Repo{DB: gdb}
	logRepo := &mailer.Repo{DB: gdb}

	exec := &remote.Executor{
		Creds: &remote.StaticCredentials{APIKey: cfg.SendGridAPIKey},
		Log:   log.With().Str("component", "executor").Logger(),
	}
	transport := remote.NewSendGridTransport(cfg.SenderEmail, cfg.SenderName, cfg.SendRatePerSec)

	renderer, err := mailer.NewTemplateRenderer()
	if err != nil {
		log.Fatal().Err(err).Msg("email template invalid")
	}

	engine := &mailer.Engine{
		Logs:        logRepo,
		Subscribers: subs,
		Articles:    articles,
		Renderer:    renderer,
		Sender:      &remote.RetryingSender{Exec: exec, Transport: transport},
		StaticLinks: cfg.StaticLinks,
		Log:         log.With().Str("component", "mailer").Logger(),
	}

	dispatcher := &publication.Dispatcher{
		Repo:     pubRepo,
		Articles: articles,
		Email:    engine,
		Exec:     exec,
		Log:      log.With().Str("component", "dispatcher").Logger(),
		Metrics:  schedMetrics,
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		announcer, err := remote.NewTelegramAnnouncer(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram announcer failed")
		}
		dispatcher.Other = announcer
	}

	sched := publication.NewScheduler(
		pubRepo, articles, dispatcher,
		cfg.TickInterval, cfg.LeaseTTL,
		log.With().Str("component", "scheduler").Logger(),
		schedMetrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	r := httpx.NewRouter(cfg, httpx.Deps{
		DB:       gdb,
		JWT:      jwtSvc,
		PubRepo:  pubRepo,
		Articles: articles,
		Subs:     subs,
		Logs:     logRepo,
		Engine:   engine,
		Registry: reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("holder", sched.HolderID).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
