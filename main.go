package main

import (
	"agora/config"
	"agora/config/database"
	"agora/internal/decision/metrics"
	"agora/internal/decision/repository"
	"agora/internal/decision/service"
	"agora/internal/notify"
	"agora/pkg/logger"
	"agora/router"
	"agora/socket"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	foundDotenv := config.LoadDotenv()
	cfg, err := config.Parse()
	if err != nil {
		logger.Init("info")
		logger.Sugar.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	if !foundDotenv {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Sugar.Fatalf("Database unavailable: %v", err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Sugar.Fatalf("Migration failed: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo := repository.NewDecisionRepository(db)

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Mail.SMTPHost,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.SMTPUser,
		Password: cfg.Mail.SMTPPassword,
	})
	notifier := notify.NewNotifier(notify.Config{
		BotEmail: cfg.Mail.BotEmail,
		Contact:  cfg.Mail.Contact,
		BaseURL:  cfg.Mail.BaseURL,
	}, mailer, repo)
	dispatcher := notify.NewDispatcher(notifier, cfg.Mail.QueueSize, m)
	dispatcher.EnqueueTimeout = cfg.Mail.EnqueueTimeout
	dispatcher.DrainTimeout = cfg.Mail.DrainTimeout

	// The dispatcher outlives the server so requests finishing during shutdown still get notified.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Run(dispatchCtx)
	}()

	hub := socket.NewHub(repo, m)
	go hub.Run(ctx)

	svc := service.NewDecisionService(repo, dispatcher, hub, m, cfg.VotingWindow)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Setup(svc, hub, []byte(cfg.JWTSecret), reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
		}
	}()

	logger.Sugar.Infof("Agora backend listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Sugar.Fatalf("Server error: %v", err)
	}
	// ListenAndServe returns as soon as Shutdown starts; wait for in-flight requests.
	<-shutdownDone
	logger.Sugar.Info("Server stopped")

	stopDispatch()
	workers.Wait()
	logger.Sugar.Info("Notification queue drained")
}
