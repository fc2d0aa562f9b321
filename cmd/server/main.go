package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/nstepanenko/webstore/internal/config"
	"github.com/nstepanenko/webstore/internal/events"
	"github.com/nstepanenko/webstore/internal/httpserver"
	"github.com/nstepanenko/webstore/internal/middleware"
	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/notifier"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/internal/search"
	"github.com/nstepanenko/webstore/internal/service"
	"github.com/nstepanenko/webstore/internal/sweeper"
	"github.com/nstepanenko/webstore/pkg/db"
	"github.com/nstepanenko/webstore/pkg/logging"
)

func main() {
	cfg := config.Load()
	cfg.MustValidate()

	logger := logging.New(cfg.LogLevel)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gormDB, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := gormDB.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	gormRepo := &repo.GormRepo{DB: gormDB}

	var searchClient *search.Client
	if cfg.ESURL != "" {
		searchClient, err = search.New(cfg.ESURL, cfg.ESUser, cfg.ESPassword, cfg.ESIndex)
		if err != nil {
			log.Fatalf("search init error: %v", err)
		}
	}

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.EventTopic)
	defer producer.Close()

	var mail notifier.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kafkaMail := notifier.NewKafkaNotifier(cfg.KafkaBrokers, cfg.MailTopic)
		defer kafkaMail.Close()
		mail = kafkaMail
	} else {
		mail = &notifier.LogNotifier{Log: logger}
	}

	authSvc := &service.AuthService{
		Repo:          gormRepo,
		Notifier:      mail,
		JWTSecret:     cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		SingleUseTTL:  cfg.SingleUseTTL,
	}
	userSvc := &service.UserService{Repo: gormRepo, Auth: authSvc}
	catalogSvc := &service.CatalogService{Repo: gormRepo, Search: searchClient, Events: producer}
	orderSvc := &service.OrderService{Repo: gormRepo, Events: producer}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimitRPS))))
	e.Use(middleware.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		Auth:    &httpserver.AuthHTTP{Svc: authSvc, CookieSecure: cfg.IsProduction()},
		Users:   &httpserver.UserHTTP{Svc: userSvc},
		Catalog: &httpserver.CatalogHTTP{Svc: catalogSvc},
		Orders:  &httpserver.OrderHTTP{Svc: orderSvc},
		AuthMW:  middleware.NewAuth(gormRepo, cfg.JWTAccessSecret),
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go (&sweeper.Sweeper{
		Repo:     gormRepo,
		Interval: cfg.SweepInterval,
		Log:      logger,
	}).Run(sweepCtx)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("echo shutdown: %v", err)
	}
}
