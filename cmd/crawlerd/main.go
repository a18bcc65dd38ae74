// Package main wires together the crawl engine binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/api"
	"github.com/metascan/crawler/internal/classify"
	"github.com/metascan/crawler/internal/clock/system"
	"github.com/metascan/crawler/internal/config"
	"github.com/metascan/crawler/internal/crawl"
	"github.com/metascan/crawler/internal/extract"
	"github.com/metascan/crawler/internal/fetch"
	"github.com/metascan/crawler/internal/hash/sha256"
	"github.com/metascan/crawler/internal/id/uuid"
	"github.com/metascan/crawler/internal/logging"
	"github.com/metascan/crawler/internal/metrics"
	"github.com/metascan/crawler/internal/politeness"
	"github.com/metascan/crawler/internal/scheduler"
	memoryStorage "github.com/metascan/crawler/internal/storage/memory"
	postgresStorage "github.com/metascan/crawler/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo crawl.Repository
	if cfg.DB.DSN != "" {
		pgRepo, err := postgresStorage.NewRepository(ctx, postgresStorage.Config{
			DSN:             cfg.DB.DSN,
			ResultsTable:    cfg.DB.ResultsTable,
			DomainsTable:    cfg.DB.DomainsTable,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			logger.Fatal("postgres repository init failed", zap.Error(err))
		}
		defer pgRepo.Close()
		repo = pgRepo
		logger.Info("using postgres repository", zap.String("results_table", cfg.DB.ResultsTable))
	} else {
		repo = memoryStorage.NewRepository()
		logger.Info("using in-memory repository")
	}

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	fetcher := fetch.New(fetch.Config{
		UserAgent:         cfg.Crawler.UserAgent,
		Timeout:           cfg.Crawler.RequestTimeout,
		MaxBodySize:       cfg.Crawler.MaxContentSize,
		StrictContentSize: cfg.Crawler.StrictContentSize,
		MaxRedirects:      cfg.Crawler.MaxRedirects,
	}, logger.Named("fetch"))

	robots := politeness.New(fetcher, clock, politeness.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		DefaultDelay: cfg.Crawler.DefaultCrawlDelay,
		TTL:          cfg.Politeness.RobotsTTL,
		FetchTimeout: cfg.Politeness.RobotsTimeout,
		FailClosed:   cfg.Politeness.FailClosed,
	}, logger.Named("politeness"))

	extractor := extract.New(extract.Config{
		MaxImages: cfg.Extract.MaxImages,
		MaxLinks:  cfg.Extract.MaxLinks,
	}, hasher, logger.Named("extract"))

	classifier := classify.New(classify.Config{
		MinConfidence: cfg.Classify.MinTopicConfidence,
		MaxTopics:     cfg.Classify.MaxTopicsPerPage,
	}, classify.DefaultTaxonomy())

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:     cfg.Crawler.MaxConcurrentRequests,
		DomainConcurrency: cfg.Crawler.DomainConcurrencyCap,
		DefaultCrawlDelay: cfg.Crawler.DefaultCrawlDelay,
		RequestTimeout:    cfg.Crawler.RequestTimeout,
		MaxAttempts:       cfg.Crawler.MaxRetryAttempts,
		UserAgent:         cfg.Crawler.UserAgent,
		RespectRobots:     cfg.Politeness.RespectRobots,
	}, scheduler.Deps{
		Fetcher:    fetcher,
		Extractor:  extractor,
		Classifier: classifier,
		Robots:     robots,
		Repo:       repo,
		Clock:      clock,
		IDs:        idGen,
		Policy: crawl.RetryPolicy{
			MaxAttempts: cfg.Crawler.MaxRetryAttempts,
			BaseDelay:   cfg.Crawler.BackoffBase,
			MaxDelay:    cfg.Crawler.BackoffMax,
		},
		Logger: logger.Named("scheduler"),
	})

	apiServer := api.NewServer(sched, repo, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedDone
	logger.Info("shutdown complete")
}
