package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shortenerhq/shortener/aggregator"
	"github.com/shortenerhq/shortener/config"
	"github.com/shortenerhq/shortener/events"
	"github.com/shortenerhq/shortener/geoip"
	"github.com/shortenerhq/shortener/linkstore"
	"github.com/shortenerhq/shortener/logger"
	"github.com/shortenerhq/shortener/observability"
	"github.com/shortenerhq/shortener/pgstore"
	"github.com/shortenerhq/shortener/redisclient"
	"github.com/shortenerhq/shortener/router"
	"github.com/shortenerhq/shortener/useragent"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("shortener starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgstore.Open(ctx, cfg.PostgresURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing, cache will degrade to storage reads")
	} else {
		log.Info().Msg("redis connected")
	}

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect failed")
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		log.Fatal().Err(err).Msg("jetstream init failed")
	}
	log.Info().Msg("nats connected")

	metrics := observability.NewMetrics(log)

	eventsCfg := events.DefaultConfig()
	eventsCfg.PartitionCount = cfg.EventPartitions
	producer, err := events.NewNATSProducer(nc, eventsCfg, log, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("click event producer init failed")
	}
	defer producer.Close()

	linkStore := linkstore.NewPostgresStore(pool)

	agg := aggregator.New(aggregator.PoolDB{Pool: pool}, linkStore, js, aggregator.DefaultConfig(), log, metrics)
	if err := agg.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("click aggregator start failed")
	}

	var geoLookup *geoip.Lookup
	if cfg.GeoIPCIDRFile != "" {
		f, err := os.Open(cfg.GeoIPCIDRFile)
		if err != nil {
			log.Warn().Err(err).Msg("geoip CIDR file open failed — country enrichment disabled")
		} else {
			rules, err := geoip.LoadRulesCSV(f)
			f.Close()
			if err != nil {
				log.Warn().Err(err).Msg("geoip CIDR file parse failed — country enrichment disabled")
			} else if geoLookup, err = geoip.New(rules, geoip.Unknown, log); err != nil {
				log.Warn().Err(err).Msg("geoip table init failed — country enrichment disabled")
				geoLookup = nil
			}
		}
	}

	var uaClassifier *useragent.Classifier
	if cfg.UARegexesFile != "" {
		uaClassifier = useragent.New(cfg.UARegexesFile, log)
	}

	traceExporter := observability.NewLogExporter(log)
	tracer := observability.NewTracer(log, traceExporter, 1.0)

	r := router.NewRouter(cfg, log, router.Deps{
		Store:     linkStore,
		Pool:      pool,
		Redis:     rc.Client,
		Producer:  producer,
		GeoIP:     geoLookup,
		UserAgent: uaClassifier,
		Metrics:   metrics,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      observability.TracingMiddleware(tracer)(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("shortener listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	if err := agg.Stop(); err != nil {
		log.Error().Err(err).Msg("aggregator stop failed")
	}
	tracer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("shortener stopped gracefully")
	}
}
