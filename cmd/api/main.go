package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunecast/distributor/adapter"
	"github.com/tunecast/distributor/config"
	"github.com/tunecast/distributor/delivery"
	deliveryredis "github.com/tunecast/distributor/delivery/redis"
	chihandlers "github.com/tunecast/distributor/internal/http/chi"
	"github.com/tunecast/distributor/metrics"
	"github.com/tunecast/distributor/partner"
)

const TIMEOUT = 30 * time.Second

/* Composition root: every dependency is constructed here and handed
 * down. Imports flow one direction only — the binary imports the
 * business layers, which import the storage layer.
 *
 * One process runs the full engine: the HTTP API (dispatch, status,
 * webhooks), the submit worker pool, the retry promoter and the
 * recovery sweep. They share the Redis repository, so scaling out is a
 * matter of running more copies of this binary.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "distributor").Logger()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	repo, err := deliveryredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error().Err(err).Msg("connecting to redis")
		return
	}
	defer repo.Close(ctx)

	partners := partner.NewRegistry()
	if err := partners.Load(cfg.PartnersFile); err != nil {
		log.Error().Err(err).Str("file", cfg.PartnersFile).Msg("loading partner registry")
		return
	}
	log.Info().Int("partners", len(partners.List())).Msg("partner registry loaded")

	adapters := adapter.NewRegistry()
	adapters.Register(partner.JSONAPI, adapter.NewJSONAPIAdapter(nil))
	adapters.Register(partner.Feed, adapter.NewFeedAdapter(nil))

	svc := delivery.NewService(repo, log)
	svc.Adapters = adapters
	reconciler := delivery.NewReconciler(repo, adapters, partners, log)
	pool := delivery.NewPool(repo, adapters, log, cfg.WorkerCount)
	sweeper := delivery.NewSweeper(repo, pool, log, cfg.SweepStaleAfter(), 5)

	collector := metrics.NewStatsCollector(repo)
	exporter, err := metrics.NewOTelExporter(collector)
	if err != nil {
		log.Error().Err(err).Msg("setting up metrics exporter")
		return
	}
	defer exporter.Shutdown(context.Background())
	reconciler.Metrics = exporter
	sweeper.Metrics = exporter

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer background.Done()
		sweeper.Run(ctx, cfg.SweepInterval())
	}()

	r := chihandlers.Handlers(ctx, svc, partners, reconciler, exporter.ServeHTTP())
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	log.Info().Str("port", cfg.Port).Int("workers", cfg.WorkerCount).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	if err := <-errShutdown; err != nil {
		log.Error().Err(err).Msg("shutdown")
	}

	// Let workers drain and deferred webhook retries finish
	background.Wait()
	reconciler.Drain()
	log.Info().Msg("stopped")
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("forcing server close: %w", err)
	default:
		errShutdown <- err
	}
}
