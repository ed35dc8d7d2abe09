package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/delivery"
	deliveryredis "github.com/marcelsud/webhook-dispatch/delivery/redis"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/marcelsud/webhook-dispatch/internal/http/chi"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/subscription"
	subscriptionredis "github.com/marcelsud/webhook-dispatch/subscription/redis"
	"github.com/rs/zerolog"
)

const TIMEOUT = 30 * time.Second

/*
 * As importações devem ser feitas apenas em uma direção: para baixo. O aplicativo (api, cli) importa camadas de negócios,
 * que importam a camada de armazenamento
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	subRepo, err := subscriptionredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer subRepo.Close(ctx)
	// One redis connection pool across both repositories
	delivRepo := deliveryredis.NewRepositoryWithClient(subRepo.GetClient())

	catalog := event.NewCatalog()
	if cfg.EventsFile != "" {
		catalog, err = event.LoadCatalog(cfg.EventsFile)
		if err != nil {
			fmt.Println(err)
			return
		}
	}

	subService := subscription.NewService(subRepo, catalog)

	policy := delivery.NewRetryPolicy(delivery.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffBase: cfg.RetryBackoffBase(),
		MaxDelay:    cfg.RetryMaxDelay(),
		Jitter:      cfg.RetryJitter(),
	})
	sender := delivery.NewSender(cfg.DeliveryTimeout())
	dispatcher := delivery.NewDispatcher(subRepo, delivRepo, sender, policy, catalog, cfg.DispatchMaxInFlight, log)
	aggregator := delivery.NewAggregator(delivRepo)

	scheduler := delivery.NewScheduler(dispatcher, delivRepo, cfg.RetryPollInterval(), 100, 2*time.Minute, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	exporter, err := metrics.NewOTelExporter(metrics.NewStoreCollector(delivRepo))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())

	r := chi.Handlers(ctx, subService, dispatcher, aggregator, exporter, cfg.StatsDefaultWindow())
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, dispatcher, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, dispatcher *delivery.Dispatcher, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	// Let in-flight delivery attempts settle before closing the store
	dispatcher.Wait()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
