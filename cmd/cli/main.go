package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/delivery"
	deliveryredis "github.com/marcelsud/webhook-dispatch/delivery/redis"
	"github.com/marcelsud/webhook-dispatch/event"
	subscriptionredis "github.com/marcelsud/webhook-dispatch/subscription/redis"
	"github.com/rs/zerolog"
)

// One-shot event dispatch for local testing:
//
//	go run cmd/cli/main.go bid.created '{"bid_id":"b-1","amount":1500}'
func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: cli <event-type> <json-data>")
		return
	}

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx := context.Background()

	subRepo, err := subscriptionredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer subRepo.Close(ctx)
	delivRepo := deliveryredis.NewRepositoryWithClient(subRepo.GetClient())

	catalog := event.NewCatalog()
	if cfg.EventsFile != "" {
		catalog, err = event.LoadCatalog(cfg.EventsFile)
		if err != nil {
			fmt.Println(err)
			return
		}
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	policy := delivery.NewRetryPolicy(delivery.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffBase: cfg.RetryBackoffBase(),
		MaxDelay:    cfg.RetryMaxDelay(),
		Jitter:      cfg.RetryJitter(),
	})
	sender := delivery.NewSender(cfg.DeliveryTimeout())
	dispatcher := delivery.NewDispatcher(subRepo, delivRepo, sender, policy, catalog, cfg.DispatchMaxInFlight, log)

	ev, err := event.New(os.Args[1], json.RawMessage(os.Args[2]))
	if err != nil {
		fmt.Println(err)
		return
	}

	records, err := dispatcher.Dispatch(ctx, ev)
	if err != nil {
		fmt.Println(err)
		return
	}
	// First attempts run asynchronously; wait so the one-shot run settles them
	dispatcher.Wait()

	for _, rec := range records {
		fmt.Printf("delivery %s -> webhook %s\n", rec.ID, rec.WebhookID)
	}
	fmt.Printf("dispatched %s to %d subscription(s)\n", ev.Type, len(records))
}
