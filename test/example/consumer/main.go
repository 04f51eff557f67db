package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zpiroux/psadapter"
	"github.com/zpiroux/psadapter/entity"
	"github.com/zpiroux/psadapter/test/example/backend"
)

// Consumes my_channel until the unsubscribe sentinel is received, printing each payload.
// Run with go run . (see package backend for env config)
// Graceful shutdown with Ctrl+C (or similar)
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go ensureGracefulShutdown(cancel)

	client, err := backend.NewClient(ctx)
	if err != nil {
		log.Fatalf("backend.NewClient() error: %v", err)
	}

	notifyChan := make(entity.NotifyChan, 128)
	go handleNotificationEvents(notifyChan)

	config := psadapter.NewConfig()
	config.ClientIdentifier = "example"
	config.NotifyChan = notifyChan
	adapter, err := psadapter.New(client, config)
	if err != nil {
		log.Fatalf("psadapter.New() error: %v", err)
	}
	defer adapter.Close()

	err = adapter.Subscribe(ctx, "my_channel", func(ctx context.Context, payload psadapter.Payload) (bool, error) {
		log.Printf("received %s payload: %s", payload.Kind(), payload)
		return true, nil
	})
	if err != nil && err != context.Canceled {
		log.Fatalf("adapter.Subscribe() error: %v", err)
	}
	log.Println("subscriber terminated")
}

func ensureGracefulShutdown(cancel context.CancelFunc) {

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Println("Received shutdown (SIGINT/SIGTERM) signal - initiating cancellation.")
	cancel()
}

func handleNotificationEvents(notifyChan entity.NotifyChan) {
	for event := range notifyChan {
		log.Printf("%+v\n", event)
	}
}
