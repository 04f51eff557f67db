package main

import (
	"context"
	"log"

	"github.com/zpiroux/psadapter"
	"github.com/zpiroux/psadapter/test/example/backend"
)

// Publishes a raw string, a structured value and pre-encoded JSON to my_channel, and
// finally the unsubscribe sentinel, terminating consumers of the channel.
// Run with go run . (see package backend for env config)
func main() {
	ctx := context.Background()

	client, err := backend.NewClient(ctx)
	if err != nil {
		log.Fatalf("backend.NewClient() error: %v", err)
	}

	config := psadapter.NewConfig()
	config.Log = true
	adapter, err := psadapter.New(client, config)
	if err != nil {
		log.Fatalf("psadapter.New() error: %v", err)
	}
	defer adapter.Close()

	messages := []any{
		"Hello World",
		map[string]string{"lorem": "ipsum"},
		`{"blah": "bleh"}`,
	}
	for _, msg := range messages {
		if err = adapter.Publish(ctx, "my_channel", msg); err != nil {
			log.Fatalf("adapter.Publish() error: %v", err)
		}
	}

	if err = adapter.Unsubscribe(ctx, "my_channel"); err != nil {
		log.Fatalf("adapter.Unsubscribe() error: %v", err)
	}
	log.Println("all messages published")
}
