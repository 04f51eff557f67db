// Package backend creates the pub/sub client used by the example programs, selected
// with env PSADAPTER_BACKEND ("gcp" (default), "kafka" or "inmem").
package backend

import (
	"context"
	"fmt"
	"os"

	"github.com/zpiroux/psadapter/entity"
	"github.com/zpiroux/psadapter/pkg/gpubsub"
	"github.com/zpiroux/psadapter/pkg/inmem"
	"github.com/zpiroux/psadapter/pkg/xkafka"
)

const (
	envBackend          = "PSADAPTER_BACKEND"
	envProjectID        = "PUBSUB_PROJECT_ID"
	envBootstrapServers = "KAFKA_BOOTSTRAP_SERVERS"
)

func NewClient(ctx context.Context) (entity.Client, error) {
	switch b := os.Getenv(envBackend); b {
	case "", "gcp":
		client, err := gpubsub.NewClient(ctx, gpubsub.NewConfig(os.Getenv(envProjectID)))
		if err != nil {
			return nil, err
		}
		return client, nil
	case "kafka":
		servers := os.Getenv(envBootstrapServers)
		if servers == "" {
			servers = "localhost:9092"
		}
		client, err := xkafka.NewClient(xkafka.NewConfig(servers), nil)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "inmem":
		return inmem.NewClient(), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q in env %s", b, envBackend)
	}
}
