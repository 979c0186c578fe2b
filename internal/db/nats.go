package db

import (
	"fmt"
	"log"
	"time"

	"backend-bikefleet/internal/config"

	"github.com/nats-io/nats.go"
)

const (
	natsMaxReconnects  = -1
	natsReconnectWait  = 2 * time.Second
	natsConnectTimeout = 5 * time.Second
)

// ConnectNATS returns nil when no URL is configured. The connection retries
// forever; feed sources see outages through status changes.
func ConnectNATS(cfg config.Config) (*nats.Conn, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}

	options := []nats.Option{
		nats.Name("bikefleet-tracking"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.Timeout(natsConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats: %w", err)
	}
	return nc, nil
}
