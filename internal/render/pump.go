package render

import (
	"context"
	"encoding/json"
	"log"

	"backend-bikefleet/internal/dispatch"
)

type Publisher interface {
	Broadcast(topic string, payload []byte)
}

// Pump broadcasts the map view of every snapshot received until ctx is done
// or snapshots is closed.
func Pump(ctx context.Context, snapshots <-chan dispatch.Snapshot, pub Publisher, topic string) {
	style := DefaultStyle()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			payload, err := json.Marshal(Build(snap, style))
			if err != nil {
				log.Printf("render: marshal map view %d: %v", snap.Seq, err)
				continue
			}
			pub.Broadcast(topic, payload)
		}
	}
}
