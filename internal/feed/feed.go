// Package feed adapts external push streams to snapshot events. A feed
// delivers the full {entityId: payload} map on every backend change.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

type Channel string

const (
	ChannelLocations Channel = "locations"
	ChannelActive    Channel = "active"
)

var (
	ErrChannelDown = errors.New("feed channel unavailable")
	ErrBadSnapshot = errors.New("malformed feed snapshot")
)

// Snapshot maps entity id to its raw payload.
type Snapshot map[string]map[string]any

// Event carries either a snapshot or a channel error, never both.
type Event struct {
	Channel  Channel
	Snapshot Snapshot
	Err      error
}

type Handler func(Event)

type Source interface {
	Subscribe(ctx context.Context, handle Handler) (unsubscribe func(), err error)
}

// DecodeSnapshot parses a JSON object of entity payloads. Null entries are
// removals on the backend and are skipped. A non-object entry is logged and
// dropped so the rest of the snapshot still applies; only a body that is not
// a JSON object is malformed.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Snapshot{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	snap := make(Snapshot, len(raw))
	for id, msg := range raw {
		if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			log.Printf("feed: drop entity %s: %v", id, err)
			continue
		}
		snap[id] = payload
	}
	return snap, nil
}
