package stockwatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/mpavlovic/warehouse-deliveries/internal/delivery"
	kafkax "github.com/mpavlovic/warehouse-deliveries/internal/kafka"
	"github.com/mpavlovic/warehouse-deliveries/internal/redisx"
)

// Service tails delivery lifecycle events and keeps Redis views current:
// a per-delivery reservation snapshot, per-item reserved totals, and the
// cached delivery projection the API serves on reads.
type Service struct {
	Redis       *redis.Client
	ServiceName string
}

// HandleDeliveryEvent is installed as the consumer handler.
func (s *Service) HandleDeliveryEvent(ctx context.Context, m kafkago.Message) error {
	var env delivery.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return err
	}
	switch env.EventType {
	case delivery.EventDeliveryCreated, delivery.EventDeliveryUpdated, delivery.EventDeliveryDeleted:
	default:
		return nil // ignore
	}

	// dedup via Redis on event_id
	dkey := fmt.Sprintf(redisx.KeyDedup, "stockwatch", env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}

	p, err := kafkax.UnwrapPayload[delivery.DeliveryChangedPayload](env.Payload)
	if err != nil {
		return err
	}

	next := p.Items
	if env.EventType == delivery.EventDeliveryDeleted {
		next = nil
	}

	prev, err := s.snapshot(ctx, p.DeliveryID)
	if err != nil {
		return err
	}
	for itemID, d := range DiffReservations(prev, next) {
		key := fmt.Sprintf(redisx.KeyItemReserved, itemID)
		if err := s.Redis.IncrBy(ctx, key, int64(d)).Err(); err != nil {
			return err
		}
	}
	if err := s.storeSnapshot(ctx, p.DeliveryID, next); err != nil {
		return err
	}

	ckey := fmt.Sprintf(redisx.KeyDeliveryCache, p.DeliveryID)
	if env.EventType == delivery.EventDeliveryDeleted {
		if err := s.Redis.Del(ctx, ckey).Err(); err != nil {
			return err
		}
	} else if err := s.Redis.Set(ctx, ckey, kafkax.MustMarshal(p), redisx.TTLDeliveryCache).Err(); err != nil {
		return err
	}

	// Mark the event processed only once every view is updated; a failure
	// above leaves the offset uncommitted and the redelivery runs the
	// whole handler again.
	return s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
}

func (s *Service) snapshot(ctx context.Context, deliveryID string) (map[string]int, error) {
	raw, err := s.Redis.HGetAll(ctx, fmt.Sprintf(redisx.KeyDeliverySnapshot, deliveryID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: bad qty for %s: %w", deliveryID, k, err)
		}
		out[k] = n
	}
	return out, nil
}

func (s *Service) storeSnapshot(ctx context.Context, deliveryID string, items map[string]int) error {
	key := fmt.Sprintf(redisx.KeyDeliverySnapshot, deliveryID)
	pipe := s.Redis.TxPipeline()
	pipe.Del(ctx, key)
	if len(items) > 0 {
		fields := make(map[string]any, len(items))
		for k, v := range items {
			fields[k] = v
		}
		pipe.HSet(ctx, key, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DiffReservations returns the per-item change between two reservation
// snapshots. Items absent from next contribute their full negative old
// quantity; items absent from prev their full new quantity.
func DiffReservations(prev, next map[string]int) map[string]int {
	out := map[string]int{}
	for id, old := range prev {
		if d := next[id] - old; d != 0 {
			out[id] = d
		}
	}
	for id, q := range next {
		if _, seen := prev[id]; !seen && q != 0 {
			out[id] = q
		}
	}
	return out
}
