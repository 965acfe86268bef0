package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

const DefaultRelayChannel = "helpboard:changefeed"

// RedisRelay links brokers running in different processes: local events are
// published to a Redis channel and events from other nodes are injected into
// the local broker.
type RedisRelay struct {
	rdb     *goredis.Client
	channel string
	nodeID  string
	broker  *Broker
	log     *slog.Logger
}

type relayEnvelope struct {
	Origin string               `json:"origin"`
	Events []domain.ChangeEvent `json:"events"`
}

// NewRedisRelay connects to addr and verifies the connection.
func NewRedisRelay(ctx context.Context, addr, channel string, broker *Broker) (*RedisRelay, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisRelayWithClient(rdb, channel, broker), nil
}

func NewRedisRelayWithClient(rdb *goredis.Client, channel string, broker *Broker) *RedisRelay {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultRelayChannel
	}
	nodeID := uuid.NewString()
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		nodeID:  nodeID,
		broker:  broker,
		log:     logger.WithComponent("RedisRelay").With("nodeID", nodeID),
	}
}

func (r *RedisRelay) NodeID() string { return r.nodeID }

// Export implements Sink.
func (r *RedisRelay) Export(ctx context.Context, events []domain.ChangeEvent) error {
	raw, err := json.Marshal(relayEnvelope{Origin: r.nodeID, Events: events})
	if err != nil {
		return err
	}
	logger.ExternalServiceCall("redis", "PUBLISH", "channel", r.channel, "events", len(events))
	err = r.rdb.Publish(ctx, r.channel, raw).Err()
	logger.ExternalServiceResult("redis", "PUBLISH", err, "channel", r.channel)
	return err
}

// Start subscribes to the relay channel and forwards remote events until ctx ends.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				if err := r.handlePayload([]byte(m.Payload)); err != nil {
					r.log.Warn("Bad change feed payload", "error", err)
				}
			}
		}
	}()
	r.log.Info("Change feed relay started", "channel", r.channel)
	return nil
}

func (r *RedisRelay) handlePayload(raw []byte) error {
	var env relayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Origin == r.nodeID {
		return nil
	}
	r.broker.Inject(env.Events...)
	return nil
}

func (r *RedisRelay) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
