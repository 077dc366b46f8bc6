package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRelayPrefix = "dm:relay"

// ErrNodeUnreachable means no process is listening for the target node.
var ErrNodeUnreachable = errors.New("relay: node unreachable")

// Relay forwards frames to connections owned by another node.
type Relay interface {
	Publish(ctx context.Context, nodeID, connID string, payload []byte) error
}

type relayEnvelope struct {
	ConnID  string          `json:"conn_id"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay carries frames between nodes over one pub/sub channel per node.
type RedisRelay struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, log *zap.Logger) *RedisRelay {
	if prefix == "" {
		prefix = defaultRelayPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, prefix: prefix, log: log}
}

func (r *RedisRelay) channel(nodeID string) string {
	return r.prefix + ":node:" + nodeID
}

func (r *RedisRelay) Publish(ctx context.Context, nodeID, connID string, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{ConnID: connID, Payload: payload})
	if err != nil {
		return fmt.Errorf("relay: encode: %w", err)
	}
	receivers, err := r.client.Publish(ctx, r.channel(nodeID), data).Result()
	if err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: %s", ErrNodeUnreachable, nodeID)
	}
	return nil
}

// Listen subscribes to nodeID's channel and hands each frame to deliver until
// ctx is canceled or the returned stop func is called. The subscription is
// confirmed before Listen returns.
func (r *RedisRelay) Listen(ctx context.Context, nodeID string, deliver func(connID string, payload []byte) error) (func(), error) {
	sub := r.client.Subscribe(ctx, r.channel(nodeID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("relay: subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env relayEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.log.Warn("relay: bad envelope", zap.Error(err))
					continue
				}
				if err := deliver(env.ConnID, env.Payload); err != nil {
					r.log.Debug("relay: deliver", zap.String("conn", env.ConnID), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
