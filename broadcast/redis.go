package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Broadcaster = (*Redis)(nil)

// Redis extends the in-process bus across independent processes using
// Redis pub/sub, the server-side analogue of the browser BroadcastChannel.
// Local listeners are served directly; remote updates arrive through the
// subscription loop. Delivery stays best-effort: a Redis outage drops
// cross-process fan-out but never local delivery.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	local   *Bus
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// envelope wraps an update with its origin so a process can skip updates
// it already delivered locally.
type envelope struct {
	Origin string       `json:"origin"`
	Update StatusUpdate `json:"update"`
}

// NewRedis connects to Redis and starts the cross-process receive loop.
func NewRedis(addr, channel string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broadcast: connect to redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client:  client,
		channel: channel,
		origin:  uuid.New().String(),
		local:   NewBus(logger),
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	pubsub := client.Subscribe(ctx, channel)
	go r.receive(ctx, pubsub)

	return r, nil
}

// Publish delivers locally and fans out to other processes.
func (r *Redis) Publish(update StatusUpdate) {
	r.local.Publish(update)

	data, err := json.Marshal(envelope{Origin: r.origin, Update: update})
	if err != nil {
		r.logger.Error("failed to marshal status update", slog.String("error", err.Error()))
		return
	}
	if err := r.client.Publish(context.Background(), r.channel, data).Err(); err != nil {
		r.logger.Warn("cross-process status publish failed",
			slog.String("job_id", update.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe registers a local handler for both local and remote updates.
func (r *Redis) Subscribe(handler func(StatusUpdate)) func() {
	return r.local.Subscribe(handler)
}

// Close stops the receive loop and closes the Redis connection.
func (r *Redis) Close() error {
	r.cancel()
	<-r.done
	return r.client.Close()
}

func (r *Redis) receive(ctx context.Context, pubsub *redis.PubSub) {
	defer close(r.done)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping malformed status update", slog.String("error", err.Error()))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.local.Publish(env.Update)
		}
	}
}
