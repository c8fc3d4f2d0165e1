package stream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel the bridge uses when none
// is configured.
const DefaultRedisChannel = "loom:events"

// wireEvent is the envelope published on the Redis channel. Origin
// identifies the publishing node so it can ignore its own messages.
type wireEvent struct {
	Origin string `json:"origin"`
	Event  *Event `json:"event"`
}

// RedisBridge fans lifecycle events out across nodes over Redis
// pub/sub. Local events are forwarded to the channel; events published
// by other nodes are injected into the local hub.
type RedisBridge struct {
	hub     *Hub
	client  redis.UniversalClient
	channel string
	nodeID  string
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisBridgeOption configures a RedisBridge.
type RedisBridgeOption func(*RedisBridge)

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) RedisBridgeOption {
	return func(b *RedisBridge) { b.channel = name }
}

// NewRedisBridge creates a bridge between the hub and a Redis channel.
func NewRedisBridge(hub *Hub, client redis.UniversalClient, logger *slog.Logger, opts ...RedisBridgeOption) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &RedisBridge{
		hub:     hub,
		client:  client,
		channel: DefaultRedisChannel,
		nodeID:  newNodeID(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newNodeID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("stream: node id: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

// Start subscribes to the channel and begins forwarding local events.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

	sub := b.client.Subscribe(b.ctx, b.channel)
	// Wait for the subscription to be established before forwarding,
	// otherwise events published in the gap are lost to this node.
	if _, err := sub.Receive(b.ctx); err != nil {
		b.cancel()
		return err
	}

	b.hub.SetForwarder(b.forwardLocal)

	b.wg.Add(1)
	go b.receiveLoop(sub)

	b.logger.Info("redis stream bridge started",
		slog.String("channel", b.channel),
		slog.String("node_id", b.nodeID),
	)
	return nil
}

// Stop detaches from the hub and closes the subscription.
func (b *RedisBridge) Stop(_ context.Context) error {
	b.hub.SetForwarder(nil)
	b.cancel()
	b.wg.Wait()
	b.logger.Info("redis stream bridge stopped")
	return nil
}

// forwardLocal publishes a locally emitted event to the channel.
func (b *RedisBridge) forwardLocal(evt *Event) {
	data, err := json.Marshal(wireEvent{Origin: b.nodeID, Event: evt})
	if err != nil {
		b.logger.Error("marshal stream event failed", slog.String("error", err.Error()))
		return
	}
	if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("redis publish failed", slog.String("error", err.Error()))
	}
}

// receiveLoop injects events from other nodes into the local hub.
func (b *RedisBridge) receiveLoop(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close() //nolint:errcheck

	ch := sub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				b.logger.Warn("drop malformed stream message", slog.String("error", err.Error()))
				continue
			}
			if we.Origin == b.nodeID || we.Event == nil {
				continue
			}
			b.hub.publishLocal(we.Event)
		}
	}
}
