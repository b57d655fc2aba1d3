package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Bus relays room events between instances over a redis pub/sub channel so
// the hub's in-process rooms scale horizontally. Each instance tags its
// messages with an origin id and skips its own on receipt.
type Bus struct {
	rc      *redis.Client
	channel string
	origin  string
	logger  *log.Logger
}

type busMessage struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Event  string `json:"event"`
	// Frame is the fully encoded envelope, forwarded verbatim.
	Frame []byte `json:"frame"`
}

// NewBus creates a bus publishing on the given channel.
func NewBus(rc *redis.Client, channel string, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{rc: rc, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Publish forwards an already-encoded frame to the other instances. Errors
// are logged and dropped; cross-instance delivery is best effort.
func (b *Bus) Publish(room, event string, frame []byte) {
	msg := busMessage{Origin: b.origin, Room: room, Event: event, Frame: frame}
	data, err := sonic.Marshal(msg)
	if err != nil {
		b.logger.WithField("error", err).Error("bus encode")
		return
	}
	if err := b.rc.Publish(context.Background(), b.channel, data).Err(); err != nil {
		b.logger.WithFields(log.Fields{"event": event, "error": err}).Error("bus publish")
	}
}

// Subscribe consumes relayed events and hands them to the hub for local
// delivery, reconnecting with a small backoff when the pub/sub stream drops.
func (b *Bus) Subscribe(ctx context.Context, hub *Hub) {
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var m busMessage
				if err := sonic.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.WithField("error", err).Error("bus decode")
					continue
				}
				if m.Origin == b.origin {
					continue
				}
				hub.deliverLocal(m.Room, m.Event, m.Frame)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("bus channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
