// Package realtime delivers row change notifications over Redis pub/sub.
// Writers publish a types.RowChange on the topic of the changed row; each
// subscriber holds its own pub/sub connection.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/pkg/types"
)

// Topic is the pub/sub channel carrying changes of one row.
func Topic(table, rowID string) string {
	return fmt.Sprintf("realtime:public:%s:id=eq.%s", table, rowID)
}

type Broker struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

func NewBroker(client *redis.Client, log *zap.SugaredLogger) *Broker {
	return &Broker{client: client, log: log}
}

// Publish announces change to subscribers of its row.
func (b *Broker) Publish(ctx context.Context, change types.RowChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode row change: %w", err)
	}
	if err := b.client.Publish(ctx, Topic(change.Table, change.RowID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish row change: %w", err)
	}
	return nil
}

// Subscribe opens a channel named name that calls fn for every change
// matching filter. filter.Table and filter.RowID are required.
func (b *Broker) Subscribe(ctx context.Context, name string, filter types.RowFilter, fn func(types.RowChange)) (io.Closer, error) {
	if filter.Table == "" || filter.RowID == "" {
		return nil, fmt.Errorf("realtime: channel %s needs a table and row filter", name)
	}
	topic := Topic(filter.Table, filter.RowID)
	ps := b.client.Subscribe(ctx, topic)
	// Receive blocks until the subscription is confirmed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe %s: %w", topic, err)
	}

	ch := newChannel(name, topic, ps)
	log := b.log.With("channel", name, "topic", topic)
	go ch.run(ps.Channel(), filter, fn, log)
	log.Debugw("realtime_channel_open")
	return ch, nil
}

// Channel is one open subscription. Closing conn must end the message
// stream handed to run.
type Channel struct {
	name  string
	topic string
	conn  io.Closer
	done  chan struct{}
	once  sync.Once
	err   error
}

func newChannel(name, topic string, conn io.Closer) *Channel {
	return &Channel{name: name, topic: topic, conn: conn, done: make(chan struct{})}
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) run(msgs <-chan *redis.Message, filter types.RowFilter, fn func(types.RowChange), log *zap.SugaredLogger) {
	defer close(c.done)
	for msg := range msgs {
		change, err := Decode(msg.Payload)
		if err != nil {
			log.Warnw("realtime_bad_payload", "err", err)
			continue
		}
		if filter.Match(change) {
			fn(change)
		}
	}
}

// Close unsubscribes and waits for the delivery loop to stop.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.err = c.conn.Close()
		<-c.done
	})
	return c.err
}

func Decode(payload string) (types.RowChange, error) {
	var change types.RowChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return change, fmt.Errorf("failed to decode row change: %w", err)
	}
	if change.Table == "" || change.RowID == "" || change.Type == "" {
		return change, fmt.Errorf("incomplete row change: %q", payload)
	}
	return change, nil
}

var Module = fx.Options(
	fx.Provide(NewBroker),
)
