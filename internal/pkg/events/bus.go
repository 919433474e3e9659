package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload string
}

// Bus is a fan-out transport. Subscribers only see messages published while
// they are subscribed.
type Bus interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe returns the message stream and a function that ends the
	// subscription and closes the stream.
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)
}

type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, message []byte) error {
	return b.client.Publish(ctx, channel, message).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	ps := b.client.Subscribe(ctx, channel)
	// Wait for the confirmation so messages published right after Subscribe
	// returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Message, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
