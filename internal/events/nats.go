package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriberBuffer bounds the notifications queued for a slow consumer.
// NATS drops further messages for that subscription until it catches up.
const subscriberBuffer = 64

// NATSPublisher publishes JSON-encoded notifications to NATS subjects named
// after their topic.
type NATSPublisher struct {
	conn *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("evlog"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s notification: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending notifications and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	return err
}

// NATSSubscriber follows notification topics on NATS.
type NATSSubscriber struct {
	conn *nats.Conn
}

var _ Subscriber = (*NATSSubscriber)(nil)

// NewNATSSubscriber connects to NATS and keeps reconnecting forever. opts
// are applied after the defaults, e.g. to observe disconnects.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	all := append([]nats.Option{
		nats.Name("evlog"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts...)
	nc, err := nats.Connect(url, all...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers the notifications of topic, which may use NATS
// wildcards such as TopicAll. Once cancel returns, the channel is closed
// and holds no pending messages.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	in := make(chan *nats.Msg, subscriberBuffer)
	sub, err := s.conn.ChanSubscribe(topic, in)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before the caller relies on it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	out := make(chan Message, subscriberBuffer)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer func() {
			for len(out) > 0 {
				<-out
			}
			close(out)
		}()
		for {
			select {
			case <-done:
				return
			case msg := <-in:
				select {
				case out <- Message{Topic: msg.Subject, Data: msg.Data}:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
		})
		<-stopped
	}
	return out, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
