// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openrisk/kestrel/internal/domain"
)

// ChannelBus is the Community tier event bus: in-process delivery over
// buffered Go channels, one dispatch goroutine per subscriber.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	nextID  uint64
	feeds   map[string]map[uint64]*channelSub
	closed  bool
}

type channelSub struct {
	bus     *ChannelBus
	id      uint64
	subject string
	topic   string
	inbox   chan *domain.Message
	done    chan struct{}
	once    sync.Once
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		feeds:  make(map[string]map[uint64]*channelSub),
	}
}

// subject scopes a topic to a tenant so tenants never see each other's
// traffic.
func subject(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Publish delivers a message to every subscriber of the tenant's topic.
// Delivery is best effort: a subscriber whose inbox is full misses the
// message rather than blocking the publisher.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := make([]*channelSub, 0, len(b.feeds[subject(tenantID, topic)]))
	for _, sub := range b.feeds[subject(tenantID, topic)] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a handler for a tenant's topic and starts its
// dispatch goroutine.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	b.nextID++
	sub := &channelSub{
		bus:     b,
		id:      b.nextID,
		subject: subject(tenantID, topic),
		topic:   topic,
		inbox:   make(chan *domain.Message, b.buffer),
		done:    make(chan struct{}),
	}

	if b.feeds[sub.subject] == nil {
		b.feeds[sub.subject] = make(map[uint64]*channelSub)
	}
	b.feeds[sub.subject][sub.id] = sub

	go sub.dispatch(ctx, handler)
	return sub, nil
}

func (s *channelSub) dispatch(ctx context.Context, handler domain.MessageHandler) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			if msg == nil {
				return
			}
			_ = handler(ctx, msg)
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close shuts down the bus and detaches every subscriber.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, feed := range b.feeds {
		for _, sub := range feed {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	b.feeds = make(map[string]map[uint64]*channelSub)
	return nil
}

// Unsubscribe stops delivery and removes the subscriber from the bus.
func (s *channelSub) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if feed, ok := s.bus.feeds[s.subject]; ok {
		delete(feed, s.id)
		if len(feed) == 0 {
			delete(s.bus.feeds, s.subject)
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSub) Topic() string {
	return s.topic
}
