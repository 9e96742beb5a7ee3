// Package pubsub implements the bus over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/bus"
)

// Bus implements bus.Bus on Google Cloud Pub/Sub. Topics and subscriptions
// are created on demand; logical topic names are sanitized into valid
// resource ids and also carried verbatim in a message attribute.
type Bus struct {
	client    *pubsub.Client
	projectID string
	logger    *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

var _ bus.Bus = (*Bus)(nil)

// New connects to Pub/Sub using Application Default Credentials.
func New(ctx context.Context, projectID string, logger *zap.Logger) (*Bus, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Bus{
		client:    client,
		projectID: projectID,
		logger:    logger.Named("bus.pubsub"),
		topics:    make(map[string]*pubsub.Topic),
	}, nil
}

// ResourceID converts a logical topic name into a valid Pub/Sub resource id.
// Colons from the login-confirm convention are not allowed in resource
// names.
func ResourceID(logical string) string {
	return strings.ReplaceAll(logical, ":", "-")
}

// Publish marshals the payload to JSON and publishes it, waiting for the
// server-assigned id. Trace context is injected into message attributes.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	t, err := b.ensureTopic(ctx, topic)
	if err != nil {
		return "", err
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"logical_topic": topic},
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})

	id, err := t.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Subscribe creates an ephemeral subscription on the topic and pumps
// deliveries into a channel until cancel is called.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan bus.Message, func(), error) {
	t, err := b.ensureTopic(ctx, topic)
	if err != nil {
		return nil, nil, err
	}

	subID := fmt.Sprintf("%s-%s", ResourceID(topic), uuid.NewString()[:8])
	sub, err := b.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:            t,
		AckDeadline:      10 * time.Second,
		ExpirationPolicy: 24 * time.Hour,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create subscription %s: %w", subID, err)
	}

	out := make(chan bus.Message, 16)
	recvCtx, recvCancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, recvCancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := sub.Receive(recvCtx, func(_ context.Context, m *pubsub.Message) {
			msg := bus.Message{ID: m.ID, Topic: topic, Data: m.Data, Attributes: m.Attributes}
			select {
			case out <- msg:
				m.Ack()
			case <-recvCtx.Done():
				m.Nack()
			}
		})
		if err != nil && recvCtx.Err() == nil {
			b.logger.Warn("subscription receive ended",
				zap.String("subscription", subID), zap.Error(err))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			recvCancel()
			<-done
			close(out)

			cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelCleanup()
			if err := sub.Delete(cleanupCtx); err != nil {
				b.logger.Warn("subscription delete failed",
					zap.String("subscription", subID), zap.Error(err))
			}
		})
	}
	return out, cancel, nil
}

// Close flushes pending publishes and releases the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.topics = make(map[string]*pubsub.Topic)
	b.mu.Unlock()

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (b *Bus) ensureTopic(ctx context.Context, logical string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[logical]; ok {
		return t, nil
	}

	id := ResourceID(logical)
	t := b.client.Topic(id)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", id, err)
	}
	if !exists {
		created, err := b.client.CreateTopic(ctx, id)
		if err != nil {
			// Another instance may have won the creation race.
			if exists, checkErr := t.Exists(ctx); checkErr != nil || !exists {
				return nil, fmt.Errorf("create topic %s: %w", id, err)
			}
		} else {
			t = created
		}
	}

	b.topics[logical] = t
	return t, nil
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
