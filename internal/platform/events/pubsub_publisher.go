// Package events publishes session transition events to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

// PubSubTransitionPublisher publishes transition events to a Pub/Sub topic. Events for the same user
// share an ordering key so consumers see a sign-in before the following sign-out.
type PubSubTransitionPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.TransitionPublisher = (*PubSubTransitionPublisher)(nil)

// NewPubSubTransitionPublisher constructs a Pub/Sub backed transition publisher. It enables message
// ordering on topic.
func NewPubSubTransitionPublisher(topic *pubsub.Topic) (*PubSubTransitionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub transition publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubTransitionPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishTransition sends event and waits for the server acknowledgement.
func (p *PubSubTransitionPublisher) PublishTransition(ctx context.Context, event services.TransitionEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub transition publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transition event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "kind", string(event.Kind))
	setAttr(attrs, "outcome", event.Outcome)

	orderingKey := strings.TrimSpace(event.UserID)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})

	if _, err := result.Get(ctx); err != nil {
		if orderingKey != "" {
			p.topic.ResumePublish(orderingKey)
		}
		return fmt.Errorf("publish transition event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubTransitionPublisher) Close() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// TopicCheck reports whether the topic exists. Transitions are published best-effort, so a missing
// topic only degrades readiness.
func TopicCheck(topic *pubsub.Topic) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:     "events",
		Timeout:  2 * time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
