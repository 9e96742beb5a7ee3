// Package bus defines the pub/sub contract used for human-in-the-loop
// confirmations and task lifecycle events.
package bus

import "context"

// Message is one delivery from a subscription.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher sends a payload to a logical topic.
type Publisher interface {
	// Publish marshals payload to JSON and sends it. Returns the message id.
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Subscriber receives messages from a logical topic.
type Subscriber interface {
	// Subscribe starts delivery for topic. The returned cancel func stops
	// delivery and releases the subscription; callers must always invoke it.
	// The channel closes after cancel or when ctx ends.
	Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error)
}

// Bus combines both directions of the pub/sub contract.
type Bus interface {
	Publisher
	Subscriber
}

// LoginConfirmTopic names the per-browsing-context confirmation topic. A
// task suspended on a login interaction waits on this topic; the confirm
// endpoint publishes to it.
func LoginConfirmTopic(contextID string) string {
	return "login_confirm:" + contextID
}
