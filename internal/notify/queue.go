package notify

import (
	"context"
	"fmt"
)

// Publisher is the subset of *mq.MQ used to enqueue messages.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any, attrs map[string]string) (string, error)
}

// QueueDispatcher hands messages to a broker for the Worker to deliver.
// A nil error means the broker accepted the message, not that it was delivered.
type QueueDispatcher struct {
	publisher Publisher
	channel   string
}

func NewQueueDispatcher(publisher Publisher, channel string) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher, channel: channel}
}

func (q *QueueDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if _, err := q.publisher.PublishJSON(ctx, q.channel, msg, map[string]string{"kind": string(msg.Kind)}); err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrDelivery, err)
	}
	return nil
}
