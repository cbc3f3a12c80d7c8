package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/mq"
	"github.com/google/uuid"
)

// Subscriber is the subset of *mq.MQ the worker consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Archiver is the subset of *storage.Storage used for dead letters.
type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// DeadLetter is the archived record of a message the worker could not deliver.
type DeadLetter struct {
	MessageID string    `json:"messageId"`
	Message   *Message  `json:"message,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failedAt"`
}

// Worker drains the notification queue into a Dispatcher.
type Worker struct {
	subscriber Subscriber
	channel    string
	mailer     Dispatcher
	archive    Archiver
	log        logging.Logger
	now        func() time.Time
}

// NewWorker builds a worker. archive may be nil, in which case undeliverable
// messages are logged and dropped.
func NewWorker(subscriber Subscriber, channel string, mailer Dispatcher, archive Archiver, log logging.Logger) *Worker {
	return &Worker{
		subscriber: subscriber,
		channel:    channel,
		mailer:     mailer,
		archive:    archive,
		log:        log.With("component", "notify.worker", "channel", channel),
		now:        time.Now,
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info(ctx, "notification worker started")
	err := w.subscriber.Subscribe(ctx, w.channel, w.Handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Handle delivers one queued message. Undeliverable messages are archived and
// acked; only an archive failure nacks the message for redelivery.
func (w *Worker) Handle(ctx context.Context, m mq.Message) error {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return w.deadLetter(ctx, DeadLetter{
			MessageID: id,
			Raw:       string(m.Data),
			Error:     fmt.Sprintf("decode: %v", err),
		})
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		w.log.Warn(ctx, "notification undeliverable", "message_id", id, "kind", msg.Kind, "error", err)
		return w.deadLetter(ctx, DeadLetter{MessageID: id, Message: &msg, Error: err.Error()})
	}
	w.log.Debug(ctx, "notification delivered", "message_id", id, "kind", msg.Kind)
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, dl DeadLetter) error {
	dl.FailedAt = w.now().UTC()
	if w.archive == nil {
		w.log.Error(ctx, "notification dropped", "message_id", dl.MessageID, "error", dl.Error)
		return nil
	}
	key := DeadLetterKey(dl.FailedAt, dl.MessageID)
	if err := w.archive.PutJSON(ctx, key, dl); err != nil {
		w.log.Error(ctx, "archive dead letter failed", "key", key, "error", err)
		return fmt.Errorf("archive dead letter: %w", err)
	}
	w.log.Info(ctx, "notification archived", "key", key)
	return nil
}

// DeadLetterKey returns the object key for a dead letter.
func DeadLetterKey(at time.Time, id string) string {
	return fmt.Sprintf("dead-letters/%s/%s.json", at.UTC().Format("2006/01/02"), id)
}
