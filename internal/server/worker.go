package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpinegear/identity/config"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/mq"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/storage"
)

// Worker delivers queued notifications over SMTP.
type Worker struct {
	worker *notify.Worker
	broker *mq.MQ
}

// NewWorker connects the broker and, when configured, the dead-letter archive.
func NewWorker(ctx context.Context, cfg config.Config, log logging.Logger) (*Worker, error) {
	if cfg.MQ.Backend == "none" {
		return nil, errors.New("worker requires MQ_BACKEND")
	}
	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}

	var archive notify.Archiver
	if cfg.Storage.Backend != "none" {
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			_ = broker.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		archive = store
	} else {
		log.Warn(ctx, "STORAGE_BACKEND not set, undeliverable notifications are dropped")
	}

	return &Worker{
		worker: notify.NewWorker(broker, cfg.Notify.Channel, notify.NewSMTPMailer(cfg.SMTP), archive, log),
		broker: broker,
	}, nil
}

// Run consumes until ctx is cancelled and then closes the broker.
func (w *Worker) Run(ctx context.Context) error {
	err := w.worker.Run(ctx)
	return errors.Join(err, w.broker.Close())
}
