// Package worker consumes queued indexing jobs, writes the documents into
// the store, and announces the outcome on the broadcast exchanges.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	"github.com/mattmiller85/keepers-server/internal/queue"
	storepkg "github.com/mattmiller85/keepers-server/internal/store"
)

// QueueService is the slice of the queue client the worker needs.
type QueueService interface {
	StartWorking(ctx context.Context, queueName string, fn queue.WorkFunc) error
	Broadcast(ctx context.Context, msg msgpkg.Message, exchangeName string) error
}

// Options name the queue the worker consumes and the exchanges it reports on.
type Options struct {
	QueueName           string
	IndexedExchangeName string
	FailedExchangeName  string
}

// Worker indexes queued documents one at a time. Items that fail because the
// store is unreachable are handed back to the queue for redelivery; items the
// store rejects are reported on the failure exchange and dropped.
type Worker struct {
	queue QueueService
	store storepkg.Searcher
	log   logging.Logger
	opts  Options
}

func New(queueSvc QueueService, searcher storepkg.Searcher, log logging.Logger, opts Options) *Worker {
	return &Worker{
		queue: queueSvc,
		store: searcher,
		log:   log.With(logging.Fields{"component": "worker"}),
		opts:  opts,
	}
}

// Run starts consuming the indexing queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.StartWorking(ctx, w.opts.QueueName, w.Handle); err != nil {
		return fmt.Errorf("start consuming %s: %w", w.opts.QueueName, err)
	}
	w.log.Info("consuming indexing queue", logging.Fields{"queue": w.opts.QueueName})
	return nil
}

// Handle processes one queued item. Exported so tests can drive it directly.
func (w *Worker) Handle(ctx context.Context, msg msgpkg.Message) error {
	job, ok := msg.(*msgpkg.QueueForIndexing)
	if !ok {
		// Anything else on this queue is a misroute; drop it rather than let
		// it cycle forever.
		w.log.Error("unexpected message kind on indexing queue", nil, logging.Fields{
			"kind": string(msg.MessageKind()),
		})
		return nil
	}

	identity := job.Identity()

	if err := w.store.Index(ctx, job.Document); err != nil {
		if errors.Is(err, storepkg.ErrStoreUnavailable) {
			return err
		}

		w.log.Error("indexing document failed", err, logging.Fields{
			"identity":    identity,
			"document_id": job.Document.ID,
		})
		if berr := w.queue.Broadcast(ctx, msgpkg.NewErrorMessage(identity, err.Error()), w.opts.FailedExchangeName); berr != nil {
			w.log.Error("broadcasting indexing failure failed", berr, logging.Fields{"identity": identity})
		}
		return nil
	}

	finished := msgpkg.NewIndexingFinished(identity, job.Document)
	if err := w.queue.Broadcast(ctx, finished, w.opts.IndexedExchangeName); err != nil {
		// Indexing succeeded but nobody heard about it; redeliver so the
		// announcement gets another chance. Re-indexing is idempotent.
		return fmt.Errorf("broadcast indexing result: %w", err)
	}

	w.log.Debug("document indexed", logging.Fields{
		"identity":    identity,
		"document_id": job.Document.ID,
	})
	return nil
}
