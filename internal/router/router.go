// Package router owns request/response correlation and dispatch policy: it
// assigns every inbound message its identity, decides which backend operation
// a message kind maps to, and matches broadcast completion events back to the
// requests still waiting for them.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattmiller85/keepers-server/internal/ids"
	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	"github.com/mattmiller85/keepers-server/internal/queue"
	storepkg "github.com/mattmiller85/keepers-server/internal/store"
)

// QueueService is the slice of the queue client the router dispatches to.
type QueueService interface {
	Enqueue(ctx context.Context, msg msgpkg.Message, queueName string) error
	ListenToExchange(ctx context.Context, exchangeName string, fn queue.EventHandler) error
}

// RouteResult is the immediate outcome of routing one message. For the
// indexing path Success only acknowledges that the work was accepted onto the
// queue; the true result arrives later through the response hook.
type RouteResult struct {
	Message msgpkg.Message
	Success bool
	Err     string
}

// UnsupportedKindError reports a decodable kind that is not a request the
// router dispatches.
type UnsupportedKindError struct {
	Kind msgpkg.Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported operation for message kind %q", e.Kind)
}

// timeoutReason is carried in the error message emitted when a pending
// request expires without its broadcast result.
const timeoutReason = "indexing did not finish in time"

type pendingRecord struct {
	kind     msgpkg.Kind
	deadline time.Time
}

// Options tune a Router.
type Options struct {
	// IndexQueueName is the durable queue indexing jobs are enqueued to.
	IndexQueueName string
	// IndexedExchangeName is the broadcast exchange completion events arrive on.
	IndexedExchangeName string
	// PendingTTL bounds how long a request may await its broadcast result.
	PendingTTL time.Duration
	// Hooks receive routing lifecycle notifications.
	Hooks Hooks
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// ReapInterval overrides how often expired pending records are swept.
	ReapInterval time.Duration
}

// Router is the sole owner of correlation state. Safe for concurrent use.
type Router struct {
	queue  QueueService
	store  storepkg.Searcher
	log    logging.Logger
	hooks  Hooks
	tracer trace.Tracer

	indexQueue      string
	indexedExchange string
	pendingTTL      time.Duration
	reapInterval    time.Duration
	now             func() time.Time

	mu      sync.Mutex
	pending map[string]pendingRecord
}

// New creates a Router. Call Start to begin receiving broadcast events and
// reaping expired pending records.
func New(queueSvc QueueService, searcher storepkg.Searcher, log logging.Logger, opts Options) *Router {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	ttl := opts.PendingTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	reap := opts.ReapInterval
	if reap <= 0 {
		reap = ttl / 10
		if reap < time.Second {
			reap = time.Second
		}
	}

	return &Router{
		queue:           queueSvc,
		store:           searcher,
		log:             log.With(logging.Fields{"component": "router"}),
		hooks:           opts.Hooks,
		tracer:          otel.Tracer("keepers-server/router"),
		indexQueue:      opts.IndexQueueName,
		indexedExchange: opts.IndexedExchangeName,
		pendingTTL:      ttl,
		reapInterval:    reap,
		now:             now,
		pending:         make(map[string]pendingRecord),
	}
}

// Start subscribes the router to the completion exchange and launches the
// expiry reaper. Both run until ctx is cancelled.
func (r *Router) Start(ctx context.Context) error {
	err := r.queue.ListenToExchange(ctx, r.indexedExchange, func(fromExchange string, msg msgpkg.Message) {
		r.HandleExchangeMessage(fromExchange, msg)
	})
	if err != nil {
		return fmt.Errorf("listen to completion exchange: %w", err)
	}

	go r.reapLoop(ctx)
	return nil
}

// Route assigns a fresh identity to the message, records it as pending, and
// dispatches by kind. Synchronous paths resolve the pending record before
// returning; the indexing path leaves it in place until the matching
// broadcast event (or the TTL) resolves it.
//
// Any identity the caller put on the message is overwritten; callers are
// never trusted to pick correlation tokens.
func (r *Router) Route(ctx context.Context, msg msgpkg.Message) (RouteResult, error) {
	kind := msg.MessageKind()

	ctx, span := r.tracer.Start(ctx, "router.Route",
		trace.WithAttributes(attribute.String("message.kind", string(kind))))
	defer span.End()

	identity := ids.NewIdentity()
	msg.SetIdentity(identity)
	span.SetAttributes(attribute.String("message.identity", identity))

	r.addPending(identity, kind)

	switch kind {
	case msgpkg.KindQueueForIndexing:
		return r.routeIndexing(ctx, msg), nil

	case msgpkg.KindSearchForKeeper:
		defer r.removePending(identity)
		return r.routeSearch(ctx, msg.(*msgpkg.SearchForKeeper)), nil

	case msgpkg.KindUpdateTags:
		defer r.removePending(identity)
		m := msg.(*msgpkg.UpdateTags)
		result, err := r.store.UpdateTags(ctx, m.KeeperIDs, m.Tags)
		if err != nil {
			return RouteResult{Message: msgpkg.NewUpdateDeleteResponse(identity, false, err.Error()), Err: err.Error()}, nil
		}
		return RouteResult{
			Message: msgpkg.NewUpdateDeleteResponse(identity, result.OK, opErrText(result)),
			Success: result.OK,
			Err:     opErrText(result),
		}, nil

	case msgpkg.KindRemoveDocument:
		defer r.removePending(identity)
		m := msg.(*msgpkg.RemoveDocument)
		result, err := r.store.Delete(ctx, m.KeeperIDs)
		if err != nil {
			return RouteResult{Message: msgpkg.NewUpdateDeleteResponse(identity, false, err.Error()), Err: err.Error()}, nil
		}
		return RouteResult{
			Message: msgpkg.NewUpdateDeleteResponse(identity, result.OK, opErrText(result)),
			Success: result.OK,
			Err:     opErrText(result),
		}, nil
	}

	// error, search_results, indexing_finished, and update_delete_response are
	// responses or events; a client submitting one as a request gets an
	// explicit error instead of silent undefined behaviour.
	r.removePending(identity)
	return RouteResult{}, &UnsupportedKindError{Kind: kind}
}

func (r *Router) routeIndexing(ctx context.Context, msg msgpkg.Message) RouteResult {
	if err := r.queue.Enqueue(ctx, msg, r.indexQueue); err != nil {
		r.log.Error("enqueue for indexing failed", err, logging.Fields{"identity": msg.Identity()})
		r.hooks.messageFailed(msg)
		// The pending record stays; the TTL reaper reclaims it and reports
		// the timeout, since no completion event will ever arrive.
		return RouteResult{Message: msg, Success: false, Err: err.Error()}
	}

	r.hooks.messageRouted(msg)
	return RouteResult{Message: msg, Success: true}
}

func (r *Router) routeSearch(ctx context.Context, msg *msgpkg.SearchForKeeper) RouteResult {
	identity := msg.Identity()

	if msg.SearchString != "" {
		found, err := r.store.Search(ctx, msg.SearchString)
		if err != nil {
			return RouteResult{Message: msg, Success: false, Err: err.Error()}
		}
		results := msgpkg.NewSearchResults(found.Results, found.TookMs)
		results.SetIdentity(identity)
		return RouteResult{Message: results, Success: true}
	}

	found, err := r.store.GetKeeper(ctx, msg.DocumentID)
	if err != nil {
		return RouteResult{Message: msg, Success: false, Err: err.Error()}
	}
	results := msgpkg.NewSingleSearchResult(found)
	results.SetIdentity(identity)
	return RouteResult{Message: results, Success: true}
}

// HandleExchangeMessage matches an inbound broadcast event against the
// pending set. Events from other exchanges, and events whose identity has no
// pending record (already fulfilled, expired, or never existed), are silently
// dropped. A matching event resolves its record exactly once.
func (r *Router) HandleExchangeMessage(fromExchange string, msg msgpkg.Message) {
	if fromExchange != r.indexedExchange {
		return
	}

	identity := msg.Identity()

	r.mu.Lock()
	_, ok := r.pending[identity]
	if ok {
		delete(r.pending, identity)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.log.Debug("correlated broadcast event to pending request", logging.Fields{
		"identity": identity,
		"kind":     string(msg.MessageKind()),
	})
	r.hooks.response(msg)
}

// PendingCount reports how many requests are still awaiting a broadcast
// result. Exposed for the pending-requests gauge.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) addPending(identity string, kind msgpkg.Kind) {
	r.mu.Lock()
	r.pending[identity] = pendingRecord{kind: kind, deadline: r.now().Add(r.pendingTTL)}
	r.mu.Unlock()
}

func (r *Router) removePending(identity string) {
	r.mu.Lock()
	delete(r.pending, identity)
	r.mu.Unlock()
}

func (r *Router) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapExpired()
		}
	}
}

// reapExpired sweeps pending records whose deadline passed and reports each
// as a timeout through the response hook, so waiting connections learn their
// request died instead of waiting forever.
func (r *Router) reapExpired() {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for identity, record := range r.pending {
		if now.After(record.deadline) {
			expired = append(expired, identity)
		}
	}
	for _, identity := range expired {
		delete(r.pending, identity)
	}
	r.mu.Unlock()

	for _, identity := range expired {
		r.log.Info("pending request expired", logging.Fields{"identity": identity})
		r.hooks.response(msgpkg.NewErrorMessage(identity, timeoutReason))
	}
}

func opErrText(result storepkg.OpResult) string {
	if result.OK {
		return ""
	}
	return result.Message
}
