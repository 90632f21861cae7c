package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	"github.com/mattmiller85/keepers-server/internal/queue"
	storepkg "github.com/mattmiller85/keepers-server/internal/store"
)

type broadcastCall struct {
	exchange string
	msg      msgpkg.Message
}

type fakeQueue struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
	workQueue  string
	workFn     queue.WorkFunc
}

func (f *fakeQueue) StartWorking(_ context.Context, queueName string, fn queue.WorkFunc) error {
	f.workQueue = queueName
	f.workFn = fn
	return nil
}

func (f *fakeQueue) Broadcast(_ context.Context, msg msgpkg.Message, exchangeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastCall{exchange: exchangeName, msg: msg})
	return nil
}

type fakeStore struct {
	indexed  []msgpkg.Document
	indexErr error
}

func (f *fakeStore) Index(_ context.Context, doc msgpkg.Document) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, doc)
	return nil
}

func (f *fakeStore) Search(context.Context, string) (storepkg.SearchResults, error) {
	return storepkg.SearchResults{}, nil
}

func (f *fakeStore) GetKeeper(context.Context, string) (msgpkg.DocumentResult, error) {
	return msgpkg.DocumentResult{}, storepkg.ErrNotFound
}

func (f *fakeStore) UpdateTags(context.Context, []string, string) (storepkg.OpResult, error) {
	return storepkg.OpResult{OK: true}, nil
}

func (f *fakeStore) Delete(context.Context, []string) (storepkg.OpResult, error) {
	return storepkg.OpResult{OK: true}, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func testOptions() Options {
	return Options{
		QueueName:           "ready_to_index",
		IndexedExchangeName: "document_indexed",
		FailedExchangeName:  "document_indexed_failed",
	}
}

func newJob(identity string) *msgpkg.QueueForIndexing {
	job := &msgpkg.QueueForIndexing{
		Document: msgpkg.Document{ID: "doc-1", Text: "warranty card", Tags: "warranty"},
	}
	job.Kind = msgpkg.KindQueueForIndexing
	job.SetIdentity(identity)
	return job
}

func TestHandleIndexesAndBroadcastsCompletion(t *testing.T) {
	fq := &fakeQueue{}
	fs := &fakeStore{}
	w := New(fq, fs, logging.Nop(), testOptions())

	if err := w.Handle(context.Background(), newJob("id-1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(fs.indexed) != 1 || fs.indexed[0].ID != "doc-1" {
		t.Fatalf("expected doc-1 indexed, got %+v", fs.indexed)
	}
	if len(fq.broadcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(fq.broadcasts))
	}
	b := fq.broadcasts[0]
	if b.exchange != "document_indexed" {
		t.Fatalf("broadcast on %q, want document_indexed", b.exchange)
	}
	if b.msg.MessageKind() != msgpkg.KindIndexingFinished {
		t.Fatalf("broadcast kind %q, want indexing_finished", b.msg.MessageKind())
	}
	if b.msg.Identity() != "id-1" {
		t.Fatalf("broadcast identity %q, want id-1", b.msg.Identity())
	}
}

func TestHandleStoreUnavailableNacksForRedelivery(t *testing.T) {
	fq := &fakeQueue{}
	fs := &fakeStore{indexErr: storepkg.ErrStoreUnavailable}
	w := New(fq, fs, logging.Nop(), testOptions())

	err := w.Handle(context.Background(), newJob("id-2"))
	if !errors.Is(err, storepkg.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(fq.broadcasts) != 0 {
		t.Fatalf("expected no broadcasts, got %d", len(fq.broadcasts))
	}
}

func TestHandleIndexRejectionBroadcastsFailure(t *testing.T) {
	fq := &fakeQueue{}
	fs := &fakeStore{indexErr: errors.New("document too large")}
	w := New(fq, fs, logging.Nop(), testOptions())

	if err := w.Handle(context.Background(), newJob("id-3")); err != nil {
		t.Fatalf("rejected item should be dropped, got error: %v", err)
	}

	if len(fq.broadcasts) != 1 {
		t.Fatalf("expected one failure broadcast, got %d", len(fq.broadcasts))
	}
	b := fq.broadcasts[0]
	if b.exchange != "document_indexed_failed" {
		t.Fatalf("broadcast on %q, want document_indexed_failed", b.exchange)
	}
	errMsg, ok := b.msg.(*msgpkg.ErrorMessage)
	if !ok {
		t.Fatalf("broadcast message is %T, want *ErrorMessage", b.msg)
	}
	if errMsg.Identity() != "id-3" || errMsg.Reason != "document too large" {
		t.Fatalf("unexpected failure message: %+v", errMsg)
	}
}

func TestHandleDropsMisroutedKinds(t *testing.T) {
	fq := &fakeQueue{}
	fs := &fakeStore{}
	w := New(fq, fs, logging.Nop(), testOptions())

	msg := msgpkg.NewErrorMessage("id-4", "noise")
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("misrouted item should be acked away, got error: %v", err)
	}
	if len(fs.indexed) != 0 || len(fq.broadcasts) != 0 {
		t.Fatal("misrouted item must not touch store or exchanges")
	}
}

func TestRunSubscribesToConfiguredQueue(t *testing.T) {
	fq := &fakeQueue{}
	w := New(fq, &fakeStore{}, logging.Nop(), testOptions())

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if fq.workQueue != "ready_to_index" {
		t.Fatalf("subscribed to %q, want ready_to_index", fq.workQueue)
	}
	if fq.workFn == nil {
		t.Fatal("work function not registered")
	}
}
