package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	"github.com/mattmiller85/keepers-server/internal/queue"
	routerpkg "github.com/mattmiller85/keepers-server/internal/router"
	storepkg "github.com/mattmiller85/keepers-server/internal/store"
)

type recordingConn struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
}

func (c *recordingConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func TestLedgerDeliversExactlyOnce(t *testing.T) {
	var delivered, dropped int
	ledger := NewLedger(logging.Nop(), LedgerObserver{
		OnDelivered: func() { delivered++ },
		OnDropped:   func() { dropped++ },
	})
	conn := &recordingConn{}

	ledger.Remember("id-1", conn)
	ledger.DeliverAndForget("id-1", []byte(`{"kind":"indexing_finished"}`))
	ledger.DeliverAndForget("id-1", []byte(`{"kind":"indexing_finished"}`))

	assert.Len(t, conn.sent(), 1)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, ledger.Len())
}

func TestLedgerUnknownIdentityDropped(t *testing.T) {
	var dropped int
	ledger := NewLedger(logging.Nop(), LedgerObserver{OnDropped: func() { dropped++ }})

	ledger.DeliverAndForget("never-seen", []byte("x"))

	assert.Equal(t, 1, dropped)
}

func TestLedgerSendFailureCountsAsDropped(t *testing.T) {
	var delivered, dropped int
	ledger := NewLedger(logging.Nop(), LedgerObserver{
		OnDelivered: func() { delivered++ },
		OnDropped:   func() { dropped++ },
	})
	conn := &recordingConn{sendErr: errors.New("connection reset")}

	ledger.Remember("id-1", conn)
	ledger.DeliverAndForget("id-1", []byte("x"))

	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, ledger.Len())
}

func TestLedgerForgetRemovesConnectionEntries(t *testing.T) {
	ledger := NewLedger(logging.Nop(), LedgerObserver{})
	gone := &recordingConn{}
	alive := &recordingConn{}

	ledger.Remember("a", gone)
	ledger.Remember("b", gone)
	ledger.Remember("c", alive)

	ledger.Forget(gone)

	assert.Equal(t, 1, ledger.Len())
	ledger.DeliverAndForget("c", []byte("x"))
	assert.Len(t, alive.sent(), 1)
}

func TestResponseHookEncodesAndDelivers(t *testing.T) {
	ledger := NewLedger(logging.Nop(), LedgerObserver{})
	conn := &recordingConn{}
	ledger.Remember("id-9", conn)

	hooks := ResponseHook(ledger, logging.Nop())
	hooks.OnResponse(msgpkg.NewIndexingFinished("id-9", msgpkg.Document{ID: "doc-1", Text: "hello"}))

	payloads := conn.sent()
	require.Len(t, payloads, 1)
	decoded, err := msgpkg.Decode(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, msgpkg.KindIndexingFinished, decoded.MessageKind())
	assert.Equal(t, "id-9", decoded.Identity())
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []msgpkg.Message
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, msg msgpkg.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, msg)
	return nil
}

func (f *fakeQueue) ListenToExchange(context.Context, string, queue.EventHandler) error {
	return nil
}

type fakeStore struct {
	results   storepkg.SearchResults
	searchErr error
}

func (f *fakeStore) Search(context.Context, string) (storepkg.SearchResults, error) {
	if f.searchErr != nil {
		return storepkg.SearchResults{}, f.searchErr
	}
	return f.results, nil
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

func (f *fakeStore) Index(context.Context, msgpkg.Document) error { return nil }
func (f *fakeStore) Ping(context.Context) error                   { return nil }

func newTestGateway(t *testing.T, fq *fakeQueue, fs *fakeStore) (*Gateway, *routerpkg.Router) {
	t.Helper()
	log := logging.Nop()
	ledger := NewLedger(log, LedgerObserver{})
	rt := routerpkg.New(fq, fs, log, routerpkg.Options{
		IndexQueueName:      "ready_to_index",
		IndexedExchangeName: "document_indexed",
		Hooks:               ResponseHook(ledger, log),
	})
	return New(rt, ledger, log), rt
}

func dialTestServer(t *testing.T, handler http.Handler) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return srv, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) msgpkg.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := msgpkg.Decode(raw)
	require.NoError(t, err)
	return msg
}

func TestGatewaySearchRoundTrip(t *testing.T) {
	fs := &fakeStore{results: storepkg.SearchResults{
		Results: []msgpkg.DocumentResult{
			{Document: msgpkg.Document{ID: "doc-1", Text: "tax forms", Tags: "taxes"}, Score: 2.5},
		},
		TookMs: 7,
	}}
	gw, _ := newTestGateway(t, &fakeQueue{}, fs)
	srv, conn := dialTestServer(t, gw.Handler())
	defer srv.Close()
	defer conn.Close()

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"search_for_keeper","searchString":"tax"}`))
	require.NoError(t, err)

	reply := readMessage(t, conn)
	results, ok := reply.(*msgpkg.SearchResults)
	require.True(t, ok)
	assert.NotEmpty(t, results.Identity())
	assert.Equal(t, msgpkg.ResultsMany, results.ResultsType)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "doc-1", results.Results[0].ID)
	assert.Equal(t, int64(7), results.TookMs)
}

func TestGatewayIndexingAckThenCompletion(t *testing.T) {
	fq := &fakeQueue{}
	gw, rt := newTestGateway(t, fq, &fakeStore{})
	srv, conn := dialTestServer(t, gw.Handler())
	defer srv.Close()
	defer conn.Close()

	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"kind":"queue_for_indexing","document":{"id":"doc-2","text":"receipt","tags":""}}`))
	require.NoError(t, err)

	ack := readMessage(t, conn)
	require.Equal(t, msgpkg.KindQueueForIndexing, ack.MessageKind())
	identity := ack.Identity()
	require.NotEmpty(t, identity)
	assert.Equal(t, 1, rt.PendingCount())

	rt.HandleExchangeMessage("document_indexed",
		msgpkg.NewIndexingFinished(identity, msgpkg.Document{ID: "doc-2", Text: "receipt"}))

	completion := readMessage(t, conn)
	assert.Equal(t, msgpkg.KindIndexingFinished, completion.MessageKind())
	assert.Equal(t, identity, completion.Identity())
	assert.Equal(t, 0, rt.PendingCount())
}

func TestGatewaySearchFailureReportedAsError(t *testing.T) {
	fs := &fakeStore{searchErr: storepkg.ErrStoreUnavailable}
	gw, rt := newTestGateway(t, &fakeQueue{}, fs)
	srv, conn := dialTestServer(t, gw.Handler())
	defer srv.Close()
	defer conn.Close()

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"search_for_keeper","searchString":"tax"}`))
	require.NoError(t, err)

	reply := readMessage(t, conn)
	errMsg, ok := reply.(*msgpkg.ErrorMessage)
	require.True(t, ok)
	assert.Contains(t, errMsg.Reason, "store unreachable")
	assert.NotEmpty(t, errMsg.Identity())
	assert.Equal(t, 0, rt.PendingCount())
}

func TestGatewayUndecodableMessageGetsError(t *testing.T) {
	gw, _ := newTestGateway(t, &fakeQueue{}, &fakeStore{})
	srv, conn := dialTestServer(t, gw.Handler())
	defer srv.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))

	reply := readMessage(t, conn)
	errMsg, ok := reply.(*msgpkg.ErrorMessage)
	require.True(t, ok)
	assert.NotEmpty(t, errMsg.Reason)
}

func TestGatewayUnsupportedKindGetsError(t *testing.T) {
	gw, rt := newTestGateway(t, &fakeQueue{}, &fakeStore{})
	srv, conn := dialTestServer(t, gw.Handler())
	defer srv.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"search_results","results":[]}`)))

	reply := readMessage(t, conn)
	errMsg, ok := reply.(*msgpkg.ErrorMessage)
	require.True(t, ok)
	assert.Contains(t, errMsg.Reason, "unsupported")
	assert.Equal(t, 0, rt.PendingCount())
}

func TestGatewayHealthz(t *testing.T) {
	gw, _ := newTestGateway(t, &fakeQueue{}, &fakeStore{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
