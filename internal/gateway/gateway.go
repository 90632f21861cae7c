package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	routerpkg "github.com/mattmiller85/keepers-server/internal/router"
)

// Gateway serves the websocket endpoint clients connect to. Each inbound
// message is handed to the router; the immediate result is written back on
// the same connection, and indexing-path identities are remembered in the
// ledger so completion events find their way home.
type Gateway struct {
	router   *routerpkg.Router
	ledger   *Ledger
	log      logging.Logger
	upgrader websocket.Upgrader
}

// New creates a gateway over the given router and ledger.
func New(router *routerpkg.Router, ledger *Ledger, log logging.Logger) *Gateway {
	return &Gateway{
		router: router,
		ledger: ledger,
		log:    log.With(logging.Fields{"component": "gateway"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the HTTP surface: the websocket endpoint plus health and
// metrics routes.
func (g *Gateway) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/ws", g.handleWS)
	return mux
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade failed", err, logging.Fields{"remote": r.RemoteAddr})
		return
	}
	go g.readLoop(ws)
}

func (g *Gateway) readLoop(ws *websocket.Conn) {
	conn := &wsConn{ws: ws}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		g.ledger.Forget(conn)
		_ = ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("websocket read ended", logging.Fields{"error": err.Error()})
			}
			return
		}
		g.handleInbound(ctx, conn, raw)
	}
}

func (g *Gateway) handleInbound(ctx context.Context, conn *wsConn, raw []byte) {
	msg, err := msgpkg.Decode(raw)
	if err != nil {
		g.reply(conn, msgpkg.NewErrorMessage("", err.Error()))
		return
	}

	result, err := g.router.Route(ctx, msg)
	if err != nil {
		g.reply(conn, msgpkg.NewErrorMessage(msg.Identity(), err.Error()))
		return
	}

	// Indexing completes out of band; remember where to send the eventual
	// event before acknowledging.
	if result.Success && msg.MessageKind() == msgpkg.KindQueueForIndexing {
		g.ledger.Remember(result.Message.Identity(), conn)
	}
	g.reply(conn, responseFor(result))
}

// responseFor picks the payload the caller sees. Failed results whose message
// does not itself carry failure fields become error messages, so every
// synchronous failure is structurally visible.
func responseFor(result routerpkg.RouteResult) msgpkg.Message {
	if result.Success || result.Err == "" {
		return result.Message
	}
	if result.Message.MessageKind() == msgpkg.KindUpdateDeleteResponse {
		return result.Message
	}
	return msgpkg.NewErrorMessage(result.Message.Identity(), result.Err)
}

func (g *Gateway) reply(conn *wsConn, msg msgpkg.Message) {
	payload, err := msgpkg.Encode(msg)
	if err != nil {
		g.log.Error("encoding reply failed", err, logging.Fields{"kind": string(msg.MessageKind())})
		return
	}
	if err := conn.Send(payload); err != nil {
		g.log.Error("writing reply failed", err, nil)
	}
}

// wsConn wraps a websocket connection with a write mutex; the read loop and
// the ledger delivery path write concurrently.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}
