// Package gateway exposes the websocket endpoint and owns the connection
// response ledger: the map from a request identity to the connection that
// should eventually receive the correlated result.
package gateway

import (
	"sync"

	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	routerpkg "github.com/mattmiller85/keepers-server/internal/router"
)

// Conn is the slice of a client connection the ledger delivers to.
type Conn interface {
	Send(payload []byte) error
}

// LedgerObserver receives delivery outcomes. Both callbacks are optional.
type LedgerObserver struct {
	OnDelivered func()
	OnDropped   func()
}

// Ledger maps request identities to originating connections so correlated
// results reach the right caller exactly once. Safe for concurrent use.
type Ledger struct {
	log      logging.Logger
	observer LedgerObserver

	mu         sync.Mutex
	byIdentity map[string]Conn
}

// NewLedger creates an empty ledger.
func NewLedger(log logging.Logger, observer LedgerObserver) *Ledger {
	return &Ledger{
		log:        log.With(logging.Fields{"component": "ledger"}),
		observer:   observer,
		byIdentity: make(map[string]Conn),
	}
}

// Remember stores the connection that should receive the eventual result for
// this identity.
func (l *Ledger) Remember(identity string, conn Conn) {
	l.mu.Lock()
	l.byIdentity[identity] = conn
	l.mu.Unlock()
}

// DeliverAndForget looks up the connection for the identity, sends the
// payload if one is found, and removes the mapping unconditionally. An
// identity with no entry means the client disconnected or the result is
// spurious; either way it is discarded silently.
func (l *Ledger) DeliverAndForget(identity string, payload []byte) {
	l.mu.Lock()
	conn, ok := l.byIdentity[identity]
	delete(l.byIdentity, identity)
	l.mu.Unlock()

	if !ok || conn == nil {
		l.dropped()
		return
	}

	if err := conn.Send(payload); err != nil {
		l.log.Error("delivering correlated response failed", err, logging.Fields{"identity": identity})
		l.dropped()
		return
	}
	l.delivered()
}

// Forget removes every entry pointing at the given connection. Called when a
// client disconnects; anything still pending for it becomes undeliverable
// anyway.
func (l *Ledger) Forget(conn Conn) {
	l.mu.Lock()
	for identity, c := range l.byIdentity {
		if c == conn {
			delete(l.byIdentity, identity)
		}
	}
	l.mu.Unlock()
}

// Len reports how many identities still await delivery.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIdentity)
}

func (l *Ledger) delivered() {
	if l.observer.OnDelivered != nil {
		l.observer.OnDelivered()
	}
}

func (l *Ledger) dropped() {
	if l.observer.OnDropped != nil {
		l.observer.OnDropped()
	}
}

// ResponseHook returns the router hook that feeds correlated responses
// through the ledger. Install it on the router at construction time.
func ResponseHook(ledger *Ledger, log logging.Logger) routerpkg.Hooks {
	return routerpkg.Hooks{
		OnResponse: func(msg msgpkg.Message) {
			payload, err := msgpkg.Encode(msg)
			if err != nil {
				log.Error("encoding correlated response failed", err, logging.Fields{
					"identity": msg.Identity(),
					"kind":     string(msg.MessageKind()),
				})
				return
			}
			ledger.DeliverAndForget(msg.Identity(), payload)
		},
	}
}
