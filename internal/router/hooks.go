package router

import msgpkg "github.com/mattmiller85/keepers-server/internal/message"

// Hooks defines callbacks for routing lifecycle events. All hooks are
// optional - nil hooks are simply not called.
type Hooks struct {
	// OnMessageRouted is called after an indexing request is accepted onto
	// the work queue.
	OnMessageRouted func(msg msgpkg.Message)

	// OnMessageFailed is called when the enqueue for an indexing request
	// fails.
	OnMessageFailed func(msg msgpkg.Message)

	// OnResponse is called exactly once per identity when a broadcast event
	// (or a pending-record timeout) resolves an asynchronous request. The
	// message carries the identity assigned at dispatch time.
	OnResponse func(msg msgpkg.Message)
}

// Merge combines two Hooks, creating a new Hooks that calls both. The hooks
// from 'other' are called after the hooks from 'h'.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnMessageRouted: chainHooks(h.OnMessageRouted, other.OnMessageRouted),
		OnMessageFailed: chainHooks(h.OnMessageFailed, other.OnMessageFailed),
		OnResponse:      chainHooks(h.OnResponse, other.OnResponse),
	}
}

func chainHooks(a, b func(msgpkg.Message)) func(msgpkg.Message) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(msg msgpkg.Message) {
		a(msg)
		b(msg)
	}
}

func (h Hooks) messageRouted(msg msgpkg.Message) {
	if h.OnMessageRouted != nil {
		h.OnMessageRouted(msg)
	}
}

func (h Hooks) messageFailed(msg msgpkg.Message) {
	if h.OnMessageFailed != nil {
		h.OnMessageFailed(msg)
	}
}

func (h Hooks) response(msg msgpkg.Message) {
	if h.OnResponse != nil {
		h.OnResponse(msg)
	}
}
