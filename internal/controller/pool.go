package controller

import (
	"context"
	"sync"
)

// Handle aborts one in-flight request.
type Handle interface {
	Abort()
}

// HandleFunc adapts a plain func (usually a context.CancelFunc) to Handle.
type HandleFunc func()

func (f HandleFunc) Abort() {
	if f != nil {
		f()
	}
}

// FromCancel wraps a context cancel func.
func FromCancel(cancel context.CancelFunc) Handle {
	return HandleFunc(cancel)
}

// Key identifies the request producing one assistant message.
type Key struct {
	ConversationID string
	MessageID      string
}

// Pool stores at most one live handle per key.
type Pool struct {
	mu      sync.Mutex
	handles map[Key]Handle
}

func NewPool() *Pool {
	return &Pool{handles: make(map[Key]Handle)}
}

// Register stores h under (conversationID, messageID). Last write wins; the
// previous handle, if any, is dropped without being aborted.
func (p *Pool) Register(conversationID, messageID string, h Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[Key{ConversationID: conversationID, MessageID: messageID}] = h
}

// Replace swaps in a newer handle for the same key. Remove and add happen
// under one lock, so no reader ever sees the older handle after this returns.
func (p *Pool) Replace(conversationID, messageID string, h Handle) {
	p.Register(conversationID, messageID, h)
}

// ReplaceIfPresent swaps in h only while the key is still registered. It
// reports false once the key was released or cancelled; the caller then owns h.
func (p *Pool) ReplaceIfPresent(conversationID, messageID string, h Handle) bool {
	k := Key{ConversationID: conversationID, MessageID: messageID}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handles[k]; !ok || h == nil {
		return false
	}
	p.handles[k] = h
	return true
}

// Release removes the entry. No-op if absent.
func (p *Pool) Release(conversationID, messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, Key{ConversationID: conversationID, MessageID: messageID})
}

// Cancel aborts the stored handle and releases it. Returns false if nothing
// was registered under the key.
func (p *Pool) Cancel(conversationID, messageID string) bool {
	k := Key{ConversationID: conversationID, MessageID: messageID}

	p.mu.Lock()
	h, ok := p.handles[k]
	if ok {
		delete(p.handles, k)
	}
	p.mu.Unlock()

	// abort outside the lock: handles may call back into the pool
	if ok {
		h.Abort()
	}
	return ok
}

// CancelConversation aborts every handle registered for conversationID and
// returns how many were aborted.
func (p *Pool) CancelConversation(conversationID string) int {
	p.mu.Lock()
	var hs []Handle
	for k, h := range p.handles {
		if k.ConversationID == conversationID {
			hs = append(hs, h)
			delete(p.handles, k)
		}
	}
	p.mu.Unlock()

	for _, h := range hs {
		h.Abort()
	}
	return len(hs)
}

func (p *Pool) Has(conversationID, messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handles[Key{ConversationID: conversationID, MessageID: messageID}]
	return ok
}

// Current returns the handle registered under the key.
func (p *Pool) Current(conversationID, messageID string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[Key{ConversationID: conversationID, MessageID: messageID}]
	return h, ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
