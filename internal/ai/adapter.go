package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/splitchat/internal/controller"
)

// Request is one outbound completion request.
type Request struct {
	Messages []Message
	Config   ModelConfig
}

// Callbacks receive the results of Completer.Chat.
//
// OnUpdate gets the full text accumulated so far, never a delta. Exactly one
// of OnFinish / OnError ends the request. OnController may fire any number of
// times, each time with a handle that supersedes the previous one.
type Callbacks struct {
	OnUpdate     func(text string)
	OnFinish     func(text string)
	OnError      func(err error)
	OnController func(h controller.Handle)
}

func (cb Callbacks) withDefaults() Callbacks {
	if cb.OnUpdate == nil {
		cb.OnUpdate = func(string) {}
	}
	if cb.OnFinish == nil {
		cb.OnFinish = func(string) {}
	}
	if cb.OnError == nil {
		cb.OnError = func(error) {}
	}
	if cb.OnController == nil {
		cb.OnController = func(controller.Handle) {}
	}
	return cb
}

// Completer is the fire-and-forget streaming client the split view drives.
type Completer interface {
	Chat(ctx context.Context, req Request, cb Callbacks)
}

// StreamAdapter turns the channel-based providers into the callback contract.
type StreamAdapter struct {
	registry *Registry
}

func NewStreamAdapter(registry *Registry) *StreamAdapter {
	return &StreamAdapter{registry: registry}
}

// Chat returns immediately. All results arrive through cb on a goroutine
// owned by this request.
func (a *StreamAdapter) Chat(ctx context.Context, req Request, cb Callbacks) {
	go a.run(ctx, req, cb.withDefaults())
}

func (a *StreamAdapter) run(ctx context.Context, req Request, cb Callbacks) {
	if strings.TrimSpace(req.Config.Model) == "" {
		cb.OnError(ErrNoModel)
		return
	}

	provider, err := a.registry.Get(ctx, req.Config)
	if err != nil {
		cb.OnError(err)
		return
	}

	// the handle for the real network call replaces whatever the caller registered
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cb.OnController(controller.FromCancel(cancel))

	sp, ok := provider.(StreamProvider)
	if !req.Config.Stream || !ok {
		text, err := provider.Chat(callCtx, req.Messages)
		if err != nil {
			cb.OnError(err)
			return
		}
		cb.OnFinish(text)
		return
	}

	chunks, errs := sp.StreamChat(callCtx, req.Messages)

	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
		cb.OnUpdate(b.String())
	}

	// errs is closed together with chunks, so this never blocks
	if err := <-errs; err != nil {
		cb.OnError(err)
		return
	}
	if err := callCtx.Err(); err != nil {
		cb.OnError(err)
		return
	}
	cb.OnFinish(b.String())
}

// IsCanceled reports whether err came from an aborted request.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
