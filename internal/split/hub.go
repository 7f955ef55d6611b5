package split

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/suPer8Hu/splitchat/internal/ai"
	"github.com/suPer8Hu/splitchat/internal/controller"
)

// Seed is what a view needs from the canonical session.
type Seed struct {
	ConversationID string
	OwnerID        uint64
	Context        ConversationContext
	DefaultModel   string
	Messages       []Message
}

type SessionStore interface {
	LoadSeed(ctx context.Context, userID uint64, sessionID string) (Seed, error)
}

type HubConfig struct {
	// Models lists the selectable model ids, in preference order.
	Models      []string
	ErrorPrefix string
	Sink        ResultSink
}

type view struct {
	orch   *Orchestrator
	owner  uint64
	cancel context.CancelFunc
	subs   *broadcaster
}

// Hub keeps the open split views, keyed by canonical session id.
type Hub struct {
	ctx       context.Context
	stop      context.CancelFunc
	store     SessionStore
	completer ai.Completer
	pool      *controller.Pool
	cfg       HubConfig

	mu    sync.RWMutex
	views map[string]*view
}

func NewHub(store SessionStore, completer ai.Completer, pool *controller.Pool, cfg HubConfig) *Hub {
	if pool == nil {
		pool = controller.NewPool()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Hub{
		ctx:       ctx,
		stop:      stop,
		store:     store,
		completer: completer,
		pool:      pool,
		cfg:       cfg,
		views:     make(map[string]*view),
	}
}

// PickRightModel returns the first available model different from left,
// else the first available model, else left.
func PickRightModel(available []string, left string) string {
	for _, m := range available {
		if m != left {
			return m
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return left
}

func (h *Hub) Models() []string {
	return append([]string(nil), h.cfg.Models...)
}

// Open returns the caller's view for sessionID, creating and seeding it on
// first use. Non-empty model arguments override the current selection.
// overrideModels applies the non-empty model choices to an open view.
func overrideModels(o *Orchestrator, leftModel, rightModel string) error {
	for side, model := range map[Side]string{Left: leftModel, Right: rightModel} {
		if model == "" {
			continue
		}
		if err := o.SetModel(side, model); err != nil {
			log.Printf("[Split] set model failed conv=%s side=%s model=%s err=%v", o.ConversationID(), side, model, err)
			return err
		}
	}
	return nil
}

func (h *Hub) Open(ctx context.Context, userID uint64, sessionID, leftModel, rightModel string) (*Orchestrator, error) {
	leftModel = strings.TrimSpace(leftModel)
	rightModel = strings.TrimSpace(rightModel)

	if o, err := h.Get(userID, sessionID); err == nil {
		if err := overrideModels(o, leftModel, rightModel); err != nil {
			return nil, err
		}
		return o, nil
	}

	seed, err := h.store.LoadSeed(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if leftModel == "" {
		leftModel = seed.DefaultModel
	}
	if rightModel == "" {
		rightModel = PickRightModel(h.cfg.Models, leftModel)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.views[sessionID]; ok {
		if v.owner != userID {
			return nil, ErrViewNotFound
		}
		return v.orch, nil
	}

	vctx, cancel := context.WithCancel(h.ctx)
	subs := newBroadcaster()
	o := NewOrchestrator(vctx, Config{
		ConversationID: sessionID,
		Context:        seed.Context,
		LeftModel:      leftModel,
		RightModel:     rightModel,
		Completer:      h.completer,
		Pool:           h.pool,
		Sink:           h.cfg.Sink,
		OnChange:       subs.publish,
		ErrorPrefix:    h.cfg.ErrorPrefix,
	})
	o.Reseed(seed.Messages)

	h.views[sessionID] = &view{orch: o, owner: userID, cancel: cancel, subs: subs}
	log.Printf("[Split] open view conv=%s user=%d left=%s right=%s", sessionID, userID, leftModel, rightModel)
	return o, nil
}

func (h *Hub) lookup(userID uint64, sessionID string) (*view, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.views[sessionID]
	if !ok || v.owner != userID {
		return nil, ErrViewNotFound
	}
	return v, nil
}

func (h *Hub) Get(userID uint64, sessionID string) (*Orchestrator, error) {
	v, err := h.lookup(userID, sessionID)
	if err != nil {
		return nil, err
	}
	return v.orch, nil
}

// Subscribe streams display changes of a view until the returned func is
// called or the view is closed.
func (h *Hub) Subscribe(userID uint64, sessionID string) (<-chan Change, func(), error) {
	v, err := h.lookup(userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := v.subs.subscribe()
	return ch, unsubscribe, nil
}

// Close aborts the view's in-flight requests and forgets it.
func (h *Hub) Close(userID uint64, sessionID string) error {
	h.mu.Lock()
	v, ok := h.views[sessionID]
	if !ok || v.owner != userID {
		h.mu.Unlock()
		return ErrViewNotFound
	}
	delete(h.views, sessionID)
	h.mu.Unlock()

	h.closeView(v)
	return nil
}

func (h *Hub) closeView(v *view) {
	n := v.orch.CancelAll()
	v.cancel()
	v.subs.close()
	log.Printf("[Split] close view conv=%s cancelled=%d", v.orch.ConversationID(), n)
}

// Cancel aborts the request filling messageID in sessionID's view. It is a
// no-op where nothing is registered, so remote cancel requests are safe.
func (h *Hub) Cancel(sessionID, messageID string) bool {
	return h.pool.Cancel(sessionID, messageID)
}

// SessionChanged reseeds an open view from the canonical session.
func (h *Hub) SessionChanged(ctx context.Context, userID uint64, sessionID string) {
	v, err := h.lookup(userID, sessionID)
	if err != nil {
		return
	}
	seed, err := h.store.LoadSeed(ctx, userID, sessionID)
	if err != nil {
		log.Printf("[Split] reseed failed conv=%s err=%v", sessionID, err)
		return
	}
	v.orch.Reseed(seed.Messages)
}

// Shutdown closes every view.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	views := make([]*view, 0, len(h.views))
	for id, v := range h.views {
		views = append(views, v)
		delete(h.views, id)
	}
	h.mu.Unlock()

	for _, v := range views {
		h.closeView(v)
	}
	h.stop()
}
