package split

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/splitchat/internal/ai"
	"github.com/suPer8Hu/splitchat/internal/controller"
)

const DefaultErrorPrefix = "Error: "

// ConversationContext is shared read-only by both sides: the context prompts
// sent ahead of the history and the base model config.
type ConversationContext struct {
	Prompts []ai.Message
	Config  ai.ModelConfig
}

type Config struct {
	ConversationID string
	Context        ConversationContext
	LeftModel      string
	RightModel     string

	Completer ai.Completer
	Pool      *controller.Pool

	// optional
	Sink        ResultSink
	OnChange    func(Side)
	ErrorPrefix string
}

// Turn identifies the messages created by one submission.
type Turn struct {
	UserMessageID  string `json:"user_message_id"`
	LeftMessageID  string `json:"left_message_id"`
	RightMessageID string `json:"right_message_id"`
}

func (t Turn) MessageID(side Side) string {
	if side == Left {
		return t.LeftMessageID
	}
	return t.RightMessageID
}

// Orchestrator drives one split view.
type Orchestrator struct {
	ctx            context.Context
	conversationID string
	convCtx        ConversationContext
	branches       *Branches
	completer      ai.Completer
	pool           *controller.Pool
	sink           ResultSink
	onChange       func(Side)
	errorPrefix    string

	submitMu sync.Mutex
	inputMu  sync.Mutex
	input    string
}

// NewOrchestrator builds a view. Requests it starts live until ctx is done.
func NewOrchestrator(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.Pool == nil {
		cfg.Pool = controller.NewPool()
	}
	if cfg.ErrorPrefix == "" {
		cfg.ErrorPrefix = DefaultErrorPrefix
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(Side) {}
	}
	return &Orchestrator{
		ctx:            ctx,
		conversationID: cfg.ConversationID,
		convCtx:        cfg.Context,
		branches:       NewBranches(cfg.LeftModel, cfg.RightModel),
		completer:      cfg.Completer,
		pool:           cfg.Pool,
		sink:           cfg.Sink,
		onChange:       cfg.OnChange,
		errorPrefix:    cfg.ErrorPrefix,
	}
}

func (o *Orchestrator) ConversationID() string { return o.conversationID }

func (o *Orchestrator) Branch(side Side) (*Branch, error) {
	return o.branches.Get(side)
}

func (o *Orchestrator) Model(side Side) string {
	b, err := o.branches.Get(side)
	if err != nil {
		return ""
	}
	return b.Model()
}

// SetModel changes the model used by later turns on one side.
func (o *Orchestrator) SetModel(side Side, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return ai.ErrNoModel
	}
	b, err := o.branches.Get(side)
	if err != nil {
		return err
	}
	b.SetModel(model)
	o.onChange(side)
	return nil
}

func (o *Orchestrator) SetInput(text string) {
	o.inputMu.Lock()
	defer o.inputMu.Unlock()
	o.input = text
}

func (o *Orchestrator) Input() string {
	o.inputMu.Lock()
	defer o.inputMu.Unlock()
	return o.input
}

// SubmitInput submits the shared input field.
func (o *Orchestrator) SubmitInput() (Turn, error) {
	return o.SubmitTurn(o.Input())
}

// SubmitTurn appends text as a user turn to both sides and starts one
// streaming request per side. It never waits for either request.
func (o *Orchestrator) SubmitTurn(text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		log.Printf("[Split] ignore empty turn conv=%s", o.conversationID)
		return Turn{}, ErrEmptyInput
	}

	// two submissions must not interleave their appends
	o.submitMu.Lock()
	now := time.Now()
	user := newUserMessage(text, now)
	turn := Turn{UserMessageID: user.ID}

	type pending struct {
		side        Side
		placeholder Message
		history     []ai.Message
	}
	var jobs [2]pending
	for i, side := range Sides {
		b, _ := o.branches.Get(side)
		b.Append(user)
		history := b.History()
		ph := newPlaceholder(b.Model(), now)
		b.Append(ph)
		jobs[i] = pending{side: side, placeholder: ph, history: history}
	}
	turn.LeftMessageID = jobs[0].placeholder.ID
	turn.RightMessageID = jobs[1].placeholder.ID
	o.submitMu.Unlock()

	for _, j := range jobs {
		o.onChange(j.side)
	}

	for _, j := range jobs {
		if err := o.dispatch(j.side, j.placeholder, j.history); err != nil {
			log.Printf("[Split] dispatch failed conv=%s side=%s msg=%s err=%v",
				o.conversationID, j.side, j.placeholder.ID, err)
		}
	}

	o.SetInput("")
	return turn, nil
}

func (o *Orchestrator) buildRequest(model string, history []ai.Message) (ai.Request, error) {
	if strings.TrimSpace(model) == "" {
		return ai.Request{}, ai.ErrNoModel
	}

	msgs := make([]ai.Message, 0, len(o.convCtx.Prompts)+len(history))
	for i, p := range o.convCtx.Prompts {
		if strings.TrimSpace(p.Role) == "" {
			return ai.Request{}, fmt.Errorf("%w: prompt %d has no role", ErrBadContext, i)
		}
		msgs = append(msgs, p)
	}
	msgs = append(msgs, history...)

	cfg := o.convCtx.Config
	cfg.Model = model
	cfg.Stream = true
	return ai.Request{Messages: msgs, Config: cfg}, nil
}

func (o *Orchestrator) dispatch(side Side, placeholder Message, history []ai.Message) error {
	req, err := o.buildRequest(placeholder.Model, history)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(o.ctx)
	o.pool.Register(o.conversationID, placeholder.ID, controller.FromCancel(cancel))
	o.completer.Chat(ctx, req, o.callbacks(side, placeholder, cancel))
	return nil
}

func (o *Orchestrator) callbacks(side Side, placeholder Message, cancel context.CancelFunc) ai.Callbacks {
	conv, msgID := o.conversationID, placeholder.ID
	started := time.Now()

	live := func(what string) bool {
		if o.pool.Has(conv, msgID) {
			return true
		}
		log.Printf("[Split] drop %s conv=%s side=%s msg=%s: not registered", what, conv, side, msgID)
		return false
	}

	report := func(status ResultStatus, content string, err error) {
		if o.sink == nil {
			return
		}
		ev := ResultEvent{
			ConversationID: conv,
			MessageID:      msgID,
			Side:           side,
			Model:          placeholder.Model,
			Status:         status,
			Content:        content,
			Latency:        time.Since(started),
			FinishedAt:     time.Now(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		if rerr := o.sink.Report(context.Background(), ev); rerr != nil {
			log.Printf("[Split] report result failed conv=%s msg=%s err=%v", conv, msgID, rerr)
		}
	}

	return ai.Callbacks{
		OnUpdate: func(text string) {
			if !live("update") {
				return
			}
			o.apply(side, msgID, text)
		},
		OnFinish: func(text string) {
			defer cancel()
			if !live("finish") {
				return
			}
			o.apply(side, msgID, text)
			o.pool.Release(conv, msgID)
			report(ResultFinished, text, nil)
		},
		OnError: func(err error) {
			defer cancel()
			if !live("error") {
				return
			}
			log.Printf("[Split] stream error conv=%s side=%s msg=%s err=%v", conv, side, msgID, err)
			content := o.errorPrefix + err.Error()
			o.apply(side, msgID, content)
			o.pool.Release(conv, msgID)
			report(ResultFailed, content, err)
		},
		OnController: func(h controller.Handle) {
			if !o.pool.ReplaceIfPresent(conv, msgID, h) {
				// cancelled before the real call started
				h.Abort()
			}
		},
	}
}

func (o *Orchestrator) apply(side Side, msgID, text string) {
	b, err := o.branches.Get(side)
	if err != nil {
		return
	}
	if b.ApplyUpdate(msgID, text) {
		o.onChange(side)
	}
}

// Cancel aborts the request filling messageID. It reports false if no request
// is in flight for it.
func (o *Orchestrator) Cancel(messageID string) bool {
	return o.pool.Cancel(o.conversationID, messageID)
}

// CancelAll aborts every in-flight request of this view.
func (o *Orchestrator) CancelAll() int {
	return o.pool.CancelConversation(o.conversationID)
}

// InFlight reports whether messageID still has a registered request.
func (o *Orchestrator) InFlight(messageID string) bool {
	return o.pool.Has(o.conversationID, messageID)
}

// Reseed replaces both sides with the user messages of msgs.
func (o *Orchestrator) Reseed(msgs []Message) {
	o.submitMu.Lock()
	o.branches.Reseed(msgs)
	o.submitMu.Unlock()
	for _, side := range Sides {
		o.onChange(side)
	}
}

// View returns the display projection of one side.
func (o *Orchestrator) View(side Side) ([]DisplayMessage, error) {
	b, err := o.branches.Get(side)
	if err != nil {
		return nil, err
	}
	return b.Project(), nil
}
