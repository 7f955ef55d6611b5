package split

import (
	"log"
	"sync"

	"github.com/suPer8Hu/splitchat/internal/ai"
)

// Branch is one side's message list. Messages are owned by the branch; the
// same user turn is stored as a separate copy on each side.
type Branch struct {
	side Side

	mu       sync.RWMutex
	model    string
	messages []*Message
}

func newBranch(side Side, model string) *Branch {
	return &Branch{side: side, model: model}
}

func (b *Branch) Side() Side { return b.side }

func (b *Branch) Model() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

func (b *Branch) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// Append stores a copy of msg.
func (b *Branch) Append(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg.clone())
}

// ApplyUpdate replaces the content of message id with text. It reports false
// when the branch no longer holds that message (it was reseeded).
func (b *Branch) ApplyUpdate(id, text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.messages) - 1; i >= 0; i-- {
		m := b.messages[i]
		if m.ID != id {
			continue
		}
		m.Content = text
		m.Parts = nil
		return true
	}
	log.Printf("[Split] drop update side=%s msg=%s: not in branch", b.side, id)
	return false
}

// Reset discards all state and seeds the branch with copies of msgs.
func (b *Branch) Reset(msgs []Message) {
	next := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		next = append(next, m.clone())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = next
}

func (b *Branch) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, *m.clone())
	}
	return out
}

func (b *Branch) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// History projects the branch to {role, content} pairs for an outbound request.
func (b *Branch) History() []ai.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ai.Message, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, ai.Message{Role: m.Role, Content: m.Text()})
	}
	return out
}

// Project returns the display rows for this side.
func (b *Branch) Project() []DisplayMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DisplayMessage, 0, len(b.messages))
	for _, m := range b.messages {
		d := DisplayMessage{ID: m.ID, Role: m.Role, Text: m.Text()}
		if m.Role != ai.RoleUser {
			d.ModelLabel = m.Model
			if d.ModelLabel == "" {
				d.ModelLabel = b.model
			}
		}
		out = append(out, d)
	}
	return out
}

// Branches holds the left and right branch of one view.
type Branches struct {
	left  *Branch
	right *Branch
}

func NewBranches(leftModel, rightModel string) *Branches {
	return &Branches{
		left:  newBranch(Left, leftModel),
		right: newBranch(Right, rightModel),
	}
}

func (bs *Branches) Get(side Side) (*Branch, error) {
	switch side {
	case Left:
		return bs.left, nil
	case Right:
		return bs.right, nil
	}
	return nil, ErrUnknownSide
}

// Reseed replaces both branches with the user messages of msgs. Anything
// streamed into the old branches is discarded.
func (bs *Branches) Reseed(msgs []Message) {
	users := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == ai.RoleUser {
			users = append(users, m)
		}
	}
	bs.left.Reset(users)
	bs.right.Reset(users)
}
