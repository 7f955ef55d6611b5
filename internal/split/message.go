// Package split runs one prompt against two models side by side.
//
// A view owns two branches (left and right). Each turn appends the same user
// message to both, adds an empty assistant placeholder per branch and starts
// two independent streaming requests. Stream callbacks only ever touch the
// branch that started them.
package split

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/suPer8Hu/splitchat/internal/ai"
)

type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

var Sides = [2]Side{Left, Right}

var (
	ErrEmptyInput   = errors.New("split: empty input")
	ErrUnknownSide  = errors.New("split: unknown side")
	ErrViewNotFound = errors.New("split: view not found")
	ErrBadContext   = errors.New("split: malformed conversation context")
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Left:
		return Left, nil
	case Right:
		return Right, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
}

// ContentPart is one piece of structured (multimodal) content.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Message struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Parts     []ContentPart `json:"parts,omitempty"`
	Model     string        `json:"model,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Text reduces content to plain text. Structured content yields its first
// text part; other parts are dropped.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	for _, p := range m.Parts {
		if p.Type == "text" {
			return p.Text
		}
	}
	return ""
}

func (m Message) clone() *Message {
	c := m
	if m.Parts != nil {
		c.Parts = append([]ContentPart(nil), m.Parts...)
	}
	return &c
}

// DisplayMessage is what a renderer needs for one row of a side.
type DisplayMessage struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Text       string `json:"text"`
	ModelLabel string `json:"model_label,omitempty"`
}

func newMessageID() string {
	return ulid.Make().String()
}

func newUserMessage(text string, now time.Time) Message {
	return Message{ID: newMessageID(), Role: ai.RoleUser, Content: text, CreatedAt: now}
}

func newPlaceholder(model string, now time.Time) Message {
	return Message{ID: newMessageID(), Role: ai.RoleAssistant, Model: model, CreatedAt: now}
}
