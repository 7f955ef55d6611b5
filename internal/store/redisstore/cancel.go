package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Canceler aborts the in-flight request for a key; absent keys are a no-op.
type Canceler interface {
	Cancel(conversationID, messageID string) bool
}

type cancelMsg struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Origin         string `json:"origin"`
}

// CancelBus fans cancel requests out to every API instance over redis pub/sub.
type CancelBus struct {
	store   *Store
	channel string
	origin  string
}

func (s *Store) CancelBus(channel, origin string) *CancelBus {
	return &CancelBus{store: s, channel: channel, origin: origin}
}

func (b *CancelBus) PublishCancel(ctx context.Context, conversationID, messageID string) error {
	body, err := json.Marshal(cancelMsg{ConversationID: conversationID, MessageID: messageID, Origin: b.origin})
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.store.rdb.Publish(cctx, b.channel, body).Err()
}

// Run delivers remote cancels to c until ctx is done.
func (b *CancelBus) Run(ctx context.Context, c Canceler) error {
	sub := b.store.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("[CancelBus] subscribed channel=%s origin=%s", b.channel, b.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("cancel subscription closed")
			}
			b.handle(m, c)
		}
	}
}

func (b *CancelBus) handle(m *redis.Message, c Canceler) bool {
	var cm cancelMsg
	if err := json.Unmarshal([]byte(m.Payload), &cm); err != nil || cm.ConversationID == "" || cm.MessageID == "" {
		log.Printf("[CancelBus] bad message channel=%s err=%v", m.Channel, err)
		return false
	}
	// the publishing instance already cancelled locally
	if cm.Origin == b.origin {
		return false
	}
	hit := c.Cancel(cm.ConversationID, cm.MessageID)
	if hit {
		log.Printf("[CancelBus] cancelled conv=%s msg=%s origin=%s", cm.ConversationID, cm.MessageID, cm.Origin)
	}
	return hit
}
