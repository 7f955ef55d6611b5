package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/suPer8Hu/splitchat/internal/ai"
	"github.com/suPer8Hu/splitchat/internal/common"
	"github.com/suPer8Hu/splitchat/internal/split"
	"gorm.io/gorm"
)

// MessagesChangedFunc is called after a message lands in a session.
type MessagesChangedFunc func(userID uint64, sessionID string)

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	contextWindowSize int
	modelDefaults     ai.ModelConfig
	onChanged         MessagesChangedFunc
}

func NewService(repo *Repo, registry *ai.Registry, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{repo: repo, registry: registry, contextWindowSize: contextWindowSize}
}

const (
	defaultProvider = "ollama"
	defaultModel    = "llama3:latest"
)

// rows fetched per query while seeding a split view; every user turn is loaded
var seedPageSize = 200

// SetModelDefaults sets sampling options applied to every provider call.
func (s *Service) SetModelDefaults(cfg ai.ModelConfig) {
	s.modelDefaults = cfg
}

// OnMessagesChanged registers the hook fired after every inserted message.
func (s *Service) OnMessagesChanged(fn MessagesChangedFunc) {
	s.onChanged = fn
}

func NewSessionID() (string, error) {
	return common.NewULID()
}

func (s *Service) CreateSession(ctx context.Context, userID uint64, provider, model, systemPrompt string) (*Session, error) {
	if provider == "" {
		provider = defaultProvider
	}
	if model == "" {
		model = defaultModel
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID:    sid,
		UserID:       userID,
		Provider:     provider,
		Model:        model,
		SystemPrompt: strings.TrimSpace(systemPrompt),
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) modelConfig(sess *Session) ai.ModelConfig {
	cfg := s.modelDefaults
	cfg.Provider = sess.Provider
	cfg.Model = sess.Model
	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return cfg
}

func (s *Service) providerForSession(ctx context.Context, sess *Session) (ai.Provider, error) {
	return s.registry.Get(ctx, s.modelConfig(sess))
}

// contextPrompts are sent ahead of the history on every provider call.
func contextPrompts(sess *Session) []ai.Message {
	if sess.SystemPrompt == "" {
		return nil
	}
	return []ai.Message{{Role: ai.RoleSystem, Content: sess.SystemPrompt}}
}

// ownedSession returns the session if it belongs to userID; otherwise gorm.ErrRecordNotFound.
func (s *Service) ownedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) insert(ctx context.Context, m *Message) error {
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return err
	}
	if s.onChanged != nil {
		s.onChanged(m.UserID, m.SessionID)
	}
	return nil
}

// providerMessages builds provider context from recent DB history (ASC).
func (s *Service) providerMessages(ctx context.Context, sess *Session, userID uint64) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, userID, sess.SessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}

	prompts := contextPrompts(sess)
	out := make([]ai.Message, 0, len(prompts)+len(recentDesc))
	out = append(out, prompts...)
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID string, content string) (reply string, assistantMsgID uint64, err error) {
	// 1) verify session ownership
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	provider, err := s.providerForSession(ctx, session)
	if err != nil {
		return "", 0, err
	}

	// 2) store user message (strong consistency)
	userMsg := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      ai.RoleUser,
		Content:   content,
	}
	if err := s.insert(ctx, userMsg); err != nil {
		return "", 0, err
	}

	// 3) build provider messages from recent DB history
	providerMsgs, err := s.providerMessages(ctx, session, userID)
	if err != nil {
		return "", 0, err
	}

	// 4) call provider
	reply, err = provider.Chat(ctx, providerMsgs)
	if err != nil {
		return "", 0, err
	}

	// 5) store assistant message (strong consistency)
	assistantMsg := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      ai.RoleAssistant,
		Content:   reply,
	}
	if err := s.insert(ctx, assistantMsg); err != nil {
		return "", 0, err
	}

	return reply, assistantMsg.ID, nil
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

// SendMessageStream stores the user message immediately, streams assistant chunks,
// and finally stores the assistant message after streaming completes.
func (s *Service) SendMessageStream(ctx context.Context, userID uint64, sessionID string, content string) (chunks <-chan string, done <-chan struct{}, assistantMsgID <-chan uint64, errs <-chan error) {
	outChunks := make(chan string, 16)
	outDone := make(chan struct{})
	outMsgID := make(chan uint64, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outChunks)
		defer close(outDone)
		defer close(outMsgID)
		defer close(outErrs)

		// 1) session ownership check
		sess, err := s.ownedSession(ctx, userID, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		provider, err := s.providerForSession(ctx, sess)
		if err != nil {
			outErrs <- err
			return
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			outErrs <- errors.New("provider does not support streaming")
			return
		}

		// 2) insert user message
		userMsg := &Message{
			SessionID: sessionID,
			UserID:    userID,
			Role:      ai.RoleUser,
			Content:   content,
		}
		if err := s.insert(ctx, userMsg); err != nil {
			outErrs <- err
			return
		}

		// 3) load recent messages, build provider context (ASC)
		providerMsgs, err := s.providerMessages(ctx, sess, userID)
		if err != nil {
			outErrs <- err
			return
		}

		// 4) stream from provider
		pChunks, pErrs := sp.StreamChat(ctx, providerMsgs)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			outChunks <- c
		}

		// pErrs is closed with pChunks
		if err := <-pErrs; err != nil {
			outErrs <- err
			return
		}

		// 5) insert assistant message at the end
		assistantMsg := &Message{
			SessionID: sessionID,
			UserID:    userID,
			Role:      ai.RoleAssistant,
			Content:   b.String(),
		}
		if err := s.insert(ctx, assistantMsg); err != nil {
			outErrs <- err
			return
		}

		outMsgID <- assistantMsg.ID
	}()

	return outChunks, outDone, outMsgID, outErrs
}

func seedMessageID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) error {
	_, err := s.ownedSession(ctx, userID, sessionID)
	return err
}

// LoadSeed implements split.SessionStore: the split view is seeded with the
// session's user turns and shares its context prompts and model config.
func (s *Service) LoadSeed(ctx context.Context, userID uint64, sessionID string) (split.Seed, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return split.Seed{}, err
	}

	var msgs []split.Message
	var afterID uint64
	for {
		page, err := s.repo.ListMessagesByRoleAsc(ctx, userID, sessionID, ai.RoleUser, afterID, seedPageSize)
		if err != nil {
			return split.Seed{}, err
		}
		for _, m := range page {
			msgs = append(msgs, split.Message{
				ID:        seedMessageID(m.ID),
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			})
		}
		if len(page) < seedPageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	return split.Seed{
		ConversationID: sess.SessionID,
		OwnerID:        sess.UserID,
		DefaultModel:   sess.Model,
		Context: split.ConversationContext{
			Prompts: contextPrompts(sess),
			Config:  s.modelConfig(sess),
		},
		Messages: msgs,
	}, nil
}
