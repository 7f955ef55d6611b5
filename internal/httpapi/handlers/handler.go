package handlers

import (
	"context"

	"github.com/suPer8Hu/splitchat/internal/chat"
	"github.com/suPer8Hu/splitchat/internal/config"
	"github.com/suPer8Hu/splitchat/internal/split"
	"gorm.io/gorm"
)

// CancelPublisher forwards a cancel request to the other API instances.
type CancelPublisher interface {
	PublishCancel(ctx context.Context, conversationID, messageID string) error
}

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Hub     *split.Hub
	Results *split.ResultRepo
	Cancels CancelPublisher // optional
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, hub *split.Hub, cancels CancelPublisher) *Handler {
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chatSvc,
		Hub:     hub,
		Results: split.NewResultRepo(db),
		Cancels: cancels,
	}
}
