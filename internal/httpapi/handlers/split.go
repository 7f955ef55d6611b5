package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/splitchat/internal/ai"
	"github.com/suPer8Hu/splitchat/internal/split"
	"gorm.io/gorm"
)

type sideView struct {
	Side     split.Side             `json:"side"`
	Model    string                 `json:"model"`
	Messages []split.DisplayMessage `json:"messages"`
	InFlight []string               `json:"in_flight"`
}

func viewOf(o *split.Orchestrator, side split.Side) sideView {
	msgs, _ := o.View(side)
	sv := sideView{Side: side, Model: o.Model(side), Messages: msgs, InFlight: []string{}}
	for _, m := range msgs {
		if m.Role != ai.RoleUser && o.InFlight(m.ID) {
			sv.InFlight = append(sv.InFlight, m.ID)
		}
	}
	return sv
}

func snapshot(o *split.Orchestrator) gin.H {
	return gin.H{
		"session_id": o.ConversationID(),
		"input":      o.Input(),
		"left":       viewOf(o, split.Left),
		"right":      viewOf(o, split.Right),
	}
}

// splitError maps view errors onto the response envelope.
func splitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, split.ErrViewNotFound):
		fail(c, http.StatusNotFound, 40410, "split view not open")
	case errors.Is(err, gorm.ErrRecordNotFound):
		fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, split.ErrUnknownSide):
		fail(c, http.StatusBadRequest, 10011, "side must be left or right")
	case errors.Is(err, ai.ErrNoModel):
		fail(c, http.StatusBadRequest, 10012, "model required")
	default:
		fail(c, http.StatusInternalServerError, 50010, "split view error")
	}
}

// splitView resolves the caller's open view for :session_id.
func (h *Handler) splitView(c *gin.Context) (uint64, *split.Orchestrator, bool) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, nil, false
	}
	o, err := h.Hub.Get(uid, c.Param("session_id"))
	if err != nil {
		splitError(c, err)
		return 0, nil, false
	}
	return uid, o, true
}

func (h *Handler) ListSplitModels(c *gin.Context) {
	ok(c, gin.H{"models": h.Hub.Models()})
}

type openSplitReq struct {
	LeftModel  string `json:"left_model"`
	RightModel string `json:"right_model"`
}

func (h *Handler) OpenSplitView(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req openSplitReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	o, err := h.Hub.Open(c.Request.Context(), uid, c.Param("session_id"), req.LeftModel, req.RightModel)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, split.ErrViewNotFound) {
			log.Printf("[OpenSplitView] open failed uid=%d session_id=%s err=%v", uid, c.Param("session_id"), err)
		}
		splitError(c, err)
		return
	}
	ok(c, snapshot(o))
}

func (h *Handler) GetSplitView(c *gin.Context) {
	_, o, okk := h.splitView(c)
	if !okk {
		return
	}
	ok(c, snapshot(o))
}

func (h *Handler) CloseSplitView(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.Hub.Close(uid, c.Param("session_id")); err != nil {
		splitError(c, err)
		return
	}
	ok(c, gin.H{"closed": true})
}

type setModelReq struct {
	Model string `json:"model" binding:"required"`
}

func (h *Handler) SetSplitModel(c *gin.Context) {
	_, o, okk := h.splitView(c)
	if !okk {
		return
	}
	side, err := split.ParseSide(c.Param("side"))
	if err != nil {
		splitError(c, err)
		return
	}
	var req setModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := o.SetModel(side, req.Model); err != nil {
		splitError(c, err)
		return
	}
	ok(c, viewOf(o, side))
}

type setInputReq struct {
	Text string `json:"text"`
}

func (h *Handler) SetSplitInput(c *gin.Context) {
	_, o, okk := h.splitView(c)
	if !okk {
		return
	}
	var req setInputReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	o.SetInput(req.Text)
	ok(c, gin.H{"input": o.Input()})
}

type submitTurnReq struct {
	Message string `json:"message"`
}

func (h *Handler) SubmitSplitTurn(c *gin.Context) {
	_, o, okk := h.splitView(c)
	if !okk {
		return
	}
	var req submitTurnReq
	_ = c.ShouldBindJSON(&req) // empty body submits the shared input

	var (
		turn split.Turn
		err  error
	)
	if req.Message != "" {
		turn, err = o.SubmitTurn(req.Message)
	} else {
		turn, err = o.SubmitInput()
	}
	if errors.Is(err, split.ErrEmptyInput) {
		// blank submissions are ignored, not rejected
		ok(c, gin.H{"ignored": true})
		return
	}
	if err != nil {
		splitError(c, err)
		return
	}
	ok(c, turn)
}

// CancelSplitMessage aborts a streaming side. Requests not running here are
// forwarded to the other instances.
func (h *Handler) CancelSplitMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")
	msgID := c.Param("message_id")

	if o, err := h.Hub.Get(uid, sessionID); err == nil {
		if o.Cancel(msgID) {
			ok(c, gin.H{"message_id": msgID, "cancelled": true, "forwarded": false})
			return
		}
	} else if err := h.ChatSvc.ValidateSessionOwner(c.Request.Context(), uid, sessionID); err != nil {
		splitError(c, err)
		return
	}

	forwarded := false
	if h.Cancels != nil {
		if err := h.Cancels.PublishCancel(c.Request.Context(), sessionID, msgID); err != nil {
			log.Printf("[CancelSplitMessage] publish failed session_id=%s msg=%s err=%v", sessionID, msgID, err)
		} else {
			forwarded = true
		}
	}
	ok(c, gin.H{"message_id": msgID, "cancelled": false, "forwarded": forwarded})
}

func (h *Handler) ListSplitResults(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")
	if err := h.ChatSvc.ValidateSessionOwner(c.Request.Context(), uid, sessionID); err != nil {
		splitError(c, err)
		return
	}
	rows, err := h.Results.ListByConversation(c.Request.Context(), sessionID)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50011, "failed to list results")
		return
	}
	if rows == nil {
		rows = []split.Result{}
	}
	ok(c, gin.H{"results": rows})
}

// SplitEvents streams a snapshot of every side whose display changed.
func (h *Handler) SplitEvents(c *gin.Context) {
	uid, o, okk := h.splitView(c)
	if !okk {
		return
	}
	changes, unsubscribe, err := h.Hub.Subscribe(uid, o.ConversationID())
	if err != nil {
		splitError(c, err)
		return
	}
	defer unsubscribe()

	sse, okk := startSSE(c)
	if !okk {
		return
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for _, side := range split.Sides {
		sse.writeJSON("snapshot", viewOf(o, side))
	}

	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				sse.writeJSON("closed", gin.H{"type": "closed"})
				return
			}
			sse.writeJSON("snapshot", viewOf(o, ch.Side))

		case <-ticker.C:
			sse.writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}
