package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type findConversationRequest struct {
	UserID        uint  `json:"userId" binding:"required"`
	CompetitionID *uint `json:"competitionId"`
}

type sendMessageRequest struct {
	ConversationID uint   `json:"conversationId" binding:"required"`
	Body           string `json:"body" binding:"required"`
}

// POST /api/messages/conversations/find-or-create
func (h *Handlers) FindOrCreateConversation(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req findConversationRequest
	if !bindJSON(c, &req) {
		return
	}
	conv, err := h.Messages.FindOrCreate(c.Request.Context(), p, req.UserID, req.CompetitionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// GET /api/messages/conversations
func (h *Handlers) ListConversations(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	convs, err := h.Messages.ListConversations(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// GET /api/messages/conversations/:conversationId/messages?after=0&limit=50
func (h *Handlers) ListMessages(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "conversationId")
	if !ok {
		return
	}
	after := queryInt(c, "after", 0)
	if after < 0 {
		after = 0
	}
	msgs, err := h.Messages.ListMessages(c.Request.Context(), p, id, uint(after), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// POST /api/messages/send
func (h *Handlers) SendMessage(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.Messages.Send(c.Request.Context(), p, req.ConversationID, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// POST /api/messages/:conversationId/read
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "conversationId")
	if !ok {
		return
	}
	n, err := h.Messages.MarkRead(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": n})
}
