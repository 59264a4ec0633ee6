package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nextcompete-api/services"
)

type markNotificationRequest struct {
	ID  uint `json:"id"`
	All bool `json:"all"`
}

// GET /api/notification?unreadOnly=1&limit=20&offset=0
func (h *Handlers) GetNotifications(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	unreadOnly := strings.TrimSpace(c.Query("unreadOnly"))
	items, err := h.Notifications.List(c.Request.Context(), p.UserID, services.ListOptions{
		UnreadOnly: unreadOnly == "1" || strings.EqualFold(unreadOnly, "true"),
		Limit:      queryInt(c, "limit", 20),
		Offset:     queryInt(c, "offset", 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GET /api/notification/counter
func (h *Handlers) GetNotificationCounter(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	n, err := h.Notifications.UnreadCount(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// PUT /api/notification {id} or {all: true}
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req markNotificationRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.All {
		n, err := h.Notifications.MarkAllRead(c.Request.Context(), p.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "updated": n})
		return
	}
	if req.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id or all is required"})
		return
	}
	n, err := h.Notifications.MarkRead(c.Request.Context(), p.UserID, req.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "notification": n})
}
