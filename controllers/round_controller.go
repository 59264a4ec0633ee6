package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nextcompete-api/services"
	"nextcompete-api/utils"
)

// GET /api/rounds/:roundId?includeResources=1
func (h *Handlers) GetRound(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "roundId")
	if !ok {
		return
	}
	round, err := h.Competitions.GetRound(c.Request.Context(), p, id, queryFlag(c, "includeResources"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round})
}

// PUT /api/rounds/:roundId
func (h *Handlers) UpdateRound(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "roundId")
	if !ok {
		return
	}
	var req services.RoundInput
	if !bindJSON(c, &req) {
		return
	}
	round, err := h.Competitions.UpdateRound(c.Request.Context(), p, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round})
}

// POST /api/rounds/:roundId/resources
func (h *Handlers) AddRoundResource(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "roundId")
	if !ok {
		return
	}
	var req services.ResourceInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Competitions.AddRoundResource(c.Request.Context(), p, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"resource": res})
}

// GET /api/rounds/:roundId/submissions?status=pending
func (h *Handlers) ListRoundSubmissions(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "roundId")
	if !ok {
		return
	}
	status, known := utils.ParseSubmissionStatus(c.Query("status"))
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	subs, err := h.Submissions.ListForRound(c.Request.Context(), p, id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

// GET /api/rounds/:roundId/leaderboard
func (h *Handlers) GetLeaderboard(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "roundId")
	if !ok {
		return
	}
	entries, err := h.Evaluations.Leaderboard(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
