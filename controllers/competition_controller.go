package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nextcompete-api/services"
)

type registerRequest struct {
	CompetitionID uint `json:"competitionId" binding:"required"`
}

type winnersRequest struct {
	Winners []services.WinnerInput `json:"winners" binding:"required,min=1,dive"`
}

// POST /api/competitions
func (h *Handlers) CreateCompetition(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req services.CompetitionInput
	if !bindJSON(c, &req) {
		return
	}
	comp, err := h.Competitions.CreateCompetition(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"competition": comp})
}

// GET /api/competitions/:id?includeRounds=1&includeWinners=1
func (h *Handlers) GetCompetition(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	comp, err := h.Competitions.GetCompetition(c.Request.Context(), id, services.CompetitionQuery{
		IncludeRounds:  queryFlag(c, "includeRounds"),
		IncludeWinners: queryFlag(c, "includeWinners"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"competition": comp})
}

// POST /api/competitions/register
func (h *Handlers) RegisterForCompetition(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	reg, err := h.Competitions.Register(c.Request.Context(), p, req.CompetitionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"registration": reg})
}

// GET /api/competitions/:id/participants
func (h *Handlers) ListParticipants(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	regs, err := h.Competitions.ListParticipants(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": regs})
}

// GET /api/competitions/:id/eligibility
func (h *Handlers) GetEligibility(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	el, err := h.Progression.ComputeEligibility(c.Request.Context(), p.UserID, id, h.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, el)
}

// POST /api/competitions/:id/winners
func (h *Handlers) SelectWinners(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req winnersRequest
	if !bindJSON(c, &req) {
		return
	}
	winners, err := h.Competitions.SelectWinners(c.Request.Context(), p, id, req.Winners)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"winners": winners})
}
