package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nextcompete-api/services"
)

// POST /api/submissions
// PUT  /api/submissions/:id
//
// Both verbs create or replace the caller's submission for the round.
func (h *Handlers) UpsertSubmission(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req services.UpsertInput
	if !bindJSON(c, &req) {
		return
	}
	if c.Param("id") != "" {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		req.SubmissionID = &id
	}

	sub, err := h.Submissions.Upsert(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if req.SubmissionID == nil && sub.Version == 1 {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"submission": sub})
}

// GET /api/submissions/:id
func (h *Handlers) GetSubmission(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	sub, err := h.Submissions.Get(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission": sub})
}

// GET /api/submissions/mine?competitionId=1
func (h *Handlers) ListMySubmissions(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	compID := queryInt(c, "competitionId", 0)
	if compID < 0 {
		compID = 0
	}
	subs, err := h.Submissions.ListMine(c.Request.Context(), p, uint(compID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

// POST /api/submissions/:id/evaluations
func (h *Handlers) RecordEvaluation(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req services.EvaluationInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Evaluations.RecordEvaluation(c.Request.Context(), p, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /api/submissions/:id/evaluations
func (h *Handlers) ListEvaluations(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	records, err := h.Evaluations.ListEvaluations(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluations": records})
}

// POST /api/submissions/:id/decision
func (h *Handlers) DecideSubmission(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req services.DecisionInput
	if !bindJSON(c, &req) {
		return
	}
	sub, err := h.Evaluations.DecideSubmission(c.Request.Context(), p, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission": sub})
}
