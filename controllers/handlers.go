package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"nextcompete-api/config"
	"nextcompete-api/middleware"
	"nextcompete-api/services"
)

// Handlers holds the services behind the HTTP endpoints.
type Handlers struct {
	Competitions  *services.CompetitionService
	Submissions   *services.SubmissionService
	Evaluations   *services.EvaluationService
	Progression   *services.ProgressionService
	Assets        *services.AssetService
	Notifications *services.NotificationService
	Messages      *services.MessageService
	Clock         services.Clock
}

func (h *Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func currentPrincipal(c *gin.Context) (services.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok || p.UserID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return services.Principal{}, false
	}
	return p, true
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func queryFlag(c *gin.Context, name string) bool {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		_, present := c.GetQuery(name)
		return present
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func queryInt(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(c.Query(name))); err == nil {
		return v
	}
	return def
}

// bindJSON binds the body and answers 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": config.FieldErrors(verrs)})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusUnprocessableEntity
		if onlyFieldErrors(verr) {
			status = http.StatusBadRequest
		}
		fields := make(map[string]string, len(verr.Violations))
		for _, v := range verr.Violations {
			if v.Field != "" {
				if prev, ok := fields[v.Field]; ok {
					fields[v.Field] = prev + "; " + v.Message
				} else {
					fields[v.Field] = v.Message
				}
			}
		}
		c.JSON(status, gin.H{"error": verr.Error(), "violations": verr.Violations, "fields": fields})
		return
	}

	var derr *services.Error
	if errors.As(err, &derr) {
		status := http.StatusBadRequest
		switch derr.Kind {
		case services.KindNotFound:
			status = http.StatusNotFound
		case services.KindForbidden:
			status = http.StatusForbidden
		case services.KindAuthRequired:
			status = http.StatusUnauthorized
		case services.KindConflict:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": derr.Message})
		return
	}

	config.Log.WithError(err).
		WithField("method", c.Request.Method).
		WithField("path", c.FullPath()).
		Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func onlyFieldErrors(verr *services.ValidationError) bool {
	for _, v := range verr.Violations {
		if v.Code != services.ViolationInvalidField {
			return false
		}
	}
	return true
}
