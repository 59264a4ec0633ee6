package controllers

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"nextcompete-api/services"
)

type deleteAssetRequest struct {
	PublicID     string `json:"publicId" binding:"required"`
	ResourceType string `json:"resourceType"`
}

type reconcileRequest struct {
	Limit int `json:"limit" binding:"gte=0,lte=1000"`
}

// POST /api/upload (multipart: file, optional fileName, roundId, resourceType)
//
// One file answers {imageUrl, public_id}; several answer {results: [...]}.
func (h *Handlers) Upload(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil || len(form.File["file"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	headers := form.File["file"]

	var roundID *uint
	if raw := strings.TrimSpace(c.PostForm("roundId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid roundId"})
			return
		}
		rid := uint(id)
		roundID = &rid
	}
	resourceType := strings.TrimSpace(c.PostForm("resourceType"))

	inputs := make([]services.UploadInput, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read " + fh.Filename})
			return
		}
		opened = append(opened, f)
		inputs = append(inputs, services.UploadInput{
			Name:         fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			Body:         f,
			RoundID:      roundID,
			ResourceType: resourceType,
		})
	}

	if len(inputs) == 1 {
		if name := strings.TrimSpace(c.PostForm("fileName")); name != "" {
			inputs[0].Name = name
		}
		res, err := h.Assets.Upload(c.Request.Context(), p, inputs[0])
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
		return
	}

	results := h.Assets.UploadBatch(c.Request.Context(), p, inputs)
	status := http.StatusCreated
	for _, r := range results {
		if r.Error != "" {
			status = http.StatusMultiStatus
			break
		}
	}
	c.JSON(status, gin.H{"results": results})
}

// POST /api/storage/delete
func (h *Handlers) DeleteAsset(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req deleteAssetRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Assets.DeleteAsset(c.Request.Context(), p, strings.TrimSpace(req.PublicID)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "publicId": req.PublicID})
}

// POST /api/admin/storage/reconcile
func (h *Handlers) ReconcileStorage(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	report, err := h.Assets.ReconcileStorage(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
