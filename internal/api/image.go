package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"persona/backend/internal/models"
	"persona/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CallbackSecretHeader carries the shared secret of task platform callbacks
const CallbackSecretHeader = "X-Callback-Secret"

// ImageService is what ImageHandler needs from the artwork service
type ImageService interface {
	RequestImage(ctx context.Context, userID string, personaID uuid.UUID, prompt string) (*models.ImageJob, error)
	CompleteImage(ctx context.Context, jobID uuid.UUID, externalID, imageURL, errMsg string) (*models.ImageJob, error)
	ListImages(ctx context.Context, userID string, personaID uuid.UUID) ([]models.ImageJob, error)
}

// ImageHandler serves artwork jobs and the task platform callback
type ImageHandler struct {
	images         ImageService
	callbackSecret string
}

// NewImageHandler creates an image handler. With an empty callbackSecret
// every callback is rejected.
func NewImageHandler(images ImageService, callbackSecret string) *ImageHandler {
	return &ImageHandler{images: images, callbackSecret: callbackSecret}
}

// RegisterRoutes mounts the user routes on an authenticated group
func (h *ImageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/personas/:id/images", h.RequestImage)
	rg.GET("/personas/:id/images", h.ListImages)
}

// RegisterCallbackRoutes mounts the callback, authenticated by the shared secret
func (h *ImageHandler) RegisterCallbackRoutes(rg *gin.RouterGroup) {
	rg.POST("/images/:id/complete", h.CompleteImage)
}

// RequestImage charges the image cost and submits a generation job
func (h *ImageHandler) RequestImage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.RequestImageRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	job, err := h.images.RequestImage(c.Request.Context(), userID, personaID, req.Prompt)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *ImageHandler) ListImages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	jobs, err := h.images.ListImages(c.Request.Context(), userID, personaID)
	if err != nil {
		c.Error(err)
		return
	}
	if jobs == nil {
		jobs = []models.ImageJob{}
	}
	c.JSON(http.StatusOK, gin.H{"images": jobs})
}

// CompleteImage records the outcome reported by the task platform
func (h *ImageHandler) CompleteImage(c *gin.Context) {
	secret := c.GetHeader(CallbackSecretHeader)
	if h.callbackSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.callbackSecret)) != 1 {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Invalid callback secret"))
		return
	}
	jobID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.CompleteImageRequest
	if !bind(c, &req) {
		return
	}
	job, err := h.images.CompleteImage(c.Request.Context(), jobID, req.ExternalID, req.ImageURL, req.Error)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job)
}
