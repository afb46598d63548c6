package api

import (
	"context"
	"net/http"
	"testing"

	"persona/backend/internal/models"
	"persona/backend/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubImages struct {
	ImageService

	prompt    string
	completed []string
	external  []string
}

func (s *stubImages) RequestImage(_ context.Context, userID string, personaID uuid.UUID, prompt string) (*models.ImageJob, error) {
	s.prompt = prompt
	return &models.ImageJob{ID: uuid.New(), UserID: userID, PersonaID: personaID, Prompt: prompt, Status: models.ImageStatusPending}, nil
}

func (s *stubImages) CompleteImage(_ context.Context, jobID uuid.UUID, externalID, imageURL, errMsg string) (*models.ImageJob, error) {
	if imageURL == "" && errMsg == "" {
		return nil, errors.Validationf("either image_url or error is required")
	}
	s.completed = append(s.completed, imageURL)
	s.external = append(s.external, externalID)
	return &models.ImageJob{ID: jobID, Status: models.ImageStatusSucceeded, ImageURL: imageURL}, nil
}

func TestImageHandlerRequest(t *testing.T) {
	images := &stubImages{}
	r, authed := newEngine("alice")
	NewImageHandler(images, "s3cret").RegisterRoutes(authed)
	path := "/api/v1/personas/" + uuid.NewString() + "/images"

	w := do(r, http.MethodPost, path, map[string]any{"prompt": "oil painting"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "oil painting", images.prompt)

	// the prompt is optional
	w = do(r, http.MethodPost, path, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, images.prompt)
}

func TestImageHandlerCallback(t *testing.T) {
	images := &stubImages{}
	r, _ := newEngine("")
	NewImageHandler(images, "s3cret").RegisterCallbackRoutes(r.Group("/api/v1"))
	path := "/api/v1/images/" + uuid.NewString() + "/complete"
	body := map[string]any{"image_url": "https://cdn.example.com/a.png"}

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, path, body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, path, body, CallbackSecretHeader, "wrong").Code)
	assert.Empty(t, images.completed)

	w := do(r, http.MethodPost, path, body, CallbackSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, images.completed)

	w = do(r, http.MethodPost, path, map[string]any{}, CallbackSecretHeader, "s3cret")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImageHandlerCallbackPassesTaskID(t *testing.T) {
	images := &stubImages{}
	r, _ := newEngine("")
	NewImageHandler(images, "s3cret").RegisterCallbackRoutes(r.Group("/api/v1"))
	path := "/api/v1/images/" + uuid.NewString() + "/complete"

	body := map[string]any{"external_id": "task-9", "image_url": "https://cdn.example.com/a.png"}
	w := do(r, http.MethodPost, path, body, CallbackSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"task-9"}, images.external)
}

func TestImageHandlerCallbackWithoutSecret(t *testing.T) {
	r, _ := newEngine("")
	NewImageHandler(&stubImages{}, "").RegisterCallbackRoutes(r.Group("/api/v1"))

	w := do(r, http.MethodPost, "/api/v1/images/"+uuid.NewString()+"/complete",
		map[string]any{"image_url": "https://cdn.example.com/a.png"}, CallbackSecretHeader, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
