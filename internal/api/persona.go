package api

import (
	"context"
	"net/http"

	"persona/backend/internal/models"
	"persona/backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PersonaService is what PersonaHandler needs from the persona service
type PersonaService interface {
	CreatePersona(ctx context.Context, ownerID string, req models.CreatePersonaRequest) (*models.Persona, error)
	CreateVersion(ctx context.Context, ownerID string, personaID uuid.UUID, req models.CreateVersionRequest) (*models.PersonaVersion, error)
	SetCurrentVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) (*models.Persona, error)
	DeleteVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) error
	GetPersona(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error)
	ListPersonas(ctx context.Context, ownerID string) ([]models.Persona, error)
	ListVersions(ctx context.Context, ownerID string, personaID uuid.UUID) ([]models.PersonaVersion, error)
	DeletePersona(ctx context.Context, ownerID string, personaID uuid.UUID) error
	Publish(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error)
	Unpublish(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error)
	GetPublic(ctx context.Context, personaID uuid.UUID) (*models.Persona, error)
	ListPublic(ctx context.Context, limit, offset int) ([]models.Persona, error)
}

// PersonaHandler serves personas, their versions and the public catalogue
type PersonaHandler struct {
	personas PersonaService
}

func NewPersonaHandler(personas PersonaService) *PersonaHandler {
	return &PersonaHandler{personas: personas}
}

// RegisterRoutes mounts the owner routes on an authenticated group
func (h *PersonaHandler) RegisterRoutes(rg *gin.RouterGroup) {
	personas := rg.Group("/personas")
	personas.POST("", h.CreatePersona)
	personas.GET("", h.ListPersonas)
	personas.GET("/:id", h.GetPersona)
	personas.DELETE("/:id", h.DeletePersona)
	personas.GET("/:id/versions", h.ListVersions)
	personas.POST("/:id/versions", h.CreateVersion)
	personas.PUT("/:id/current-version", h.SetCurrentVersion)
	personas.DELETE("/:id/versions/:versionId", h.DeleteVersion)
	personas.POST("/:id/publish", h.Publish)
	personas.DELETE("/:id/publish", h.Unpublish)
}

// RegisterPublicRoutes mounts the anonymous catalogue routes
func (h *PersonaHandler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	public := rg.Group("/public/personas")
	public.GET("", h.ListPublic)
	public.GET("/:id", h.GetPublic)
}

func (h *PersonaHandler) CreatePersona(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreatePersonaRequest
	if !bind(c, &req) {
		return
	}
	persona, err := h.personas.CreatePersona(c.Request.Context(), ownerID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, persona)
}

func (h *PersonaHandler) ListPersonas(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personas, err := h.personas.ListPersonas(c.Request.Context(), ownerID)
	if err != nil {
		c.Error(err)
		return
	}
	if personas == nil {
		personas = []models.Persona{}
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}

func (h *PersonaHandler) GetPersona(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	persona, err := h.personas.GetPersona(c.Request.Context(), ownerID, personaID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, persona)
}

func (h *PersonaHandler) DeletePersona(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.personas.DeletePersona(c.Request.Context(), ownerID, personaID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PersonaHandler) ListVersions(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	versions, err := h.personas.ListVersions(c.Request.Context(), ownerID, personaID)
	if err != nil {
		c.Error(err)
		return
	}
	if versions == nil {
		versions = []models.PersonaVersion{}
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// CreateVersion appends an immutable version and makes it current
func (h *PersonaHandler) CreateVersion(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.CreateVersionRequest
	if !bind(c, &req) {
		return
	}
	version, err := h.personas.CreateVersion(c.Request.Context(), ownerID, personaID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (h *PersonaHandler) SetCurrentVersion(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.SetCurrentVersionRequest
	if !bind(c, &req) {
		return
	}
	persona, err := h.personas.SetCurrentVersion(c.Request.Context(), ownerID, personaID, req.VersionID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, persona)
}

func (h *PersonaHandler) DeleteVersion(c *gin.Context) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	versionID, ok := pathID(c, "versionId")
	if !ok {
		return
	}
	if err := h.personas.DeleteVersion(c.Request.Context(), ownerID, personaID, versionID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PersonaHandler) Publish(c *gin.Context) {
	h.setVisibility(c, h.personas.Publish)
}

func (h *PersonaHandler) Unpublish(c *gin.Context) {
	h.setVisibility(c, h.personas.Unpublish)
}

func (h *PersonaHandler) setVisibility(c *gin.Context, apply func(context.Context, string, uuid.UUID) (*models.Persona, error)) {
	ownerID, ok := currentUser(c)
	if !ok {
		return
	}
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	persona, err := apply(c.Request.Context(), ownerID, personaID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, persona)
}

// ListPublic pages through published personas with ?limit= and ?offset=
func (h *PersonaHandler) ListPublic(c *gin.Context) {
	limit, ok := queryInt(c, "limit", service.DefaultPublicLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	personas, err := h.personas.ListPublic(c.Request.Context(), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}

func (h *PersonaHandler) GetPublic(c *gin.Context) {
	personaID, ok := pathID(c, "id")
	if !ok {
		return
	}
	persona, err := h.personas.GetPublic(c.Request.Context(), personaID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, persona)
}
