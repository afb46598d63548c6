package router

import (
	"context"
	"net/http"
	"os"

	apidoc "persona/backend/api"
	"persona/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// setupOpenAPI serves the API document and, when enabled, validates requests
// against it. OPENAPI_SPEC_PATH replaces the embedded document.
func (r *Router) setupOpenAPI() {
	doc := apidoc.OpenAPI
	if path := r.Config.Features.OpenAPISpecPath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			r.Logger.LogError(err, "OpenAPI document not readable, using the embedded one", "path", path)
		} else {
			doc = data
		}
	}

	r.Engine.GET("/api/v1/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", doc)
	})

	if !r.Config.Features.EnableOpenAPIValidation {
		return
	}

	v, err := validator.NewOpenAPIValidator(context.Background(), doc)
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator, validation disabled")
		return
	}
	r.Engine.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "paths", v.Document().Paths.Len())
}
