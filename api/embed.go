// Package api embeds the OpenAPI document of the HTTP surface.
package api

import _ "embed"

// OpenAPI is the OpenAPI 3 document served at /api/v1/openapi.yaml and used
// for request validation
//
//go:embed openapi.yaml
var OpenAPI []byte
