package api

import (
	"github.com/gin-gonic/gin"
	"github.com/strata-dw/strata/internal/schema"
)

// Service provides the schema management API.
type Service struct {
	registry  *schema.Registry
	validator *schema.Validator
}

// NewService creates a new schema API service.
func NewService(reg *schema.Registry, val *schema.Validator) *Service {
	return &Service{
		registry:  reg,
		validator: val,
	}
}

// RegisterRoutes registers the schema API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	handler := NewHandler(s.registry, s.validator)

	schemas := r.Group("/v1/schemas")
	{
		schemas.GET("", handler.HandleList)
		// /v1/schemas/{name}/{version}
		schemas.GET("/:name/:version", handler.HandleGet)
		schemas.POST("/:name/:version/validate", handler.HandleValidate)
	}
}
