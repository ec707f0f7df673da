package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/schema"
)

// Service accepts change records onto the ledger. Records are durably
// appended and picked up by the pipeline on its next cycle; ingest
// never touches dimension or bucket state directly.
type Service struct {
	registry         *schema.Registry
	validator        *schema.Validator
	ledger           storage.LedgerStore
	maxBodySizeBytes int

	// requireSchema rejects records that do not declare a conformed
	// schema. Off by default so bare streams still load.
	requireSchema bool
}

func NewService(reg *schema.Registry, val *schema.Validator, ledger storage.LedgerStore, maxBodySizeMB int) *Service {
	if reg == nil {
		panic("ingestion: registry must not be nil")
	}
	if val == nil {
		panic("ingestion: validator must not be nil")
	}
	if ledger == nil {
		panic("ingestion: ledger must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		registry:         reg,
		validator:        val,
		ledger:           ledger,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// SetRequireSchema toggles mandatory conformed-schema declarations on
// ingest. Must be called before the service starts handling requests.
func (s *Service) SetRequireSchema(required bool) {
	s.requireSchema = required
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/changes", s.AppendHandler)
}
