package projection

import (
	"errors"
	"net/http"
	"time"

	httperr "github.com/strata-dw/strata/internal/core/errors"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/dimensions/:durable_key/as-of", s.HandleDimensionAsOf)
	r.GET("/v1/dimensions/:durable_key/current", s.HandleDimensionCurrent)
	r.GET("/v1/dimensions/:durable_key/history", s.HandleDimensionHistory)

	r.GET("/v1/facts", s.HandleQueryFacts)

	r.GET("/v1/buckets/:grain", s.HandleBucket)
	r.GET("/v1/buckets/:grain/series", s.HandleBucketSeries)

	r.GET("/v1/errors", s.HandleListErrors)
	r.POST("/v1/errors/:id/resolve", s.HandleResolveError)

	r.GET("/v1/runs", s.HandleListRuns)
}

// HandleDimensionAsOf handles GET /v1/dimensions/:durable_key/as-of
// Query parameters: time
func (s *Service) HandleDimensionAsOf(c *gin.Context) {
	var uri struct {
		DurableKey string `uri:"durable_key" binding:"required"`
	}
	var query struct {
		Time time.Time `form:"time" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeInvalidQuery(c, "Invalid path parameters", err)
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeInvalidQuery(c, "Invalid query parameters", err)
		return
	}

	resp, err := s.DimensionAsOf(c.Request.Context(), uri.DurableKey, query.Time)
	if err != nil {
		writeDimensionError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDimensionCurrent handles GET /v1/dimensions/:durable_key/current
func (s *Service) HandleDimensionCurrent(c *gin.Context) {
	var uri struct {
		DurableKey string `uri:"durable_key" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeInvalidQuery(c, "Invalid path parameters", err)
		return
	}

	resp, err := s.DimensionCurrent(c.Request.Context(), uri.DurableKey)
	if err != nil {
		writeDimensionError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDimensionHistory handles GET /v1/dimensions/:durable_key/history
func (s *Service) HandleDimensionHistory(c *gin.Context) {
	var uri struct {
		DurableKey string `uri:"durable_key" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeInvalidQuery(c, "Invalid path parameters", err)
		return
	}

	resp, err := s.DimensionHistory(c.Request.Context(), uri.DurableKey)
	if err != nil {
		writeDimensionError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleQueryFacts handles GET /v1/facts
// Query parameters: start, end, durable_key, surrogate_id, cursor, limit
func (s *Service) HandleQueryFacts(c *gin.Context) {
	var query struct {
		Start       time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End         time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		DurableKey  string    `form:"durable_key"`
		SurrogateID string    `form:"surrogate_id"`
		Cursor      string    `form:"cursor"`
		Limit       int       `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeInvalidQuery(c, "Invalid query parameters", err)
		return
	}

	resp, err := s.QueryFacts(c.Request.Context(), FactQueryRequest{
		Start:       query.Start,
		End:         query.End,
		DurableKey:  query.DurableKey,
		SurrogateID: query.SurrogateID,
		Cursor:      query.Cursor,
		Limit:       query.Limit,
	})
	if err != nil {
		writeServiceError(c, "Failed to query facts", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBucket handles GET /v1/buckets/:grain
// Query parameters: period, durable_key, surrogate_id
func (s *Service) HandleBucket(c *gin.Context) {
	var uri struct {
		Grain string `uri:"grain" binding:"required"`
	}
	var query struct {
		Period      time.Time `form:"period" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		DurableKey  string    `form:"durable_key"`
		SurrogateID string    `form:"surrogate_id"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeInvalidQuery(c, "Invalid path parameters", err)
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeInvalidQuery(c, "Invalid query parameters", err)
		return
	}

	resp, err := s.BucketAt(c.Request.Context(), uri.Grain, query.Period, query.DurableKey, query.SurrogateID)
	if err != nil {
		writeServiceError(c, "Failed to read bucket", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBucketSeries handles GET /v1/buckets/:grain/series
// Query parameters: start, end, durable_key, surrogate_id
func (s *Service) HandleBucketSeries(c *gin.Context) {
	var uri struct {
		Grain string `uri:"grain" binding:"required"`
	}
	var query struct {
		Start       time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End         time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		DurableKey  string    `form:"durable_key"`
		SurrogateID string    `form:"surrogate_id"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeInvalidQuery(c, "Invalid path parameters", err)
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeInvalidQuery(c, "Invalid query parameters", err)
		return
	}

	resp, err := s.BucketSeries(c.Request.Context(), uri.Grain, query.Start, query.End, query.DurableKey, query.SurrogateID)
	if err != nil {
		writeServiceError(c, "Failed to read bucket series", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListErrors handles GET /v1/errors
// Query parameters: status, limit
func (s *Service) HandleListErrors(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeInvalidQuery(c, "Invalid query parameters", err)
		return
	}

	escalations, err := s.ListEscalations(c.Request.Context(), query.Status, query.Limit)
	if err != nil {
		writeServiceError(c, "Failed to list escalations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": escalations})
}

// HandleResolveError handles POST /v1/errors/:id/resolve
func (s *Service) HandleResolveError(c *gin.Context) {
	var uri struct {
		ID string `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		writeInvalidQuery(c, "Invalid path parameters", err)
		return
	}

	if err := s.ResolveEscalation(c.Request.Context(), uri.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpEscalationNotFound,
				Message:   "Escalation not found",
				Details:   uri.ID,
			})
			return
		}
		writeServiceError(c, "Failed to resolve escalation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// HandleListRuns handles GET /v1/runs
// Query parameters: process, limit
func (s *Service) HandleListRuns(c *gin.Context) {
	var query struct {
		Process string `form:"process"`
		Limit   int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeInvalidQuery(c, "Invalid query parameters", err)
		return
	}

	runs, err := s.ListRuns(c.Request.Context(), query.Process, query.Limit)
	if err != nil {
		writeServiceError(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func writeInvalidQuery(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidQueryError,
		Message:   message,
		Details:   err.Error(),
	})
}

// writeDimensionError maps resolution failures onto HTTP statuses: an
// unknown entity and an uncovered instant are both 404s with distinct
// error types, so clients can tell "never seen" from "seen, but not
// then".
func writeDimensionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, warehouse.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownEntityError,
			Message:   "Unknown durable key",
			Details:   err.Error(),
		})
	case errors.Is(err, warehouse.ErrNoDimensionVersion):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNoDimensionVersion,
			Message:   "No dimension version covers the requested time",
			Details:   err.Error(),
		})
	default:
		writeServiceError(c, "Failed to read dimension", err)
	}
}

func writeServiceError(c *gin.Context, message string, err error) {
	if errors.Is(err, ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   message,
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   message,
		Details:   err.Error(),
	})
}
