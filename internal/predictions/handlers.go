package predictions

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/pagination"
)

// maxPageSize caps one HTTP page. One extra record is fetched to detect
// whether another page follows.
const maxPageSize = 200

// Handler provides HTTP endpoints for the prediction log
type Handler struct {
	store Store
}

// NewHandler creates a new predictions handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up prediction routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/predictions", h.ListPredictions)
	r.GET("/predictions/:id", h.GetPrediction)
}

// ListPredictions handles GET /predictions?tenantId=&type=&limit=&cursor=
func (h *Handler) ListPredictions(c *gin.Context) {
	filter := ListFilter{
		TenantID:  c.Query("tenantId"),
		EventType: events.EventType(c.Query("type")),
	}
	limit := DefaultListLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	filter.Before = cursor
	filter.Limit = limit + 1

	records, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list predictions",
		})
		return
	}
	records, next, hasMore := pagination.ComputePage(records, limit, func(r *Record) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	if records == nil {
		records = []*Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"predictions": records,
		"count":       len(records),
		"nextCursor":  next,
		"hasMore":     hasMore,
	})
}

// GetPrediction handles GET /predictions/:id
func (h *Handler) GetPrediction(c *gin.Context) {
	rec, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Prediction not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to get prediction",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prediction": rec})
}
