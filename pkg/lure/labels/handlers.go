// Package labels stores the labels attached to content items and serves them
// over HTTP.
package labels

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/database"
	"github.com/mikepea/lure/pkg/lure/models"
)

// Handler handles label-related requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new labels handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// LabelResponse represents a label in API responses
type LabelResponse struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Confidence   float64 `json:"confidence,omitempty"`
	ContentCount int     `json:"content_count,omitempty"`
}

// List returns all labels in use, with the number of content items carrying each
func (h *Handler) List(c *gin.Context) {
	type labelWithCount struct {
		Name         string
		Type         string
		ContentCount int
	}

	query := h.db.Table("content_tags").
		Select("tag_name AS name, tag_type AS type, COUNT(DISTINCT content_id) AS content_count").
		Group("tag_name, tag_type").
		Order("content_count DESC, tag_name")

	if t := c.Query("type"); t != "" {
		query = query.Where("tag_type = ?", t)
	}

	var results []labelWithCount
	if err := query.Scan(&results).Error; err != nil {
		apperr.Respond(c, apperr.Persistence(err, "failed to fetch labels"), false)
		return
	}

	labels := make([]LabelResponse, len(results))
	for i, r := range results {
		labels[i] = LabelResponse{
			Name:         r.Name,
			Type:         r.Type,
			ContentCount: r.ContentCount,
		}
	}

	c.JSON(http.StatusOK, labels)
}

// GetContentLabels returns the labels for a specific content item
func (h *Handler) GetContentLabels(c *gin.Context) {
	id := c.Param("id")

	var content models.Content
	err := h.db.Preload("Labels").Where("id = ?", id).First(&content).Error
	if database.IsNotFound(err) {
		apperr.Respond(c, apperr.NotFound("content %s not found", id), false)
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Persistence(err, "failed to fetch content"), false)
		return
	}

	labels := make([]LabelResponse, len(content.Labels))
	for i, l := range content.Labels {
		labels[i] = LabelResponse{
			Name:       l.Name,
			Type:       string(l.Type),
			Confidence: l.Confidence,
		}
	}

	c.JSON(http.StatusOK, labels)
}

// RegisterRoutes registers label routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/labels", h.List)
	rg.GET("/content/:id/labels", h.GetContentLabels)
}
