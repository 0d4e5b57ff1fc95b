package tracking

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/models"
)

// Handler handles tracking and launch requests
type Handler struct {
	db       *gorm.DB
	tracker  *Tracker
	basePath string
	debug    bool
}

// NewHandler creates a new tracking handler
func NewHandler(db *gorm.DB, tracker *Tracker, basePath string, debug bool) *Handler {
	return &Handler{db: db, tracker: tracker, basePath: strings.TrimRight(basePath, "/"), debug: debug}
}

// ViewRequest is the body of a view event
type ViewRequest struct {
	TrackingLinkID string `json:"tracking_link_id" binding:"required"`
}

// InteractionRequest is the body of an interaction event
type InteractionRequest struct {
	TrackingLinkID   string  `json:"tracking_link_id" binding:"required"`
	TagName          string  `json:"tag_name" binding:"required"`
	InteractionType  string  `json:"interaction_type" binding:"required"`
	InteractionValue *string `json:"interaction_value"`
	Success          *bool   `json:"success"`
}

// ScoreRequest is the body of a score event
type ScoreRequest struct {
	TrackingLinkID string            `json:"tracking_link_id" binding:"required"`
	Score          *float64          `json:"score" binding:"required"`
	Interactions   []json.RawMessage `json:"interactions"`
}

// TrackView records that the content was opened
func (h *Handler) TrackView(c *gin.Context) {
	var req ViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidBody(err), h.debug)
		return
	}

	if err := h.tracker.RecordView(c.Request.Context(), req.TrackingLinkID); err != nil {
		apperr.Respond(c, err, h.debug)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TrackInteraction records an interaction with a labeled element
func (h *Handler) TrackInteraction(c *gin.Context) {
	var req InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidBody(err), h.debug)
		return
	}

	err := h.tracker.RecordInteraction(c.Request.Context(), req.TrackingLinkID, InteractionInput{
		Label:   req.TagName,
		Kind:    req.InteractionType,
		Value:   req.InteractionValue,
		Success: req.Success,
	})
	if err != nil {
		apperr.Respond(c, err, h.debug)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RecordScore records the final score reported by the content
func (h *Handler) RecordScore(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidBody(err), h.debug)
		return
	}

	result, err := h.tracker.RecordScore(c.Request.Context(), req.TrackingLinkID, *req.Score, req.Interactions)
	if err != nil {
		apperr.Respond(c, err, h.debug)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"score":   result.Score,
		"status":  result.Status,
	})
}

// Launch redirects a tracking link to its content's entry document
func (h *Handler) Launch(c *gin.Context) {
	tid := c.Query("tid")
	if tid == "" {
		apperr.Respond(c, apperr.Validation("missing tracking link"), h.debug)
		return
	}

	link, err := h.tracker.Link(c.Request.Context(), tid)
	if err != nil {
		apperr.Respond(c, err, h.debug)
		return
	}

	var content models.Content
	if err := h.db.Where("id = ?", link.ContentID).First(&content).Error; err != nil || !content.IsServable() {
		apperr.Respond(c, apperr.NotFound("content %s not found", link.ContentID), h.debug)
		return
	}

	c.Redirect(http.StatusFound, h.basePath+"/content/"+*content.URL+"?tid="+link.ID)
}

// RegisterRoutes registers tracking API routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/track/view", h.TrackView)
	rg.POST("/track/interaction", h.TrackInteraction)
	rg.POST("/track/score", h.RecordScore)
}

// RegisterLaunchRoute registers the launch redirect on the root router
func (h *Handler) RegisterLaunchRoute(r gin.IRoutes) {
	r.GET("/launch", h.Launch)
}
