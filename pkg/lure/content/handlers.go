// Package content serves the upload, listing and launch-link API.
package content

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/database"
	"github.com/mikepea/lure/pkg/lure/models"
	"github.com/mikepea/lure/pkg/lure/pathguard"
	"github.com/mikepea/lure/pkg/lure/pipeline"
	"github.com/mikepea/lure/pkg/lure/tracking"
)

// Options configures a Handler.
type Options struct {
	ContentRoot    string
	BaseURL        string
	BasePath       string
	MaxUploadBytes int64
	Debug          bool
}

// Handler handles content requests
type Handler struct {
	db      *gorm.DB
	proc    *pipeline.Processor
	tracker *tracking.Tracker
	opts    Options
}

// NewHandler creates a new content handler
func NewHandler(db *gorm.DB, proc *pipeline.Processor, tracker *tracking.Tracker, opts Options) *Handler {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.BasePath = strings.TrimRight(opts.BasePath, "/")
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	return &Handler{db: db, proc: proc, tracker: tracker, opts: opts}
}

// ContentResponse represents a content item in API responses
type ContentResponse struct {
	ID           string   `json:"id"`
	CompanyID    string   `json:"company_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Type         string   `json:"content_type"`
	URL          string   `json:"content_url,omitempty"`
	PreviewURL   string   `json:"content_preview,omitempty"`
	Tags         []string `json:"tags"`
	Difficulty   *int     `json:"difficulty,omitempty"`
	EmailSubject string   `json:"email_subject,omitempty"`
	EmailFrom    string   `json:"email_from,omitempty"`
	Attachment   string   `json:"attachment_filename,omitempty"`
	Ready        bool     `json:"ready"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

func contentToResponse(c models.Content) ContentResponse {
	resp := ContentResponse{
		ID:           c.ID,
		CompanyID:    c.CompanyID,
		Title:        c.Title,
		Description:  c.Description,
		Type:         string(c.Kind),
		PreviewURL:   c.PreviewURL,
		Tags:         splitTags(c.Tags),
		Difficulty:   c.Difficulty,
		EmailSubject: c.EmailSubject,
		EmailFrom:    c.EmailFrom,
		Attachment:   c.AttachmentFilename,
		Ready:        c.IsServable(),
		CreatedAt:    c.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:    c.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if c.URL != nil {
		resp.URL = *c.URL
	}
	return resp
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// UploadResponse is returned after an upload has been processed
type UploadResponse struct {
	Success    bool     `json:"success"`
	ContentID  string   `json:"content_id"`
	Message    string   `json:"message"`
	Path       string   `json:"path"`
	Tags       []string `json:"tags,omitempty"`
	Cues       []string `json:"cues,omitempty"`
	Difficulty *int     `json:"difficulty,omitempty"`
	PreviewURL string   `json:"preview_url,omitempty"`
	Strategy   string   `json:"annotation,omitempty"`
	Chunks     int      `json:"chunks,omitempty"`
}

// Upload accepts a multipart upload and runs it through the pipeline
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": string(apperr.CategoryValidation), "message": "upload too large"})
			return
		}
		apperr.Respond(c, apperr.Validation("expected a multipart form"), h.opts.Debug)
		return
	}

	kind, ok := models.ParseContentKind(c.PostForm("content_type"))
	if !ok {
		apperr.Respond(c, apperr.Validation("invalid content type"), h.opts.Debug)
		return
	}

	upload, cleanup, err := h.buildUpload(c, kind)
	defer cleanup()
	if err != nil {
		apperr.Respond(c, err, h.opts.Debug)
		return
	}

	meta := pipeline.Metadata{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		CompanyID:   c.PostForm("company_id"),
	}
	out, err := h.proc.Ingest(c.Request.Context(), meta, upload)
	if err != nil {
		apperr.Respond(c, err, h.opts.Debug)
		return
	}

	resp := UploadResponse{
		Success:    true,
		ContentID:  out.Content.ID,
		Message:    "Content uploaded and processed successfully",
		Path:       *out.Content.URL,
		Difficulty: out.Content.Difficulty,
		PreviewURL: out.Content.PreviewURL,
		Strategy:   string(out.Strategy),
		Chunks:     out.Chunks,
	}
	switch kind {
	case models.KindVideo:
		resp.Message = "Video uploaded successfully"
	case models.KindEmail:
		resp.Cues = out.Labels
	default:
		resp.Tags = out.Labels
	}
	c.JSON(http.StatusCreated, resp)
}

// buildUpload turns the form into a pipeline upload. The returned cleanup
// removes any temporary file the pipeline did not consume.
func (h *Handler) buildUpload(c *gin.Context, kind models.ContentKind) (pipeline.Upload, func(), error) {
	noop := func() {}

	switch kind {
	case models.KindSCORM, models.KindHTML, models.KindVideo:
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, noop, apperr.Validation("file is required")
		}
		tmp, err := saveTemp(c, fh)
		if err != nil {
			return nil, noop, apperr.Persistence(err, "failed to store upload")
		}
		cleanup := func() { os.Remove(tmp) }
		if kind == models.KindVideo {
			return pipeline.VideoUpload{Source: tmp, Filename: fh.Filename}, cleanup, nil
		}
		return pipeline.ArchiveUpload{Scorm: kind == models.KindSCORM, Source: tmp, Filename: fh.Filename}, cleanup, nil

	case models.KindEmail:
		u := pipeline.EmailUpload{
			HTML:    c.PostForm("email_html"),
			Subject: c.PostForm("email_subject"),
			From:    c.PostForm("email_from"),
		}
		fh, err := c.FormFile("attachment")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return nil, noop, apperr.Validation("invalid attachment")
		default:
			data, err := readAll(fh)
			if err != nil {
				return nil, noop, apperr.Validation("failed to read attachment")
			}
			u.Attachment = &pipeline.Attachment{Filename: fh.Filename, Data: data}
		}
		return u, noop, nil
	}

	return pipeline.MarkupUpload{Landing: kind == models.KindLanding, HTML: c.PostForm("html_content")}, noop, nil
}

func saveTemp(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	f, err := os.CreateTemp("", "lure-upload-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	if err := c.SaveUploadedFile(fh, name); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// List returns content items, newest first
func (h *Handler) List(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC")

	if companyID := c.Query("company_id"); companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if t := c.Query("content_type"); t != "" {
		kind, ok := models.ParseContentKind(t)
		if !ok {
			apperr.Respond(c, apperr.Validation("invalid content type"), h.opts.Debug)
			return
		}
		query = query.Where("content_type = ?", kind)
	}

	var items []models.Content
	if err := query.Find(&items).Error; err != nil {
		apperr.Respond(c, apperr.Persistence(err, "failed to fetch content"), h.opts.Debug)
		return
	}

	resp := make([]ContentResponse, len(items))
	for i, item := range items {
		resp[i] = contentToResponse(item)
	}
	c.JSON(http.StatusOK, resp)
}

// Get returns a single content item
func (h *Handler) Get(c *gin.Context) {
	var item models.Content
	err := h.db.WithContext(c.Request.Context()).Where("id = ?", c.Param("id")).First(&item).Error
	if database.IsNotFound(err) {
		apperr.Respond(c, apperr.NotFound("content not found"), h.opts.Debug)
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Persistence(err, "failed to fetch content"), h.opts.Debug)
		return
	}
	c.JSON(http.StatusOK, contentToResponse(item))
}

// LaunchLinkRequest asks for a tracking link for a recipient
type LaunchLinkRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	ContentID   string `json:"content_id" binding:"required"`
	CompanyID   string `json:"company_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

// LaunchLinkResponse carries a newly issued tracking link
type LaunchLinkResponse struct {
	Success        bool            `json:"success"`
	TrackingLinkID string          `json:"tracking_link_id"`
	LaunchURL      string          `json:"launch_url"`
	Content        LaunchedContent `json:"content"`
}

// LaunchedContent summarizes the content a launch link points at
type LaunchedContent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// CreateLaunchLink issues a tracking link, creating the recipient if needed
func (h *Handler) CreateLaunchLink(c *gin.Context) {
	var req LaunchLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidBody(err), h.opts.Debug)
		return
	}
	ctx := c.Request.Context()

	var item models.Content
	err := h.db.WithContext(ctx).Where("id = ?", req.ContentID).First(&item).Error
	if database.IsNotFound(err) {
		apperr.Respond(c, apperr.NotFound("content not found"), h.opts.Debug)
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Persistence(err, "failed to fetch content"), h.opts.Debug)
		return
	}

	companyID := req.CompanyID
	if companyID == "" {
		companyID = "default"
	}
	err = h.tracker.EnsureRecipient(ctx, models.Recipient{
		ID:        req.RecipientID,
		CompanyID: companyID,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		apperr.Respond(c, err, h.opts.Debug)
		return
	}

	link, err := h.tracker.CreateLink(ctx, req.RecipientID, item.ID)
	if err != nil {
		apperr.Respond(c, err, h.opts.Debug)
		return
	}

	c.JSON(http.StatusCreated, LaunchLinkResponse{
		Success:        true,
		TrackingLinkID: link.ID,
		LaunchURL:      h.opts.BaseURL + h.opts.BasePath + link.LaunchURL,
		Content: LaunchedContent{
			ID:    item.ID,
			Title: item.Title,
			Type:  string(item.Kind),
		},
	})
}

// Serve returns a file from a processed content item. Items the pipeline has
// not finished are not served.
func (h *Handler) Serve(c *gin.Context) {
	id := c.Param("id")
	var item models.Content
	err := h.db.WithContext(c.Request.Context()).Select("id", "content_url").Where("id = ?", id).First(&item).Error
	if err != nil || !item.IsServable() {
		c.Status(http.StatusNotFound)
		return
	}

	dir := filepath.Join(h.opts.ContentRoot, item.ID)
	name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+c.Param("filepath"))))
	if !pathguard.Within(dir, name) {
		c.Status(http.StatusNotFound)
		return
	}
	f, err := os.Open(name)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}
	// c.File would redirect .../index.html and drop the tid query.
	http.ServeContent(c.Writer, c.Request, fi.Name(), fi.ModTime(), f)
}

// RegisterServeRoute registers the route rendered content is served from
func (h *Handler) RegisterServeRoute(r gin.IRoutes) {
	r.GET("/content/:id/*filepath", h.Serve)
}

// RegisterRoutes registers content routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/content", h.Upload)
	rg.GET("/content", h.List)
	rg.GET("/content/:id", h.Get)
	rg.POST("/launch-links", h.CreateLaunchLink)
}
