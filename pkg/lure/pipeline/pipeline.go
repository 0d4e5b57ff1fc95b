// Package pipeline turns an upload into served content: it unpacks archives,
// finds the entry document, annotates it, mirrors referenced assets, injects
// the tracking script, stores the result and issues a preview link.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/annotation"
	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/metrics"
	"github.com/mikepea/lure/pkg/lure/models"
	"github.com/mikepea/lure/pkg/lure/tracking"
)

// Annotator labels documents through the remote annotation service. The
// Fragment variants are used for chunks and must return the chunk unchanged
// apart from added label attributes.
type Annotator interface {
	TagInteractive(ctx context.Context, doc string) (annotation.Result, error)
	TagPhishingCues(ctx context.Context, doc string) (annotation.Result, error)
	TagInteractiveFragment(ctx context.Context, fragment string) (annotation.Result, error)
	TagPhishingCuesFragment(ctx context.Context, fragment string) (annotation.Result, error)
}

// AssetMirror copies referenced assets into a content directory.
type AssetMirror interface {
	Mirror(ctx context.Context, doc, contentID string) string
}

// LabelStore persists content labels.
type LabelStore interface {
	Add(ctx context.Context, contentID string, names []string, typ models.LabelType) error
}

// LinkIssuer creates recipients and tracking links.
type LinkIssuer interface {
	EnsureRecipient(ctx context.Context, r models.Recipient) error
	CreateLink(ctx context.Context, recipientID, contentID string) (*models.TrackingLink, error)
}

// Options configures a Processor.
type Options struct {
	ContentRoot      string
	EntryDocument    string
	BasePath         string // path prefix the app is mounted under
	BaseURL          string // public origin used for preview links
	ChunkThreshold   int
	MaxBytes         int
	Strict           bool
	MaxExtractBytes  int64
	PreviewRecipient string
}

const (
	defaultEntryDocument   = "index.html"
	defaultMaxExtractBytes = 1 << 30
	defaultChunkThreshold  = 150_000
	defaultMaxBytes        = 500_000
)

// Processor runs uploads through the content pipeline.
type Processor struct {
	db        *gorm.DB
	annotator Annotator
	mirror    AssetMirror
	labels    LabelStore
	links     LinkIssuer
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a Processor.
func New(db *gorm.DB, annotator Annotator, mirror AssetMirror, labels LabelStore, links LinkIssuer, opts Options, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if opts.EntryDocument == "" {
		opts.EntryDocument = defaultEntryDocument
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = defaultMaxExtractBytes
	}
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = defaultChunkThreshold
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.PreviewRecipient == "" {
		opts.PreviewRecipient = "preview"
	}
	opts.BasePath = strings.TrimRight(opts.BasePath, "/")
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Processor{
		db:        db,
		annotator: annotator,
		mirror:    mirror,
		labels:    labels,
		links:     links,
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

// Metadata describes an upload.
type Metadata struct {
	Title       string
	Description string
	CompanyID   string
}

// Outcome reports what the pipeline did with an upload.
type Outcome struct {
	Content  *models.Content
	Labels   []string
	Strategy Strategy
	Chunks   int
}

// Ingest records a new content item and processes u into it. On failure the
// item and its directory are removed, so a rejected upload leaves nothing
// behind.
func (p *Processor) Ingest(ctx context.Context, meta Metadata, u Upload) (*Outcome, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	c := &models.Content{
		ID:          tracking.NewID(),
		CompanyID:   meta.CompanyID,
		Title:       strings.TrimSpace(meta.Title),
		Description: meta.Description,
		Kind:        u.Kind(),
	}
	if c.CompanyID == "" {
		c.CompanyID = "default"
	}
	if c.Title == "" {
		c.Title = "Untitled Content"
	}
	if e, ok := u.(EmailUpload); ok {
		c.EmailSubject = e.Subject
		c.EmailFrom = e.From
		c.EmailBodyHTML = e.HTML
		if e.Attachment != nil {
			c.AttachmentFilename, _ = attachmentName(e.Attachment.Filename)
			c.AttachmentContent = e.Attachment.Data
		}
	}

	if err := p.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, apperr.Persistence(err, "failed to create content")
	}

	out, err := p.Process(ctx, c, u)
	p.metrics.PipelineRun(string(c.Kind), err)
	if err != nil {
		p.logger.Error("content processing failed",
			zap.String("content_id", c.ID),
			zap.String("kind", string(c.Kind)),
			zap.Error(err))
		p.discard(c.ID)
		return nil, err
	}

	if err := p.IssuePreview(ctx, c); err != nil {
		p.logger.Warn("could not issue preview link",
			zap.String("content_id", c.ID),
			zap.Error(err))
	}
	return out, nil
}

// Process runs an existing content item through the pipeline. The rendered
// path is written last; until then the item is not served.
func (p *Processor) Process(ctx context.Context, c *models.Content, u Upload) (*Outcome, error) {
	dir := filepath.Join(p.opts.ContentRoot, c.ID)
	log := p.logger.With(zap.String("content_id", c.ID), zap.String("kind", string(c.Kind)))

	if v, ok := u.(VideoUpload); ok {
		return p.storeVideo(ctx, c, dir, v)
	}

	entry, doc, err := p.intake(dir, u)
	if err != nil {
		return nil, err
	}

	ann, err := p.annotate(ctx, c, doc)
	if err != nil {
		return nil, err
	}
	log.Info("document annotated",
		zap.String("strategy", string(ann.strategy)),
		zap.Int("chunks", ann.chunks),
		zap.Int("labels", len(ann.labels)))

	doc = ann.doc
	if p.mirror != nil {
		doc = p.mirror.Mirror(ctx, doc, c.ID)
	}
	doc = injectBaseTag(doc, p.baseHref(c.ID, entry))
	doc = injectScript(doc, tracking.Script(p.opts.BasePath+"/api"))

	if err := writeFileAtomic(filepath.Join(dir, filepath.FromSlash(entry)), []byte(doc)); err != nil {
		return nil, apperr.Persistence(err, "failed to write %s", entry)
	}

	if err := p.labels.Add(ctx, c.ID, ann.labels, ann.labelType); err != nil {
		return nil, err
	}

	url := c.ID + "/" + entry
	if err := p.db.WithContext(ctx).Model(c).Updates(map[string]any{
		"content_url": url,
		"difficulty":  ann.difficulty,
	}).Error; err != nil {
		return nil, apperr.Persistence(err, "failed to update content")
	}
	c.URL = &url
	c.Difficulty = ann.difficulty

	return &Outcome{Content: c, Labels: ann.labels, Strategy: ann.strategy, Chunks: ann.chunks}, nil
}

// intake puts the upload's files in dir and returns the entry document's
// slash-separated path within it along with its markup.
func (p *Processor) intake(dir string, u Upload) (entry, doc string, err error) {
	switch u := u.(type) {
	case ArchiveUpload:
		err = extractArchive(u.Source, dir, p.opts.MaxExtractBytes)
		if rmErr := os.Remove(u.Source); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn("could not remove uploaded archive", zap.String("path", u.Source), zap.Error(rmErr))
		}
		if err != nil {
			return "", "", err
		}
		entry, err = findEntryDocument(dir, p.opts.EntryDocument)
		if err != nil {
			return "", "", err
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(entry)))
		if err != nil {
			return "", "", apperr.Persistence(err, "failed to read %s", entry)
		}
		return entry, string(data), nil

	case MarkupUpload:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", apperr.Persistence(err, "failed to create content directory")
		}
		return p.opts.EntryDocument, u.HTML, nil

	case EmailUpload:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", apperr.Persistence(err, "failed to create content directory")
		}
		if a := u.Attachment; a != nil {
			name, err := attachmentName(a.Filename)
			if err != nil {
				return "", "", err
			}
			if strings.EqualFold(name, p.opts.EntryDocument) {
				return "", "", apperr.Validation("attachment may not be named %s", p.opts.EntryDocument)
			}
			if err := writeFileAtomic(filepath.Join(dir, name), a.Data); err != nil {
				return "", "", apperr.Persistence(err, "failed to write attachment")
			}
		}
		return p.opts.EntryDocument, u.HTML, nil
	}
	return "", "", apperr.Validation("unsupported upload %T", u)
}

// storeVideo moves the video into the content directory. Videos are served
// as-is.
func (p *Processor) storeVideo(ctx context.Context, c *models.Content, dir string, v VideoUpload) (*Outcome, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Persistence(err, "failed to create content directory")
	}
	name := "video." + v.ext()
	if err := moveFile(v.Source, filepath.Join(dir, name)); err != nil {
		return nil, apperr.Persistence(err, "failed to store video")
	}

	url := c.ID + "/" + name
	if err := p.db.WithContext(ctx).Model(c).Update("content_url", url).Error; err != nil {
		return nil, apperr.Persistence(err, "failed to update content")
	}
	c.URL = &url
	return &Outcome{Content: c}, nil
}

// IssuePreview creates a tracking link for the preview recipient and stores
// its launch URL on the content item.
func (p *Processor) IssuePreview(ctx context.Context, c *models.Content) error {
	err := p.links.EnsureRecipient(ctx, models.Recipient{
		ID:        p.opts.PreviewRecipient,
		CompanyID: "system",
		Email:     "preview@system.local",
		FirstName: "Preview",
		LastName:  "User",
	})
	if err != nil {
		return err
	}

	link, err := p.links.CreateLink(ctx, p.opts.PreviewRecipient, c.ID)
	if err != nil {
		return err
	}

	preview := p.opts.BaseURL + p.opts.BasePath + link.LaunchURL
	if err := p.db.WithContext(ctx).Model(c).Update("content_preview", preview).Error; err != nil {
		return apperr.Persistence(err, "failed to store preview link")
	}
	c.PreviewURL = preview
	return nil
}

// baseHref is the URL of the directory holding the entry document.
func (p *Processor) baseHref(contentID, entry string) string {
	dir := path.Dir(entry)
	href := p.opts.BasePath + "/content/" + contentID + "/"
	if dir != "." {
		href += dir + "/"
	}
	return href
}

// discard removes what a failed run left behind.
func (p *Processor) discard(contentID string) {
	log := p.logger.With(zap.String("content_id", contentID))
	if err := os.RemoveAll(filepath.Join(p.opts.ContentRoot, contentID)); err != nil {
		log.Warn("could not remove content directory", zap.Error(err))
	}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("content_id = ?", contentID).Delete(&models.ContentLabel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", contentID).Delete(&models.Content{}).Error
	})
	if err != nil {
		log.Warn("could not remove content record", zap.Error(err))
	}
}

func writeFileAtomic(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".write-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
