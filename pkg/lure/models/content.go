package models

import (
	"time"
)

// ContentKind is the declared type of an upload. It decides how the pipeline
// handles the item.
type ContentKind string

const (
	KindSCORM   ContentKind = "scorm"
	KindHTML    ContentKind = "html"
	KindRawHTML ContentKind = "raw_html"
	KindLanding ContentKind = "landing"
	KindEmail   ContentKind = "email"
	KindVideo   ContentKind = "video"
)

// ParseContentKind returns the kind named by s, or false if s names none.
func ParseContentKind(s string) (ContentKind, bool) {
	switch k := ContentKind(s); k {
	case KindSCORM, KindHTML, KindRawHTML, KindLanding, KindEmail, KindVideo:
		return k, true
	}
	return "", false
}

// IsArchive reports whether uploads of this kind arrive as a zip archive.
func (k ContentKind) IsArchive() bool {
	return k == KindSCORM || k == KindHTML
}

// Content represents an uploaded, served training item
type Content struct {
	ID          string      `gorm:"primaryKey;type:varchar(32)" json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompanyID   string      `gorm:"not null;index;default:'default'" json:"company_id"`
	Title       string      `gorm:"not null" json:"title"`
	Description string      `json:"description"`
	Kind        ContentKind `gorm:"column:content_type;type:varchar(20);not null" json:"content_type"`

	// URL is the rendered path relative to the content root. It is written last
	// by the pipeline and gates whether the item is ever served.
	URL        *string `gorm:"column:content_url" json:"content_url"`
	PreviewURL string  `gorm:"column:content_preview" json:"content_preview,omitempty"`

	// Tags is a comma-separated summary of the item's labels.
	Tags       string `json:"tags"`
	Difficulty *int   `json:"difficulty,omitempty"` // 1-3, email only

	EmailSubject       string `json:"email_subject,omitempty"`
	EmailFrom          string `gorm:"column:email_from_address" json:"email_from,omitempty"`
	EmailBodyHTML      string `gorm:"type:text" json:"-"`
	AttachmentFilename string `gorm:"column:email_attachment_filename" json:"attachment_filename,omitempty"`
	AttachmentContent  []byte `gorm:"column:email_attachment_content" json:"-"`

	// Relationships
	Labels []ContentLabel `gorm:"foreignKey:ContentID" json:"labels,omitempty"`
}

// TableName keeps the singular table name used by existing deployments.
func (Content) TableName() string { return "content" }

// IsServable reports whether the pipeline has finished with this item.
func (c *Content) IsServable() bool {
	return c.URL != nil && *c.URL != ""
}
