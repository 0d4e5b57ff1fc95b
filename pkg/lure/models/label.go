package models

import (
	"time"
)

// LabelType discriminates interactive-element tags from phishing cues
type LabelType string

const (
	LabelInteraction LabelType = "interaction-tag"
	LabelPhishingCue LabelType = "phishing-cue"
)

// ContentLabel is a label attached to a content item.
// (content_id, tag_name, tag_type) is unique, so repeated inserts collapse to one row.
type ContentLabel struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ContentID  string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_content_label" json:"content_id"`
	Name       string    `gorm:"column:tag_name;not null;uniqueIndex:idx_content_label" json:"name"`
	Type       LabelType `gorm:"column:tag_type;type:varchar(20);not null;uniqueIndex:idx_content_label" json:"type"`
	Confidence float64   `gorm:"column:confidence_score;default:1" json:"confidence"`
}

// TableName returns the table name for ContentLabel
func (ContentLabel) TableName() string { return "content_tags" }
