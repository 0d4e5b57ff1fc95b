package models

import "time"

// Recipient is someone content is issued to
type Recipient struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CompanyID string    `gorm:"not null;default:'default'" json:"company_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// RecipientLabelScore counts passing attempts per (recipient, label).
type RecipientLabelScore struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	UpdatedAt     time.Time `gorm:"column:last_updated" json:"last_updated"`
	RecipientID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_recipient_label" json:"recipient_id"`
	LabelName     string    `gorm:"column:tag_name;not null;uniqueIndex:idx_recipient_label" json:"tag_name"`
	ScoreCount    int       `gorm:"not null;default:0" json:"score_count"`
	TotalAttempts int       `gorm:"not null;default:0" json:"total_attempts"`
}

// TableName returns the table name for RecipientLabelScore
func (RecipientLabelScore) TableName() string { return "recipient_tag_scores" }
