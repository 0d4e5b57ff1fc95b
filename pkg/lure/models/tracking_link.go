package models

import "time"

// LinkStatus is the lifecycle state of a tracking link
type LinkStatus string

const (
	StatusPending LinkStatus = "pending"
	StatusViewed  LinkStatus = "viewed"
	StatusPassed  LinkStatus = "passed"
	StatusFailed  LinkStatus = "failed"
)

// Rank orders statuses so transitions can be checked for regression.
// passed and failed share the terminal rank.
func (s LinkStatus) Rank() int {
	switch s {
	case StatusViewed:
		return 1
	case StatusPassed, StatusFailed:
		return 2
	default:
		return 0
	}
}

// TrackingLink is a per-recipient, per-content token driving the
// view -> interact -> score lifecycle.
type TrackingLink struct {
	ID          string     `gorm:"primaryKey;type:varchar(32)" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RecipientID string     `gorm:"type:varchar(64);not null;index" json:"recipient_id"`
	ContentID   string     `gorm:"type:varchar(32);not null;index" json:"content_id"`
	LaunchURL   string     `json:"launch_url"`
	Status      LinkStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Score       *float64   `json:"score,omitempty"`
}

// TableName returns the table name for TrackingLink
func (TrackingLink) TableName() string { return "tracking_links" }

// Interaction is a single viewer action on a labeled element. Rows are append-only.
type Interaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	TrackingLinkID string    `gorm:"type:varchar(32);not null;index" json:"tracking_link_id"`
	LabelName      string    `gorm:"column:tag_name;not null" json:"tag_name"`
	Kind           string    `gorm:"column:interaction_type;not null" json:"interaction_type"`
	Value          *string   `gorm:"column:interaction_value" json:"interaction_value,omitempty"`
	Success        *bool     `json:"success,omitempty"`
	OccurredAt     time.Time `gorm:"not null" json:"occurred_at"`
}

// TableName returns the table name for Interaction
func (Interaction) TableName() string { return "content_interactions" }
