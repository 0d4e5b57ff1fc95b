package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// MessageEvent is a lifecycle event recorded on an outbound message
type MessageEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageInteraction mirrors an Interaction row inside an outbound message
type MessageInteraction struct {
	Tag       string    `json:"tag"`
	Type      string    `json:"type"`
	Value     *string   `json:"value"`
	Success   *bool     `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagePayload is the accumulated body published for a tracking link
type MessagePayload struct {
	TrackingLinkID string               `json:"tracking_link_id"`
	RecipientID    string               `json:"recipient_id"`
	ContentID      string               `json:"content_id"`
	Events         []MessageEvent       `json:"events"`
	Interactions   []MessageInteraction `json:"interactions"`
	// Reported holds interactions the client sent along with its final score.
	Reported    []json.RawMessage `json:"reported_interactions,omitempty"`
	FinalScore  *float64          `json:"final_score,omitempty"`
	Status      LinkStatus        `json:"status,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// OutboundMessage accumulates a tracking link's events until it is published.
//
// PendingKey equals TrackingLinkID while the message is unsent and is cleared
// when it is marked sent; its unique index allows at most one unsent message
// per tracking link.
type OutboundMessage struct {
	ID             uint                              `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time                         `json:"created_at"`
	UpdatedAt      time.Time                         `json:"updated_at"`
	TrackingLinkID string                            `gorm:"type:varchar(32);not null;index" json:"tracking_link_id"`
	PendingKey     *string                           `gorm:"type:varchar(32);uniqueIndex" json:"-"`
	Payload        datatypes.JSONType[MessagePayload] `gorm:"column:message_data" json:"message_data"`
	Sent           bool                              `gorm:"not null;default:false;index" json:"sent"`
	SentAt         *time.Time                        `json:"sent_at,omitempty"`
}

// TableName returns the table name for OutboundMessage
func (OutboundMessage) TableName() string { return "outbound_messages" }
