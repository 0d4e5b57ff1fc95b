// Package notify accumulates a tracking link's events into a single outbound
// message and publishes each accumulated message at most once.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/database"
	"github.com/mikepea/lure/pkg/lure/metrics"
	"github.com/mikepea/lure/pkg/lure/models"
)

// Queue owns the unsent OutboundMessage of every tracking link.
//
// All changes to a link's message happen under a per-link lock inside a
// transaction. The unique pending key on outbound_messages backs this up
// across processes: a second unsent row for the same link cannot be created.
type Queue struct {
	db        *gorm.DB
	publisher Publisher
	locks     *keyedMutex
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewQueue creates a Queue
func NewQueue(db *gorm.DB, publisher Publisher, logger *zap.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		db:        db,
		publisher: publisher,
		locks:     newKeyedMutex(),
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// AppendEvent adds a lifecycle event such as "viewed".
func (q *Queue) AppendEvent(ctx context.Context, link *models.TrackingLink, event string) error {
	at := q.now().UTC()
	return q.update(ctx, link, func(p *models.MessagePayload) {
		p.Events = append(p.Events, models.MessageEvent{Event: event, Timestamp: at})
	})
}

// AppendInteraction adds one interaction entry.
func (q *Queue) AppendInteraction(ctx context.Context, link *models.TrackingLink, in models.MessageInteraction) error {
	if in.Timestamp.IsZero() {
		in.Timestamp = q.now().UTC()
	}
	return q.update(ctx, link, func(p *models.MessagePayload) {
		p.Interactions = append(p.Interactions, in)
	})
}

// SetFinal records the final score and status, plus any interactions the
// client reported with it.
func (q *Queue) SetFinal(ctx context.Context, link *models.TrackingLink, score float64, status models.LinkStatus, reported []json.RawMessage) error {
	at := q.now().UTC()
	return q.update(ctx, link, func(p *models.MessagePayload) {
		p.FinalScore = &score
		p.Status = status
		p.CompletedAt = &at
		p.Reported = append(p.Reported, reported...)
	})
}

// Pending returns the unsent message for a link, or nil if there is none.
func (q *Queue) Pending(ctx context.Context, linkID string) (*models.OutboundMessage, error) {
	var msg models.OutboundMessage
	res := q.db.WithContext(ctx).Where("pending_key = ?", linkID).Limit(1).Find(&msg)
	if res.Error != nil {
		return nil, apperr.Persistence(res.Error, "failed to load outbound message")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &msg, nil
}

// Flush publishes the link's unsent message and marks it sent. It reports
// whether anything was published; with no unsent message it does nothing.
// A publish failure leaves the message unsent and is returned.
func (q *Queue) Flush(ctx context.Context, linkID string) (bool, error) {
	unlock := q.locks.Lock(linkID)
	defer unlock()

	msg, err := q.Pending(ctx, linkID)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	ack, err := q.publisher.Publish(ctx, messageID(msg), msg.Payload.Data())
	q.metrics.Flush(err)
	if err != nil {
		q.logger.Error("failed to publish outbound message",
			zap.String("tracking_link_id", linkID),
			zap.Uint("message_id", msg.ID),
			zap.Error(err))
		return false, apperr.ExternalService(err, "failed to publish outbound message")
	}

	sentAt := q.now().UTC()
	err = q.db.WithContext(ctx).Model(msg).Updates(map[string]interface{}{
		"sent":        true,
		"sent_at":     sentAt,
		"pending_key": nil,
	}).Error
	if err != nil {
		// Published but not marked. A retry republishes under the same message
		// id, which the broker drops as a duplicate.
		q.logger.Error("published outbound message could not be marked sent",
			zap.String("tracking_link_id", linkID),
			zap.Uint("message_id", msg.ID),
			zap.Error(err))
		return true, apperr.Persistence(err, "failed to mark outbound message sent")
	}

	q.logger.Debug("outbound message published",
		zap.String("tracking_link_id", linkID),
		zap.String("stream", ack.Stream),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))
	return true, nil
}

func (q *Queue) update(ctx context.Context, link *models.TrackingLink, apply func(*models.MessagePayload)) error {
	unlock := q.locks.Lock(link.ID)
	defer unlock()

	// Another process may create the pending row between our read and insert;
	// the unique key rejects our insert and the second pass appends to theirs.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return q.applyTx(tx, link, apply)
		})
		if !database.IsDuplicateKey(err) {
			break
		}
	}
	if err != nil {
		return apperr.Persistence(err, "failed to update outbound message")
	}
	return nil
}

func (q *Queue) applyTx(tx *gorm.DB, link *models.TrackingLink, apply func(*models.MessagePayload)) error {
	var msg models.OutboundMessage
	res := tx.Where("pending_key = ?", link.ID).Limit(1).Find(&msg)
	switch {
	case res.Error != nil:
		return res.Error

	case res.RowsAffected > 0:
		p := msg.Payload.Data()
		apply(&p)
		return tx.Model(&msg).Update("message_data", datatypes.NewJSONType(p)).Error

	default:
		p := models.MessagePayload{
			TrackingLinkID: link.ID,
			RecipientID:    link.RecipientID,
			ContentID:      link.ContentID,
			Events:         []models.MessageEvent{},
			Interactions:   []models.MessageInteraction{},
		}
		apply(&p)
		key := link.ID
		return tx.Create(&models.OutboundMessage{
			TrackingLinkID: link.ID,
			PendingKey:     &key,
			Payload:        datatypes.NewJSONType(p),
		}).Error
	}
}

func messageID(msg *models.OutboundMessage) string {
	return fmt.Sprintf("lure-%s-%d", msg.TrackingLinkID, msg.ID)
}
