// Package tracking drives the tracking-link lifecycle: issuing links,
// recording views, interactions and scores, and handing the resulting events
// to the notification queue.
package tracking

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/database"
	"github.com/mikepea/lure/pkg/lure/labels"
	"github.com/mikepea/lure/pkg/lure/metrics"
	"github.com/mikepea/lure/pkg/lure/models"
	"github.com/mikepea/lure/pkg/lure/notify"
)

// DefaultPassingScore is the lowest score that counts as a pass.
const DefaultPassingScore = 80

// Tracker records viewer activity against tracking links.
type Tracker struct {
	db           *gorm.DB
	queue        *notify.Queue
	passingScore int
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewTracker creates a Tracker. passingScore <= 0 uses DefaultPassingScore.
func NewTracker(db *gorm.DB, queue *notify.Queue, passingScore int, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	if passingScore <= 0 {
		passingScore = DefaultPassingScore
	}
	return &Tracker{
		db:           db,
		queue:        queue,
		passingScore: passingScore,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// NewID returns a random 32-character hex token.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// LaunchPath is the relative launch URL for a tracking link.
func LaunchPath(linkID string) string {
	return "/launch?tid=" + linkID
}

// EnsureRecipient creates r unless a recipient with its id already exists.
func (t *Tracker) EnsureRecipient(ctx context.Context, r models.Recipient) error {
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&r).Error
	if err != nil && !database.IsDuplicateKey(err) {
		return apperr.Persistence(err, "failed to create recipient")
	}
	return nil
}

// CreateLink issues a pending tracking link for a recipient and content item.
func (t *Tracker) CreateLink(ctx context.Context, recipientID, contentID string) (*models.TrackingLink, error) {
	id := NewID()
	link := &models.TrackingLink{
		ID:          id,
		RecipientID: recipientID,
		ContentID:   contentID,
		LaunchURL:   LaunchPath(id),
		Status:      models.StatusPending,
	}
	if err := t.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, apperr.Persistence(err, "failed to create tracking link")
	}
	return link, nil
}

// Link loads a tracking link.
func (t *Tracker) Link(ctx context.Context, linkID string) (*models.TrackingLink, error) {
	if linkID == "" {
		return nil, apperr.Validation("tracking_link_id is required")
	}
	var link models.TrackingLink
	err := t.db.WithContext(ctx).Where("id = ?", linkID).First(&link).Error
	if database.IsNotFound(err) {
		return nil, apperr.NotFound("tracking link %s not found", linkID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load tracking link")
	}
	return &link, nil
}

// RecordView marks a pending link viewed and queues a "viewed" event. Later
// views queue further events but leave the status alone.
func (t *Tracker) RecordView(ctx context.Context, linkID string) error {
	link, err := t.Link(ctx, linkID)
	if err != nil {
		return err
	}

	now := t.now()
	// The status guard keeps the transition one-way even if views race.
	res := t.db.WithContext(ctx).Model(&models.TrackingLink{}).
		Where("id = ? AND status = ?", link.ID, models.StatusPending).
		Updates(map[string]interface{}{"status": models.StatusViewed, "viewed_at": now})
	if res.Error != nil {
		return apperr.Persistence(res.Error, "failed to update tracking link")
	}

	t.metrics.TrackingEvent("view")
	return t.queue.AppendEvent(ctx, link, "viewed")
}

// InteractionInput is one viewer action on a labeled element.
type InteractionInput struct {
	Label   string
	Kind    string
	Value   *string
	Success *bool
}

// RecordInteraction stores an interaction row and queues it. It never
// changes the link's status.
func (t *Tracker) RecordInteraction(ctx context.Context, linkID string, in InteractionInput) error {
	if in.Label == "" || in.Kind == "" {
		return apperr.Validation("tag_name and interaction_type are required")
	}
	link, err := t.Link(ctx, linkID)
	if err != nil {
		return err
	}

	now := t.now().UTC()
	row := models.Interaction{
		TrackingLinkID: link.ID,
		LabelName:      in.Label,
		Kind:           in.Kind,
		Value:          in.Value,
		Success:        in.Success,
		OccurredAt:     now,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperr.Persistence(err, "failed to record interaction")
	}

	t.metrics.TrackingEvent("interaction")
	return t.queue.AppendInteraction(ctx, link, models.MessageInteraction{
		Tag:       in.Label,
		Type:      in.Kind,
		Value:     in.Value,
		Success:   in.Success,
		Timestamp: now,
	})
}

// ScoreResult is the outcome of RecordScore.
type ScoreResult struct {
	Score     float64           `json:"score"`
	Status    models.LinkStatus `json:"status"`
	Published bool              `json:"published"`
}

// RecordScore completes a link. Scores at or above the passing threshold
// pass, compared unrounded; when the link first passes, every distinct label of the link's content gets its
// recipient counters bumped. The final state is queued and flushed; a flush
// failure is returned after the score has been committed.
func (t *Tracker) RecordScore(ctx context.Context, linkID string, score float64, reported []json.RawMessage) (ScoreResult, error) {
	if score < 0 || score > 100 {
		return ScoreResult{}, apperr.Validation("score must be between 0 and 100")
	}
	link, err := t.Link(ctx, linkID)
	if err != nil {
		return ScoreResult{}, err
	}

	status := models.StatusFailed
	if score >= float64(t.passingScore) {
		status = models.StatusPassed
	}
	result := ScoreResult{Score: score, Status: status}

	now := t.now()
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.TrackingLink{}).
			Where("id = ?", link.ID).
			Updates(map[string]interface{}{"score": score, "completed_at": now}).Error
		if err != nil {
			return err
		}
		// Labels are credited only on the transition into passed, so a
		// repeated passing score does not count twice.
		res := tx.Model(&models.TrackingLink{}).
			Where("id = ? AND status <> ?", link.ID, status).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if status != models.StatusPassed || res.RowsAffected == 0 {
			return nil
		}
		return t.creditLabels(ctx, tx, link, now)
	})
	if err != nil {
		return result, apperr.Persistence(err, "failed to record score")
	}

	t.metrics.TrackingEvent("score")
	if err := t.queue.SetFinal(ctx, link, score, status, reported); err != nil {
		return result, err
	}

	published, err := t.queue.Flush(ctx, link.ID)
	result.Published = published
	return result, err
}

// creditLabels increments the recipient's counters for each label on the
// link's content. Both counters move together, so total_attempts counts
// passing attempts only.
func (t *Tracker) creditLabels(ctx context.Context, tx *gorm.DB, link *models.TrackingLink, now time.Time) error {
	names, err := labels.NewStore(tx, t.logger).Names(ctx, link.ContentID)
	if err != nil {
		return err
	}

	for _, name := range names {
		row := models.RecipientLabelScore{
			RecipientID:   link.RecipientID,
			LabelName:     name,
			ScoreCount:    1,
			TotalAttempts: 1,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "recipient_id"}, {Name: "tag_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"score_count":    gorm.Expr("recipient_tag_scores.score_count + 1"),
				"total_attempts": gorm.Expr("recipient_tag_scores.total_attempts + 1"),
				"last_updated":   now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
	}
	return nil
}
