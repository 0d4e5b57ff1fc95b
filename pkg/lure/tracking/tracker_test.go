package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/labels"
	"github.com/mikepea/lure/pkg/lure/models"
	"github.com/mikepea/lure/pkg/lure/notify"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	models.AutoMigrate(db)
	return db
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []models.MessagePayload
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload models.MessagePayload) (notify.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return notify.Ack{}, p.err
	}
	p.payloads = append(p.payloads, payload)
	return notify.Ack{Stream: "test"}, nil
}

type fixture struct {
	db        *gorm.DB
	tracker   *Tracker
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	queue := notify.NewQueue(db, pub, zap.NewNop(), nil)
	return &fixture{
		db:        db,
		tracker:   NewTracker(db, queue, 80, zap.NewNop(), nil),
		publisher: pub,
	}
}

func (f *fixture) createContent(t *testing.T, id string, labelNames ...string) models.Content {
	url := id + "/index.html"
	content := models.Content{ID: id, Title: "Test Content", Kind: models.KindRawHTML, URL: &url}
	if err := f.db.Create(&content).Error; err != nil {
		t.Fatalf("Failed to create content: %v", err)
	}
	if len(labelNames) > 0 {
		labels.NewStore(f.db, zap.NewNop()).Add(context.Background(), id, labelNames, models.LabelInteraction)
	}
	return content
}

func (f *fixture) createLink(t *testing.T, recipientID, contentID string) *models.TrackingLink {
	link, err := f.tracker.CreateLink(context.Background(), recipientID, contentID)
	if err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}
	return link
}

func (f *fixture) reload(t *testing.T, id string) models.TrackingLink {
	var link models.TrackingLink
	if err := f.db.First(&link, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload link: %v", err)
	}
	return link
}

func TestCreateLink(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")

	link := f.createLink(t, "r1", "c1")
	if len(link.ID) != 32 {
		t.Errorf("Expected 32 character id, got %q", link.ID)
	}
	if link.LaunchURL != "/launch?tid="+link.ID {
		t.Errorf("Unexpected launch url %q", link.LaunchURL)
	}
	if link.Status != models.StatusPending {
		t.Errorf("Expected pending, got %s", link.Status)
	}

	other := f.createLink(t, "r1", "c1")
	if other.ID == link.ID {
		t.Error("Expected unique link ids")
	}
}

func TestEnsureRecipientIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := models.Recipient{ID: "preview", CompanyID: "system", Email: "preview@system.local"}

	if err := f.tracker.EnsureRecipient(ctx, r); err != nil {
		t.Fatalf("First EnsureRecipient failed: %v", err)
	}
	if err := f.tracker.EnsureRecipient(ctx, r); err != nil {
		t.Fatalf("Second EnsureRecipient failed: %v", err)
	}

	var count int64
	f.db.Model(&models.Recipient{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 recipient, got %d", count)
	}
}

func TestRecordView(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")
	link := f.createLink(t, "r1", "c1")
	ctx := context.Background()

	if err := f.tracker.RecordView(ctx, link.ID); err != nil {
		t.Fatalf("RecordView failed: %v", err)
	}
	first := f.reload(t, link.ID)
	if first.Status != models.StatusViewed || first.ViewedAt == nil {
		t.Fatalf("Expected viewed with timestamp, got %+v", first)
	}

	if err := f.tracker.RecordView(ctx, link.ID); err != nil {
		t.Fatalf("Repeat RecordView failed: %v", err)
	}
	second := f.reload(t, link.ID)
	if !second.ViewedAt.Equal(*first.ViewedAt) {
		t.Error("Repeat view must not move viewed_at")
	}

	var msg models.OutboundMessage
	f.db.Where("tracking_link_id = ?", link.ID).First(&msg)
	if n := len(msg.Payload.Data().Events); n != 2 {
		t.Errorf("Expected 2 viewed events queued, got %d", n)
	}
}

func TestRecordViewUnknownLink(t *testing.T) {
	f := newFixture(t)
	err := f.tracker.RecordView(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")
	link := f.createLink(t, "r1", "c1")
	ctx := context.Background()

	f.tracker.RecordView(ctx, link.ID)
	f.tracker.RecordScore(ctx, link.ID, 95, nil)
	f.tracker.RecordView(ctx, link.ID)

	if got := f.reload(t, link.ID).Status; got != models.StatusPassed {
		t.Errorf("Expected status to stay passed, got %s", got)
	}
}

func TestRecordInteraction(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")
	link := f.createLink(t, "r1", "c1")
	ctx := context.Background()

	value := "secret"
	err := f.tracker.RecordInteraction(ctx, link.ID, InteractionInput{Label: "password-security", Kind: "input", Value: &value})
	if err != nil {
		t.Fatalf("RecordInteraction failed: %v", err)
	}

	var rows []models.Interaction
	f.db.Where("tracking_link_id = ?", link.ID).Find(&rows)
	if len(rows) != 1 || rows[0].LabelName != "password-security" || *rows[0].Value != "secret" {
		t.Errorf("Unexpected interaction rows: %+v", rows)
	}

	if got := f.reload(t, link.ID).Status; got != models.StatusPending {
		t.Errorf("Interactions must not change status, got %s", got)
	}

	var msg models.OutboundMessage
	f.db.Where("tracking_link_id = ?", link.ID).First(&msg)
	if n := len(msg.Payload.Data().Interactions); n != 1 {
		t.Errorf("Expected 1 queued interaction, got %d", n)
	}
}

func TestRecordInteractionValidation(t *testing.T) {
	f := newFixture(t)
	err := f.tracker.RecordInteraction(context.Background(), "any", InteractionInput{Kind: "click"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestRecordScoreThreshold(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")
	ctx := context.Background()

	pass := f.createLink(t, "r1", "c1")
	result, err := f.tracker.RecordScore(ctx, pass.ID, 80, nil)
	if err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if result.Status != models.StatusPassed || !result.Published {
		t.Errorf("Expected 80 to pass and publish, got %+v", result)
	}

	fail := f.createLink(t, "r1", "c1")
	result, err = f.tracker.RecordScore(ctx, fail.ID, 79, nil)
	if err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if result.Status != models.StatusFailed {
		t.Errorf("Expected 79 to fail, got %s", result.Status)
	}

	stored := f.reload(t, fail.ID)
	if stored.Score == nil || *stored.Score != 79 || stored.CompletedAt == nil {
		t.Errorf("Score not stored: %+v", stored)
	}

	near := f.createLink(t, "r1", "c1")
	result, err = f.tracker.RecordScore(ctx, near.ID, 79.99, nil)
	if err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if result.Status != models.StatusFailed || result.Score != 79.99 {
		t.Errorf("Expected 79.99 to fail unrounded, got %+v", result)
	}
}

func TestRecordScoreCreditsLabelsOncePerLink(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1", "phishing")
	ctx := context.Background()

	link := f.createLink(t, "r1", "c1")
	for _, score := range []float64{90, 95} {
		if _, err := f.tracker.RecordScore(ctx, link.ID, score, nil); err != nil {
			t.Fatalf("RecordScore failed: %v", err)
		}
	}

	var s models.RecipientLabelScore
	if err := f.db.Where("recipient_id = ? AND tag_name = ?", "r1", "phishing").First(&s).Error; err != nil {
		t.Fatalf("Expected a label score: %v", err)
	}
	if s.ScoreCount != 1 || s.TotalAttempts != 1 {
		t.Errorf("Expected counters of 1 after passing one link twice, got %d/%d", s.ScoreCount, s.TotalAttempts)
	}
	if got := f.reload(t, link.ID); got.Score == nil || *got.Score != 95 {
		t.Errorf("Expected the latest score to be stored, got %+v", got.Score)
	}
}

func TestRecordScoreCreditsLabelsOnPassOnly(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1", "phishing", "malware")
	ctx := context.Background()

	f.tracker.RecordScore(ctx, f.createLink(t, "r1", "c1").ID, 50, nil)
	var count int64
	f.db.Model(&models.RecipientLabelScore{}).Count(&count)
	if count != 0 {
		t.Fatalf("Expected no label scores after a fail, got %d", count)
	}

	f.tracker.RecordScore(ctx, f.createLink(t, "r1", "c1").ID, 90, nil)
	f.tracker.RecordScore(ctx, f.createLink(t, "r1", "c1").ID, 100, nil)

	var scores []models.RecipientLabelScore
	f.db.Where("recipient_id = ?", "r1").Order("tag_name").Find(&scores)
	if len(scores) != 2 {
		t.Fatalf("Expected 2 label scores, got %d", len(scores))
	}
	for _, s := range scores {
		if s.ScoreCount != 2 || s.TotalAttempts != 2 {
			t.Errorf("Expected counters of 2 for %s, got %d/%d", s.LabelName, s.ScoreCount, s.TotalAttempts)
		}
	}
}

func TestRecordScorePublishesFinalMessage(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")
	link := f.createLink(t, "r1", "c1")
	ctx := context.Background()

	f.tracker.RecordView(ctx, link.ID)
	f.tracker.RecordInteraction(ctx, link.ID, InteractionInput{Label: "phishing", Kind: "click"})
	reported := []json.RawMessage{json.RawMessage(`{"tag":"phishing","type":"click"}`)}
	if _, err := f.tracker.RecordScore(ctx, link.ID, 85, reported); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}

	if len(f.publisher.payloads) != 1 {
		t.Fatalf("Expected 1 published payload, got %d", len(f.publisher.payloads))
	}
	p := f.publisher.payloads[0]
	if p.RecipientID != "r1" || p.ContentID != "c1" {
		t.Errorf("Unexpected ids in payload: %+v", p)
	}
	if len(p.Events) != 1 || len(p.Interactions) != 1 || len(p.Reported) != 1 {
		t.Errorf("Expected 1 event, 1 interaction, 1 reported; got %d, %d, %d", len(p.Events), len(p.Interactions), len(p.Reported))
	}
	if p.FinalScore == nil || *p.FinalScore != 85 || p.Status != models.StatusPassed {
		t.Errorf("Expected final score 85 passed, got %+v", p)
	}
}

func TestRecordScorePublishFailure(t *testing.T) {
	f := newFixture(t)
	f.createContent(t, "c1")
	link := f.createLink(t, "r1", "c1")
	f.publisher.err = errors.New("broker down")

	_, err := f.tracker.RecordScore(context.Background(), link.ID, 90, nil)
	if !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("Expected external service error, got %v", err)
	}

	if got := f.reload(t, link.ID).Status; got != models.StatusPassed {
		t.Errorf("Score should be committed despite publish failure, got %s", got)
	}

	var msg models.OutboundMessage
	f.db.Where("tracking_link_id = ?", link.ID).First(&msg)
	if msg.Sent {
		t.Error("Message must stay unsent after a failed publish")
	}
}

func TestRecordScoreValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.tracker.RecordScore(context.Background(), "x", 101, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
