package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/models"
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
	ids      []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msgID string, payload models.MessagePayload) (Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Ack{}, p.err
	}
	p.payloads = append(p.payloads, payload)
	p.ids = append(p.ids, msgID)
	return Ack{Stream: "test", Sequence: uint64(len(p.payloads))}, nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func testLink() *models.TrackingLink {
	return &models.TrackingLink{ID: "link1", RecipientID: "r1", ContentID: "c1"}
}

func TestAppendCreatesSeededMessage(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueue(db, &recordingPublisher{}, zap.NewNop(), nil)
	ctx := context.Background()

	if err := q.AppendEvent(ctx, testLink(), "viewed"); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	msg, err := q.Pending(ctx, "link1")
	if err != nil || msg == nil {
		t.Fatalf("Expected pending message, got %v, %v", msg, err)
	}
	p := msg.Payload.Data()
	if p.RecipientID != "r1" || p.ContentID != "c1" || p.TrackingLinkID != "link1" {
		t.Errorf("Payload not seeded from link: %+v", p)
	}
	if len(p.Events) != 1 || p.Events[0].Event != "viewed" {
		t.Errorf("Expected one viewed event, got %+v", p.Events)
	}
}

func TestAppendsAccumulateInOneMessage(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueue(db, &recordingPublisher{}, zap.NewNop(), nil)
	ctx := context.Background()
	link := testLink()

	value := "hunter2"
	ok := false
	q.AppendEvent(ctx, link, "viewed")
	q.AppendInteraction(ctx, link, models.MessageInteraction{Tag: "password-security", Type: "input", Value: &value, Success: &ok})
	q.AppendInteraction(ctx, link, models.MessageInteraction{Tag: "phishing", Type: "click"})
	q.SetFinal(ctx, link, 90, models.StatusPassed, []json.RawMessage{json.RawMessage(`{"tag":"phishing"}`)})

	var count int64
	db.Model(&models.OutboundMessage{}).Count(&count)
	if count != 1 {
		t.Fatalf("Expected 1 outbound message, got %d", count)
	}

	msg, _ := q.Pending(ctx, "link1")
	p := msg.Payload.Data()
	if len(p.Events) != 1 || len(p.Interactions) != 2 {
		t.Errorf("Expected 1 event and 2 interactions, got %d and %d", len(p.Events), len(p.Interactions))
	}
	if p.Interactions[0].Tag != "password-security" || *p.Interactions[0].Value != "hunter2" {
		t.Errorf("Interactions out of order: %+v", p.Interactions)
	}
	if p.FinalScore == nil || *p.FinalScore != 90 || p.Status != models.StatusPassed || p.CompletedAt == nil {
		t.Errorf("Final state not recorded: %+v", p)
	}
	if len(p.Reported) != 1 {
		t.Errorf("Expected reported interactions to be kept, got %d", len(p.Reported))
	}
}

func TestFlushTwicePublishesOnce(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	q := NewQueue(db, pub, zap.NewNop(), nil)
	ctx := context.Background()

	q.AppendEvent(ctx, testLink(), "viewed")

	published, err := q.Flush(ctx, "link1")
	if err != nil || !published {
		t.Fatalf("First flush: published=%v err=%v", published, err)
	}
	published, err = q.Flush(ctx, "link1")
	if err != nil || published {
		t.Fatalf("Second flush should be a no-op: published=%v err=%v", published, err)
	}

	if pub.count() != 1 {
		t.Errorf("Expected publisher to be called once, got %d", pub.count())
	}

	var msg models.OutboundMessage
	db.First(&msg)
	if !msg.Sent || msg.SentAt == nil || msg.PendingKey != nil {
		t.Errorf("Expected message marked sent, got %+v", msg)
	}
}

func TestFlushWithNothingPending(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	q := NewQueue(db, pub, zap.NewNop(), nil)

	published, err := q.Flush(context.Background(), "nope")
	if err != nil || published {
		t.Errorf("Expected no-op, got published=%v err=%v", published, err)
	}
	if pub.count() != 0 {
		t.Error("Publisher should not be called")
	}
}

func TestFlushPublishFailureLeavesMessageUnsent(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	q := NewQueue(db, pub, zap.NewNop(), nil)
	ctx := context.Background()

	q.AppendEvent(ctx, testLink(), "viewed")

	_, err := q.Flush(ctx, "link1")
	if !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("Expected external service error, got %v", err)
	}

	msg, _ := q.Pending(ctx, "link1")
	if msg == nil || msg.Sent {
		t.Fatal("Expected message to remain unsent")
	}

	pub.err = nil
	published, err := q.Flush(ctx, "link1")
	if err != nil || !published {
		t.Fatalf("Retry flush failed: published=%v err=%v", published, err)
	}
	if pub.count() != 1 {
		t.Errorf("Expected one successful publish, got %d", pub.count())
	}
}

func TestEventsAfterFlushStartNewMessage(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	q := NewQueue(db, pub, zap.NewNop(), nil)
	ctx := context.Background()
	link := testLink()

	q.AppendEvent(ctx, link, "viewed")
	q.Flush(ctx, link.ID)
	q.AppendEvent(ctx, link, "viewed")

	var count int64
	db.Model(&models.OutboundMessage{}).Count(&count)
	if count != 2 {
		t.Errorf("Expected a new message after flush, got %d rows", count)
	}

	msg, _ := q.Pending(ctx, link.ID)
	if msg == nil || len(msg.Payload.Data().Events) != 1 {
		t.Error("Expected the new pending message to hold only the later event")
	}

	q.Flush(ctx, link.ID)
	if len(pub.ids) != 2 || pub.ids[0] == pub.ids[1] {
		t.Errorf("Expected distinct message ids, got %v", pub.ids)
	}
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	db := setupTestDB(t)
	q := NewQueue(db, &recordingPublisher{}, zap.NewNop(), nil)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.AppendInteraction(ctx, testLink(), models.MessageInteraction{Tag: "phishing", Type: "click"}); err != nil {
				t.Errorf("AppendInteraction failed: %v", err)
			}
		}()
	}
	wg.Wait()

	msg, _ := q.Pending(ctx, "link1")
	if msg == nil {
		t.Fatal("Expected pending message")
	}
	if got := len(msg.Payload.Data().Interactions); got != n {
		t.Errorf("Expected %d interactions, got %d", n, got)
	}
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("Expected lock table to be empty, got %d entries", len(k.locks))
	}
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zap.NewNop())
	ack, err := p.Publish(context.Background(), "id", models.MessagePayload{TrackingLinkID: "l"})
	if err != nil || ack.Stream != "log" {
		t.Errorf("Unexpected result: %+v, %v", ack, err)
	}
}

type sqlLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *sqlLog) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestRoutineMissesAreNotErrors(t *testing.T) {
	db := setupTestDB(t)
	log := &sqlLog{}
	// A plain warn-level logger reports every ErrRecordNotFound.
	db = db.Session(&gorm.Session{Logger: logger.New(log, logger.Config{LogLevel: logger.Warn})})

	pub := &recordingPublisher{}
	q := NewQueue(db, pub, zap.NewNop(), nil)
	ctx := context.Background()

	published, err := q.Flush(ctx, "link1")
	if err != nil || published {
		t.Fatalf("Expected an empty flush to do nothing, got %v %v", published, err)
	}
	if err := q.AppendEvent(ctx, testLink(), "viewed"); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if msg, err := q.Pending(ctx, "link1"); err != nil || msg == nil {
		t.Fatalf("Expected a pending message, got %v %v", msg, err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, line := range log.lines {
		if strings.Contains(line, "record not found") {
			t.Errorf("Unexpected not-found log line: %s", line)
		}
	}
}
