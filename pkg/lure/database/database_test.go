package database

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *recordingWriter) Printf(format string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func (w *recordingWriter) output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}

type widget struct {
	ID   uint   `gorm:"primarykey"`
	Name string `gorm:"uniqueIndex"`
}

func TestLoggerSkipsRecordNotFound(t *testing.T) {
	w := &recordingWriter{}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true, Logger: NewLogger(w)})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	var got widget
	err = db.Where("name = ?", "missing").First(&got).Error
	if !IsNotFound(err) {
		t.Fatalf("Expected record not found, got %v", err)
	}
	if out := w.output(); out != "" {
		t.Errorf("Expected no log output for a miss, got %q", out)
	}

	if err := db.Exec("SELECT * FROM no_such_table").Error; err == nil {
		t.Fatal("Expected an error for a missing table")
	}
	if !strings.Contains(w.output(), "no_such_table") {
		t.Errorf("Expected real errors to be logged, got %q", w.output())
	}
}

func TestIsDuplicateKey(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), Config())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	db.AutoMigrate(&widget{})

	if err := db.Create(&widget{Name: "a"}).Error; err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.Create(&widget{Name: "a"}).Error; !IsDuplicateKey(err) {
		t.Errorf("Expected duplicate key, got %v", err)
	}
}
