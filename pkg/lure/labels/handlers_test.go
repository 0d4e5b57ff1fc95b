package labels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/models"
)

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db)

	api := r.Group("/api")
	handler.RegisterRoutes(api)

	return r
}

func TestGetContentLabels(t *testing.T) {
	db := setupTestDB(t)
	createTestContent(t, db, "c1")
	store := NewStore(db, zap.NewNop())
	store.Add(context.Background(), "c1", []string{"phishing", "malware"}, models.LabelInteraction)

	router := setupTestRouter(db)
	req := httptest.NewRequest("GET", "/api/content/c1/labels", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var labels []LabelResponse
	json.Unmarshal(w.Body.Bytes(), &labels)
	if len(labels) != 2 {
		t.Fatalf("Expected 2 labels, got %d", len(labels))
	}
	if labels[0].Type != string(models.LabelInteraction) {
		t.Errorf("Expected type %s, got %s", models.LabelInteraction, labels[0].Type)
	}
}

func TestGetContentLabelsNotFound(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	req := httptest.NewRequest("GET", "/api/content/missing/labels", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListLabels(t *testing.T) {
	db := setupTestDB(t)
	createTestContent(t, db, "c1")
	createTestContent(t, db, "c2")
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()
	store.Add(ctx, "c1", []string{"phishing", "malware"}, models.LabelInteraction)
	store.Add(ctx, "c2", []string{"phishing"}, models.LabelInteraction)
	store.Add(ctx, "c2", []string{"language:urgency"}, models.LabelPhishingCue)

	router := setupTestRouter(db)
	req := httptest.NewRequest("GET", "/api/labels", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var labels []LabelResponse
	json.Unmarshal(w.Body.Bytes(), &labels)
	if len(labels) != 3 {
		t.Fatalf("Expected 3 labels, got %d", len(labels))
	}
	if labels[0].Name != "phishing" || labels[0].ContentCount != 2 {
		t.Errorf("Expected phishing first with 2 items, got %+v", labels[0])
	}

	// Filter by type
	req = httptest.NewRequest("GET", "/api/labels?type=phishing-cue", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	json.Unmarshal(w.Body.Bytes(), &labels)
	if len(labels) != 1 || labels[0].Name != "language:urgency" {
		t.Errorf("Expected only the cue, got %+v", labels)
	}
}
