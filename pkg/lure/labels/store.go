package labels

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/database"
	"github.com/mikepea/lure/pkg/lure/models"
)

// Store persists content labels. Adding a label that already exists is a no-op.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a label store
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Normalize lowercases and trims names, dropping empties and repeats.
func Normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Add attaches names to a content item with the given type, then refreshes the
// item's comma-separated summary. Duplicate (content, name, type) rows are
// skipped. A failure to refresh the summary is logged, not returned.
func (s *Store) Add(ctx context.Context, contentID string, names []string, typ models.LabelType) error {
	names = Normalize(names)
	if len(names) == 0 {
		return nil
	}

	rows := make([]models.ContentLabel, len(names))
	for i, n := range names {
		rows[i] = models.ContentLabel{ContentID: contentID, Name: n, Type: typ, Confidence: 1}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_id"}, {Name: "tag_name"}, {Name: "tag_type"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	if err != nil && !database.IsDuplicateKey(err) {
		return apperr.Persistence(err, "failed to store labels")
	}

	if err := s.refreshSummary(ctx, contentID); err != nil {
		s.logger.Warn("could not update content label summary",
			zap.String("content_id", contentID),
			zap.Error(err))
	}
	return nil
}

// refreshSummary rewrites content.tags from the label rows so the two never
// disagree.
func (s *Store) refreshSummary(ctx context.Context, contentID string) error {
	names, err := s.Names(ctx, contentID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.Content{}).
		Where("id = ?", contentID).
		Update("tags", strings.Join(names, ", ")).Error
}

// Names returns the distinct label names of a content item in the order they
// were first stored.
func (s *Store) Names(ctx context.Context, contentID string) ([]string, error) {
	var rows []models.ContentLabel
	err := s.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load labels")
	}

	seen := make(map[string]bool, len(rows))
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		names = append(names, r.Name)
	}
	return names, nil
}
