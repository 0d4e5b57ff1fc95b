package models

import "gorm.io/gorm"

// AllModels returns all models for migration
// Note: Content and Recipient must be migrated first as other models reference them
func AllModels() []interface{} {
	return []interface{}{
		&Content{},
		&Recipient{},
		&ContentLabel{},
		&TrackingLink{},
		&Interaction{},
		&RecipientLabelScore{},
		&OutboundMessage{},
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
