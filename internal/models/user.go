package models

import (
	"gorm.io/gorm"
)

// User represents an account holder who receives occasion reminders
type User struct {
	gorm.Model
	Email    string `gorm:"uniqueIndex:idx_users_email_not_deleted,where:deleted_at IS NULL;not null"`
	Name     string `gorm:"not null;default:''"`
	Timezone string `gorm:"not null;default:'UTC'"`

	// Associations
	NotificationSettings *NotificationSettings `gorm:"constraint:OnDelete:CASCADE;"`
	People               []Person              `gorm:"constraint:OnDelete:CASCADE;"`
}
