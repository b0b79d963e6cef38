package models

import (
	"time"

	"gorm.io/gorm"
)

// Person is someone the user buys gifts for
type Person struct {
	gorm.Model
	UserID    uint       `gorm:"not null;index"`
	Name      string     `gorm:"not null"`
	Occasions []Occasion `gorm:"constraint:OnDelete:CASCADE;"`
}

// Occasion is a dated, possibly annually recurring event tied to a person.
// The next occurrence and milestone are derived on read and never stored.
type Occasion struct {
	gorm.Model
	PersonID      uint      `gorm:"not null;index"`
	Person        Person    `gorm:"constraint:OnDelete:CASCADE;"`
	Name          string    `gorm:"not null"`
	Date          time.Time `gorm:"type:date;not null"`
	IsRecurring   bool      `gorm:"not null;default:true"`
	BudgetCents   *int64
	ShowMilestone bool `gorm:"not null;default:false"`
}

// OccasionCompletion marks an occasion as handled for one occurrence year
type OccasionCompletion struct {
	ID          uint      `gorm:"primaryKey"`
	OccasionID  uint      `gorm:"not null;uniqueIndex:idx_occasion_completions_year"`
	Year        int       `gorm:"not null;uniqueIndex:idx_occasion_completions_year"`
	CompletedAt time.Time `gorm:"not null"`
}
