package database

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/giftwise/internal/models"
	"gorm.io/gorm"
)

const seedEmail = "dev@giftwise.local"

// SeedDevData populates the database with development data.
// Idempotent: skips if the dev user already exists.
func SeedDevData(db *gorm.DB, logger *slog.Logger) error {
	var existing models.User
	err := db.Where("email = ?", seedEmail).First(&existing).Error
	if err == nil {
		logger.Info("Seed data already exists, skipping")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up seed user: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		user := models.User{
			Email:    seedEmail,
			Name:     "Dev User",
			Timezone: "America/Chicago",
		}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create seed user: %w", err)
		}

		quietStart, quietEnd := "22:00", "07:00"
		settings := models.NotificationSettings{
			UserID:          user.ID,
			LeadTimeDays:    7,
			SendTime:        "09:00",
			QuietHoursStart: &quietStart,
			QuietHoursEnd:   &quietEnd,
		}
		settings.SetChannels([]models.Channel{models.ChannelMail})
		if err := tx.Create(&settings).Error; err != nil {
			return fmt.Errorf("failed to create seed settings: %w", err)
		}

		today := time.Now().UTC()
		budget := int64(5000)
		people := []struct {
			name      string
			occasions []models.Occasion
		}{
			{
				name: "Alice",
				occasions: []models.Occasion{{
					Name:          "Birthday",
					Date:          time.Date(1990, today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 3),
					IsRecurring:   true,
					BudgetCents:   &budget,
					ShowMilestone: true,
				}},
			},
			{
				name: "James",
				occasions: []models.Occasion{
					{Name: "Anniversary", Date: time.Date(2015, time.June, 14, 0, 0, 0, 0, time.UTC), IsRecurring: true, ShowMilestone: true},
					{Name: "Housewarming", Date: today.AddDate(0, 0, 10).Truncate(24 * time.Hour), IsRecurring: false},
				},
			},
		}

		for _, p := range people {
			person := models.Person{UserID: user.ID, Name: p.name}
			if err := tx.Create(&person).Error; err != nil {
				return fmt.Errorf("failed to create seed person: %w", err)
			}
			for _, occ := range p.occasions {
				occ.PersonID = person.ID
				if err := tx.Omit("Person").Create(&occ).Error; err != nil {
					return fmt.Errorf("failed to create seed occasion: %w", err)
				}
			}
		}

		logger.Info("Seed data created", "user_id", user.ID, "email", seedEmail)
		return nil
	})
}
