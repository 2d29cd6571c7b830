package database

import (
	"errors"
	"fmt"
	"strings"

	"newsletter-backend/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns)
// - Foreign key: issue_delivery_queue.newsletter_issue_id -> newsletter_issues
// - CHECK constraint on subscription status
// - Indexes used by the sweeper and the delivery worker
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.User{},
			&models.Subscription{},
			&models.SubscriptionToken{},
			&models.NewsletterIssue{},
			&models.DeliveryTask{},
			&models.DeliveryFailure{},
			&models.IdempotencyRecord{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		fk := `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1
		FROM pg_constraint
		WHERE conrelid = 'issue_delivery_queue'::regclass
		  AND conname  = 'fk_issue_delivery_queue_issue'
	) THEN
		ALTER TABLE issue_delivery_queue
		ADD CONSTRAINT fk_issue_delivery_queue_issue
		FOREIGN KEY (newsletter_issue_id)
		REFERENCES newsletter_issues(newsletter_issue_id)
		ON UPDATE RESTRICT
		ON DELETE RESTRICT;
	END IF;
END $$;`
		if err := tx.Exec(fk).Error; err != nil {
			return fmt.Errorf("foreign key migration failed: %w", err)
		}

		check := `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'subscriptions'::regclass
		  AND conname  = 'chk_subscriptions_status'
	) THEN
		ALTER TABLE subscriptions
		ADD CONSTRAINT chk_subscriptions_status
		CHECK (status IN ('pending_confirmation', 'confirmed'));
	END IF;
END $$;`
		if err := tx.Exec(check).Error; err != nil {
			return fmt.Errorf("check constraint migration failed: %w", err)
		}

		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions (status)`,
			`CREATE INDEX IF NOT EXISTS idx_issue_delivery_queue_execute_after ON issue_delivery_queue (execute_after)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		return nil
	})
}

// SeedAdmin creates the initial administrator when no user with email exists yet.
func SeedAdmin(db *gorm.DB, email, password string) (created bool, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, nil
	}

	var existing models.User
	err = db.Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("look up admin user: %w", err)
	}

	user := models.User{Email: email}
	if err := user.SetPassword(password); err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.Create(&user).Error; err != nil {
		return false, fmt.Errorf("create admin user: %w", err)
	}
	return true, nil
}
