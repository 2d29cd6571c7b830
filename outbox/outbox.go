// Package outbox writes delivery work in the same transaction as the issue that needs it.
package outbox

import (
	"errors"
	"fmt"

	"newsletter-backend/metrics"
	"newsletter-backend/models"

	"gorm.io/gorm"
)

var ErrIssueIDRequired = errors.New("newsletter issue id is required")

// EnqueueDeliveryTasks inserts one issue_delivery_queue row per currently
// confirmed subscriber for issueID and returns how many rows were written.
// tx must be the transaction that created the issue; subscribers confirmed
// after it commits are not included.
func EnqueueDeliveryTasks(tx *gorm.DB, issueID string) (int64, error) {
	if issueID == "" {
		return 0, ErrIssueIDRequired
	}

	res := tx.Exec(`
		INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email, n_retries, execute_after)
		SELECT ?, email, 0, now()
		FROM subscriptions
		WHERE status = ?`,
		issueID, models.SubscriptionConfirmed)
	if res.Error != nil {
		return 0, fmt.Errorf("enqueue delivery tasks for issue %s: %w", issueID, res.Error)
	}

	metrics.OutboxEnqueued.Add(float64(res.RowsAffected))
	return res.RowsAffected, nil
}
