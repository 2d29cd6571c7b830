package delivery

import (
	"context"
	"fmt"
	"time"

	"newsletter-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxErrorLength = 512

// Claim is a task locked by the current worker. Exactly one of Ack, Retry or
// DeadLetter commits it; Release rolls back and is a no-op afterwards.
type Claim interface {
	Task() models.DeliveryTask
	Issue() models.NewsletterIssue
	Ack(ctx context.Context) error
	Retry(ctx context.Context, executeAfter time.Time) error
	DeadLetter(ctx context.Context, reason string) error
	Release() error
}

// Queue hands out claims on due tasks. Dequeue returns a nil Claim when
// nothing is due.
type Queue interface {
	Dequeue(ctx context.Context) (Claim, error)
}

// PostgresQueue claims rows from issue_delivery_queue.
type PostgresQueue struct {
	db *gorm.DB
}

func NewPostgresQueue(db *gorm.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (Claim, error) {
	tx := q.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin delivery transaction: %w", tx.Error)
	}

	var tasks []models.DeliveryTask
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("execute_after <= now()").
		Order("execute_after").
		Limit(1).
		Find(&tasks).Error
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claim delivery task: %w", err)
	}
	if len(tasks) == 0 {
		tx.Rollback()
		return nil, nil
	}

	var issue models.NewsletterIssue
	if err := tx.Where("newsletter_issue_id = ?", tasks[0].NewsletterIssueId).Take(&issue).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("load newsletter issue %s: %w", tasks[0].NewsletterIssueId, err)
	}

	return &postgresClaim{tx: tx, task: tasks[0], issue: issue}, nil
}

type postgresClaim struct {
	tx    *gorm.DB
	task  models.DeliveryTask
	issue models.NewsletterIssue
	done  bool
}

func (c *postgresClaim) Task() models.DeliveryTask     { return c.task }
func (c *postgresClaim) Issue() models.NewsletterIssue { return c.issue }

func (c *postgresClaim) Ack(ctx context.Context) error {
	return c.finish(ctx, func(tx *gorm.DB) error {
		return c.deleteTask(tx)
	})
}

func (c *postgresClaim) Retry(ctx context.Context, executeAfter time.Time) error {
	return c.finish(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.DeliveryTask{}).
			Where("newsletter_issue_id = ? AND subscriber_email = ?", c.task.NewsletterIssueId, c.task.SubscriberEmail).
			Updates(map[string]any{
				"n_retries":     gorm.Expr("n_retries + 1"),
				"execute_after": executeAfter,
			}).Error
	})
}

func (c *postgresClaim) DeadLetter(ctx context.Context, reason string) error {
	return c.finish(ctx, func(tx *gorm.DB) error {
		if len(reason) > maxErrorLength {
			reason = reason[:maxErrorLength]
		}
		failure := models.DeliveryFailure{
			NewsletterIssueId: c.task.NewsletterIssueId,
			SubscriberEmail:   c.task.SubscriberEmail,
			NRetries:          c.task.NRetries,
			LastError:         reason,
			FailedAt:          time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&failure).Error; err != nil {
			return err
		}
		return c.deleteTask(tx)
	})
}

func (c *postgresClaim) Release() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.tx.Rollback().Error
}

func (c *postgresClaim) deleteTask(tx *gorm.DB) error {
	return tx.Where("newsletter_issue_id = ? AND subscriber_email = ?", c.task.NewsletterIssueId, c.task.SubscriberEmail).
		Delete(&models.DeliveryTask{}).Error
}

func (c *postgresClaim) finish(ctx context.Context, apply func(tx *gorm.DB) error) error {
	if c.done {
		return fmt.Errorf("delivery task %s/%s already finished", c.task.NewsletterIssueId, c.task.SubscriberEmail)
	}
	if err := apply(c.tx.WithContext(ctx)); err != nil {
		c.done = true
		c.tx.Rollback()
		return err
	}
	c.done = true
	return c.tx.Commit().Error
}
