//go:build integration

package delivery_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"newsletter-backend/database/dbtest"
	"newsletter-backend/delivery"
	"newsletter-backend/email"
	"newsletter-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func seedIssue(t *testing.T, db *gorm.DB, emails ...string) models.NewsletterIssue {
	t.Helper()
	issue := models.NewsletterIssue{Title: "Weekly", TextContent: "text", HtmlContent: "<p>html</p>", PublishedAt: time.Now()}
	require.NoError(t, db.Create(&issue).Error)
	for _, e := range emails {
		require.NoError(t, db.Create(&models.DeliveryTask{
			NewsletterIssueId: issue.NewsletterIssueId,
			SubscriberEmail:   e,
			ExecuteAfter:      time.Now().Add(-time.Second),
		}).Error)
	}
	return issue
}

func remainingTasks(t *testing.T, db *gorm.DB) []models.DeliveryTask {
	t.Helper()
	var tasks []models.DeliveryTask
	require.NoError(t, db.Order("subscriber_email").Find(&tasks).Error)
	return tasks
}

func TestPostgresQueue_ConcurrentClaimsSkipLockedRows(t *testing.T) {
	db := dbtest.Open(t)
	issue := seedIssue(t, db, "a@example.com", "b@example.com")
	queue := delivery.NewPostgresQueue(db)
	ctx := context.Background()

	first, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Task().SubscriberEmail, second.Task().SubscriberEmail)
	assert.Equal(t, issue.Title, first.Issue().Title)

	third, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)

	require.NoError(t, first.Ack(ctx))
	require.NoError(t, first.Release())
	require.NoError(t, second.Release())

	tasks := remainingTasks(t, db)
	require.Len(t, tasks, 1)
	assert.Equal(t, second.Task().SubscriberEmail, tasks[0].SubscriberEmail)
}

func TestPostgresQueue_RetryHidesTaskUntilDue(t *testing.T) {
	db := dbtest.Open(t)
	seedIssue(t, db, "a@example.com")
	queue := delivery.NewPostgresQueue(db)
	ctx := context.Background()

	claim, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.NoError(t, claim.Retry(ctx, time.Now().Add(time.Hour)))
	require.Error(t, claim.Ack(ctx), "a settled claim cannot be settled twice")

	next, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	tasks := remainingTasks(t, db)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].NRetries)
	assert.True(t, tasks[0].ExecuteAfter.After(time.Now().Add(50*time.Minute)))
}

func TestPostgresQueue_DeadLetterMovesTask(t *testing.T) {
	db := dbtest.Open(t)
	issue := seedIssue(t, db, "a@example.com")
	queue := delivery.NewPostgresQueue(db)
	ctx := context.Background()

	claim, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.NoError(t, claim.DeadLetter(ctx, strings.Repeat("x", 600)))

	assert.Empty(t, remainingTasks(t, db))
	var failure models.DeliveryFailure
	require.NoError(t, db.Take(&failure).Error)
	assert.Equal(t, issue.NewsletterIssueId, failure.NewsletterIssueId)
	assert.Equal(t, "a@example.com", failure.SubscriberEmail)
	assert.Len(t, failure.LastError, 512)
}

func TestPostgresQueue_ReleaseKeepsTask(t *testing.T) {
	db := dbtest.Open(t)
	seedIssue(t, db, "a@example.com")
	queue := delivery.NewPostgresQueue(db)
	ctx := context.Background()

	claim, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, claim.Release())

	again, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "a@example.com", again.Task().SubscriberEmail)
	require.NoError(t, again.Release())
}

type recordingSender struct {
	sent []email.Message
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

func TestWorker_DrainsPostgresQueue(t *testing.T) {
	db := dbtest.Open(t)
	seedIssue(t, db, "a@example.com", "b@example.com", "broken-address")
	sender := &recordingSender{}
	worker := delivery.NewWorker(delivery.NewPostgresQueue(db), sender, delivery.DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	for {
		outcome, err := worker.TryExecuteTask(ctx)
		require.NoError(t, err)
		if outcome == delivery.EmptyQueue {
			break
		}
	}

	assert.Empty(t, remainingTasks(t, db))
	require.Len(t, sender.sent, 2)
	var failures []models.DeliveryFailure
	require.NoError(t, db.Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, "broken-address", failures[0].SubscriberEmail)
}
