package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NewsletterIssue struct {
	NewsletterIssueId string    `json:"newsletter_issue_id" gorm:"primaryKey;size:128"`
	Title             string    `json:"title" gorm:"not null"`
	TextContent       string    `json:"text_content" gorm:"not null"`
	HtmlContent       string    `json:"html_content" gorm:"not null"`
	PublishedAt       time.Time `json:"published_at" gorm:"not null"`
}

func (issue *NewsletterIssue) BeforeCreate(tx *gorm.DB) (err error) {
	if issue.NewsletterIssueId == "" {
		issue.NewsletterIssueId = uuid.NewString()
	}
	return
}

// DeliveryTask is one pending email of an issue to one subscriber.
// Rows are written by the publish transaction and removed by the delivery worker.
type DeliveryTask struct {
	NewsletterIssueId string    `json:"newsletter_issue_id" gorm:"primaryKey;size:128"`
	SubscriberEmail   string    `json:"subscriber_email" gorm:"primaryKey"`
	NRetries          int       `json:"n_retries" gorm:"column:n_retries;not null;default:0"`
	ExecuteAfter      time.Time `json:"execute_after" gorm:"not null;default:now();index"`
}

func (DeliveryTask) TableName() string {
	return "issue_delivery_queue"
}

// DeliveryFailure keeps recipients whose delivery gave up, so they are never silently dropped.
type DeliveryFailure struct {
	NewsletterIssueId string    `json:"newsletter_issue_id" gorm:"primaryKey;size:128"`
	SubscriberEmail   string    `json:"subscriber_email" gorm:"primaryKey"`
	NRetries          int       `json:"n_retries" gorm:"column:n_retries;not null"`
	LastError         string    `json:"last_error" gorm:"size:512"`
	FailedAt          time.Time `json:"failed_at" gorm:"not null"`
}

func (DeliveryFailure) TableName() string {
	return "issue_delivery_failures"
}
