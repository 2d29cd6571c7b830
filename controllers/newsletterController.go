package controllers

import (
	"fmt"
	"time"

	"newsletter-backend/database"
	"newsletter-backend/middlewares"
	"newsletter-backend/models"
	"newsletter-backend/outbox"

	"github.com/gofiber/fiber/v2"
)

const publishAcceptedMessage = "The newsletter issue has been accepted - emails will go out shortly."

type PublishNewsletterDTO struct {
	Title          string `json:"title" form:"title" validate:"required,max=512"`
	HtmlContent    string `json:"html" form:"html" validate:"required"`
	TextContent    string `json:"text" form:"text" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" form:"idempotency_key"`
}

type PublishAcceptedResponse struct {
	Message string `json:"message"`
	IssueID string `json:"issue_id"`
}

// PublishNewsletter stores the issue and its delivery tasks in the request
// transaction. Mount it behind middlewares.Idempotent, which owns that
// transaction and records the response.
func PublishNewsletter(c *fiber.Ctx) error {
	var data PublishNewsletterDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}

	db, err := database.GetDB(c)
	if err != nil {
		return err
	}

	issue := models.NewsletterIssue{
		Title:       data.Title,
		TextContent: data.TextContent,
		HtmlContent: data.HtmlContent,
		PublishedAt: time.Now().UTC(),
	}
	if err := db.Create(&issue).Error; err != nil {
		return fmt.Errorf("insert newsletter issue: %w", err)
	}

	if _, err := outbox.EnqueueDeliveryTasks(db, issue.NewsletterIssueId); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(PublishAcceptedResponse{
		Message: publishAcceptedMessage,
		IssueID: issue.NewsletterIssueId,
	})
}
