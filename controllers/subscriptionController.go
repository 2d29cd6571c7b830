package controllers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"newsletter-backend/database"
	"newsletter-backend/email"
	"newsletter-backend/middlewares"
	"newsletter-backend/models"
	"newsletter-backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SubscribeDTO struct {
	Name  string `json:"name" form:"name" validate:"required,max=256"`
	Email string `json:"email" form:"email" validate:"required,email,max=254"`
}

// SubscriptionController handles sign-up and confirmation. Run Subscribe
// behind middlewares.Tx so the subscriber and its token commit together and
// the confirmation email only goes out once they are stored.
type SubscriptionController struct {
	Sender  email.Sender
	BaseURL string
}

func (sc *SubscriptionController) Subscribe(c *fiber.Ctx) error {
	var data SubscribeDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}
	data.Email = strings.ToLower(data.Email)

	db, err := database.GetDB(c)
	if err != nil {
		return err
	}

	var subscriber models.Subscription
	err = db.Where("email = ?", data.Email).Take(&subscriber).Error
	switch {
	case err == nil:
		if subscriber.Status == models.SubscriptionConfirmed {
			return c.JSON(fiber.Map{"message": "you are already subscribed"})
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		subscriber = models.Subscription{
			Email:        data.Email,
			Name:         data.Name,
			SubscribedAt: time.Now().UTC(),
			Status:       models.SubscriptionPendingConfirmation,
		}
		if err := db.Create(&subscriber).Error; err != nil {
			return fmt.Errorf("insert subscriber: %w", err)
		}
	default:
		return fmt.Errorf("look up subscriber: %w", err)
	}

	token, err := utils.NewSubscriptionToken()
	if err != nil {
		return fmt.Errorf("generate subscription token: %w", err)
	}
	if err := db.Create(&models.SubscriptionToken{
		SubscriptionToken: token,
		SubscriberId:      subscriber.Id,
	}).Error; err != nil {
		return fmt.Errorf("store subscription token: %w", err)
	}

	msg := confirmationEmail(sc.BaseURL, subscriber.Email, token)
	if err := middlewares.AfterCommit(c, func() error {
		if err := sc.Sender.Send(c.UserContext(), msg); err != nil {
			return fmt.Errorf("send confirmation email: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "please check your inbox to confirm your subscription"})
}

func (sc *SubscriptionController) Confirm(c *fiber.Ctx) error {
	token := c.Query("subscription_token")
	if !utils.IsSubscriptionToken(token) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid subscription token")
	}

	db, err := database.GetDB(c)
	if err != nil {
		return err
	}

	var row models.SubscriptionToken
	if err := db.Where("subscription_token = ?", token).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "unknown subscription token")
		}
		return fmt.Errorf("look up subscription token: %w", err)
	}

	if err := db.Model(&models.Subscription{}).
		Where("id = ?", row.SubscriberId).
		Update("status", models.SubscriptionConfirmed).Error; err != nil {
		return fmt.Errorf("confirm subscriber: %w", err)
	}

	return c.JSON(fiber.Map{"message": "your subscription is confirmed"})
}

func confirmationEmail(baseURL, to, token string) email.Message {
	link := strings.TrimRight(baseURL, "/") + "/subscriptions/confirm?subscription_token=" + url.QueryEscape(token)
	return email.Message{
		To:      to,
		Subject: "Welcome!",
		HTML:    fmt.Sprintf(`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`, link),
		Text:    fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	}
}
