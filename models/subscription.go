package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionPendingConfirmation = "pending_confirmation"
	SubscriptionConfirmed           = "confirmed"
)

type Subscription struct {
	Id           string    `json:"id" gorm:"primaryKey;size:128"`
	Email        string    `json:"email" gorm:"unique;not null"`
	Name         string    `json:"name" gorm:"not null"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
	Status       string    `json:"status" gorm:"size:32;not null"`
}

func (subscription *Subscription) BeforeCreate(tx *gorm.DB) (err error) {
	if subscription.Id == "" {
		subscription.Id = uuid.NewString()
	}
	return
}

// SubscriptionToken links a confirmation link to its pending subscriber.
type SubscriptionToken struct {
	SubscriptionToken string       `json:"-" gorm:"primaryKey;size:25"`
	SubscriberId      string       `json:"subscriber_id" gorm:"size:128;not null;index"`
	Subscriber        Subscription `json:"-" gorm:"foreignKey:SubscriberId;references:Id;constraint:OnDelete:CASCADE"`
}
