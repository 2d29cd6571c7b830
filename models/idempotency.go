package models

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyRecord stores the first response produced for (account, key).
// A row with a NULL status code is still pending: its writer has not committed yet.
type IdempotencyRecord struct {
	AccountId          string         `json:"account_id" gorm:"primaryKey;size:128"`
	IdempotencyKey     string         `json:"idempotency_key" gorm:"primaryKey;size:200"`
	CreatedAt          time.Time      `json:"created_at" gorm:"not null;index"`
	ResponseStatusCode *int16         `json:"response_status_code"`
	ResponseHeaders    datatypes.JSON `json:"-" gorm:"type:jsonb"` // ordered [{name, value}] pairs
	ResponseBody       []byte         `json:"-" gorm:"type:bytea"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency"
}
