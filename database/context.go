package database

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LocalTx is the c.Locals key of the request's open transaction.
const LocalTx = "tx"

// GetDB returns the *gorm.DB for a request.
// Prefer an existing per-request TX (middlewares.Tx or middlewares.Idempotent), else fall back to the shared pool.
func GetDB(c *fiber.Ctx) (*gorm.DB, error) {
	if v := c.Locals(LocalTx); v != nil {
		if tx, ok := v.(*gorm.DB); ok && tx != nil {
			return tx, nil
		}
	}
	if DB == nil {
		return nil, errors.New("database not initialized")
	}
	return DB.WithContext(c.UserContext()), nil
}
