package middlewares

import (
	"newsletter-backend/database"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const LocalAfterCommit = "afterCommit"

type afterCommitHooks struct {
	fns []func() error
}

// Tx opens a per-request DB transaction stored in c.Locals("tx") and read back
// through database.GetDB. It commits when the handler chain returns nil and rolls
// back on error or panic. Requests that already carry a transaction (for example
// one owned by Idempotent) run inside it unchanged.
//
// Hooks registered with AfterCommit run in order once the commit succeeded; the
// first failing hook turns the response into a 500.
func Tx(db *gorm.DB, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) (err error) {
		if c.Locals(database.LocalTx) != nil {
			return c.Next()
		}

		base := db
		if base == nil {
			base = database.DB
		}
		tx := base.WithContext(c.UserContext()).Begin()
		if tx.Error != nil {
			log.Error("failed to begin transaction", zap.Error(tx.Error))
			return fiber.NewError(fiber.StatusInternalServerError, "failed to begin transaction")
		}

		hooks := &afterCommitHooks{}
		defer func() {
			c.Locals(database.LocalTx, nil)
			c.Locals(LocalAfterCommit, nil)
			if r := recover(); r != nil {
				_ = tx.Rollback()
				panic(r) // re-panic after rollback so Fiber's recover middleware can catch
			}
			if err != nil {
				_ = tx.Rollback()
				return
			}
			if e := tx.Commit().Error; e != nil {
				log.Error("tx commit failed", zap.Error(e))
				err = fiber.NewError(fiber.StatusInternalServerError, "transaction commit failed")
				return
			}
			for _, fn := range hooks.fns {
				if e := fn(); e != nil {
					log.Error("after-commit hook failed", zap.Error(e))
					err = fiber.NewError(fiber.StatusInternalServerError, "post-commit step failed")
					return
				}
			}
		}()

		c.Locals(database.LocalTx, tx)
		c.Locals(LocalAfterCommit, hooks)

		err = c.Next()
		return err
	}
}

// AfterCommit defers fn until the request transaction opened by Tx commits.
// Without such a transaction fn runs immediately and its error is returned.
func AfterCommit(c *fiber.Ctx, fn func() error) error {
	if hooks, ok := c.Locals(LocalAfterCommit).(*afterCommitHooks); ok && hooks != nil {
		hooks.fns = append(hooks.fns, fn)
		return nil
	}
	return fn()
}
