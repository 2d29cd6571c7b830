package middlewares

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"newsletter-backend/database"
	"newsletter-backend/idempotency"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	// IdempotencyFormField is read first; the header is the fallback for JSON clients.
	IdempotencyFormField = "idempotency_key"
	IdempotencyHeader    = "Idempotency-Key"

	LocalIdempotencyKey = "idempotencyKey"
)

// Admitter is the part of idempotency.Store the middleware needs.
type Admitter interface {
	TryProcessing(ctx context.Context, accountID string, key idempotency.Key) (idempotency.NextAction, error)
	SaveResponse(ctx context.Context, tx *idempotency.Transaction, resp idempotency.SavedResponse) (idempotency.SavedResponse, error)
}

// Idempotent runs the rest of the chain at most once per (account, key).
//
// The first writer gets the key's transaction in c.Locals("tx"); whatever the
// handler writes commits together with the captured response. Later requests
// with the same key get that response back byte for byte without the handler
// running. A handler error rolls everything back, so the key can be retried.
// Run it after IsAuthenticatedHeader.
func Idempotent(store Admitter, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		accountID := UserID(c)
		if accountID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "auth context missing")
		}

		key, err := idempotency.ParseKey(rawIdempotencyKey(c))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		c.Locals(LocalIdempotencyKey, key)

		action, err := store.TryProcessing(c.UserContext(), accountID, key)
		if err != nil {
			return fmt.Errorf("idempotency admission: %w", err)
		}

		switch next := action.(type) {
		case idempotency.ReturnSavedResponse:
			log.Debug("replaying saved response",
				zap.String("account_id", accountID),
				zap.String("idempotency_key", key.String()))
			return WriteSavedResponse(c, next.Response)

		case idempotency.StartProcessing:
			return runFirstWriter(c, store, next.Tx)

		default:
			return fmt.Errorf("idempotency admission: unexpected action %T", action)
		}
	}
}

func runFirstWriter(c *fiber.Ctx, store Admitter, tx *idempotency.Transaction) (err error) {
	defer func() {
		c.Locals(database.LocalTx, nil)
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	c.Locals(database.LocalTx, tx.DB())
	if err := c.Next(); err != nil {
		return err
	}

	saved, err := store.SaveResponse(c.UserContext(), tx, CaptureResponse(c))
	if err != nil {
		return fmt.Errorf("save idempotent response: %w", err)
	}
	return WriteSavedResponse(c, saved)
}

func rawIdempotencyKey(c *fiber.Ctx) string {
	if v := c.FormValue(IdempotencyFormField); v != "" {
		return v
	}
	return c.Get(IdempotencyHeader)
}

// IdempotencyKeyFromCtx returns the key parsed by Idempotent.
func IdempotencyKeyFromCtx(c *fiber.Ctx) (idempotency.Key, error) {
	key, ok := c.Locals(LocalIdempotencyKey).(idempotency.Key)
	if !ok || key == "" {
		return "", errors.New("no idempotency key on request")
	}
	return key, nil
}

// CaptureResponse copies the response built so far. Content-Length is left out
// because it is recomputed from the body when the response is written.
func CaptureResponse(c *fiber.Ctx) idempotency.SavedResponse {
	resp := c.Response()
	var headers []idempotency.HeaderPair
	resp.Header.VisitAll(func(k, v []byte) {
		if bytes.EqualFold(k, []byte(fiber.HeaderContentLength)) {
			return
		}
		headers = append(headers, idempotency.HeaderPair{
			Name:  string(k),
			Value: append([]byte(nil), v...),
		})
	})
	return idempotency.SavedResponse{
		StatusCode: resp.StatusCode(),
		Headers:    headers,
		Body:       append([]byte{}, resp.Body()...),
	}
}

// WriteSavedResponse replaces the current response with saved.
func WriteSavedResponse(c *fiber.Ctx, saved idempotency.SavedResponse) error {
	resp := c.Response()
	resp.Header.Reset()
	for _, h := range saved.Headers {
		resp.Header.AddBytesV(h.Name, h.Value)
	}
	resp.SetStatusCode(saved.StatusCode)
	resp.SetBody(saved.Body)
	return nil
}
