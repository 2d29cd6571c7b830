package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsletter-backend/metrics"
	"newsletter-backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrResponseNotSaved means the key is admitted but has no committed response.
	// Seeing it on replay is an invariant violation, not a retryable condition.
	ErrResponseNotSaved  = errors.New("expected a saved response, found none")
	ErrTransactionClosed = errors.New("idempotency transaction already committed or rolled back")
)

// NextAction is the admission outcome: StartProcessing or ReturnSavedResponse.
type NextAction interface {
	nextAction()
}

// StartProcessing hands the caller exclusive ownership of the key.
// Tx must end with Store.SaveResponse or Transaction.Rollback.
type StartProcessing struct {
	Tx *Transaction
}

// ReturnSavedResponse carries the response recorded by the first writer.
type ReturnSavedResponse struct {
	Response SavedResponse
}

func (StartProcessing) nextAction()     {}
func (ReturnSavedResponse) nextAction() {}

// Transaction is the open database transaction of a first writer.
// It belongs to one request and is not safe for concurrent use.
type Transaction struct {
	db        *gorm.DB
	accountID string
	key       Key
	done      bool
}

// DB returns the transaction so business writes commit together with the response.
func (t *Transaction) DB() *gorm.DB {
	return t.db
}

func (t *Transaction) AccountID() string { return t.accountID }
func (t *Transaction) Key() Key          { return t.key }

// Rollback abandons the transaction. It is a no-op once the transaction has
// been committed or rolled back, so callers can defer it unconditionally.
func (t *Transaction) Rollback() error {
	if t == nil || t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}

func (t *Transaction) commit() error {
	if t.done {
		return ErrTransactionClosed
	}
	t.done = true
	return t.db.Commit().Error
}

// Store persists idempotency records in the "idempotency" table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// TryProcessing admits (accountID, key). The caller either owns a fresh
// transaction or gets the saved response of an earlier request.
func (s *Store) TryProcessing(ctx context.Context, accountID string, key Key) (NextAction, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	if key == "" {
		return nil, ErrInvalidKey
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin idempotency transaction: %w", tx.Error)
	}

	res := tx.Exec(`
		INSERT INTO idempotency (account_id, idempotency_key, created_at)
		VALUES (?, ?, now())
		ON CONFLICT DO NOTHING`,
		accountID, key.String())
	if res.Error != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("insert idempotency record: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		metrics.IdempotencyAdmissions.WithLabelValues(metrics.OutcomeFirstWriter).Inc()
		return StartProcessing{Tx: &Transaction{db: tx, accountID: accountID, key: key}}, nil
	}

	// Nothing was written; release the connection before reading on the pool.
	_ = tx.Rollback()

	saved, err := s.GetSavedResponse(ctx, accountID, key)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, fmt.Errorf("%w (account %s, key %q)", ErrResponseNotSaved, accountID, key)
	}
	metrics.IdempotencyAdmissions.WithLabelValues(metrics.OutcomeReplay).Inc()
	return ReturnSavedResponse{Response: *saved}, nil
}

// SaveResponse records resp on the pending row owned by tx and commits tx.
// The returned response is rebuilt from the stored parts, so it matches what
// any later replay returns. On failure tx is rolled back.
func (s *Store) SaveResponse(ctx context.Context, tx *Transaction, resp SavedResponse) (SavedResponse, error) {
	if tx == nil || tx.done {
		return SavedResponse{}, ErrTransactionClosed
	}

	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		_ = tx.Rollback()
		return SavedResponse{}, fmt.Errorf("encode response headers: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	res := tx.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("account_id = ? AND idempotency_key = ?", tx.accountID, tx.key.String()).
		Updates(map[string]any{
			"response_status_code": int16(resp.StatusCode),
			"response_headers":     datatypes.JSON(headers),
			"response_body":        body,
		})
	if res.Error != nil {
		_ = tx.Rollback()
		return SavedResponse{}, fmt.Errorf("save idempotent response: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		_ = tx.Rollback()
		return SavedResponse{}, fmt.Errorf("save idempotent response: expected 1 pending row, updated %d", res.RowsAffected)
	}

	if err := tx.commit(); err != nil {
		return SavedResponse{}, fmt.Errorf("commit idempotent response: %w", err)
	}

	decoded, err := decodeHeaders(headers)
	if err != nil {
		return SavedResponse{}, err
	}
	return SavedResponse{StatusCode: resp.StatusCode, Headers: decoded, Body: append([]byte{}, body...)}, nil
}

// GetSavedResponse returns the committed response for (accountID, key), or nil
// when there is no row or the row is still pending.
func (s *Store) GetSavedResponse(ctx context.Context, accountID string, key Key) (*SavedResponse, error) {
	var rec models.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ? AND response_status_code IS NOT NULL", accountID, key.String()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read saved response: %w", err)
	}

	headers, err := decodeHeaders([]byte(rec.ResponseHeaders))
	if err != nil {
		return nil, err
	}
	return &SavedResponse{
		StatusCode: int(*rec.ResponseStatusCode),
		Headers:    headers,
		Body:       rec.ResponseBody,
	}, nil
}

// DeleteExpired removes every record older than ttl, measured with the
// database clock, whether pending or completed.
func (s *Store) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("EXTRACT(EPOCH FROM (now() - created_at)) > ?", ttl.Seconds()).
		Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
