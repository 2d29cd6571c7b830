//go:build integration

package idempotency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"newsletter-backend/database/dbtest"
	"newsletter-backend/idempotency"
	"newsletter-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func mustKey(t *testing.T, raw string) idempotency.Key {
	t.Helper()
	key, err := idempotency.ParseKey(raw)
	require.NoError(t, err)
	return key
}

func accepted(body string) idempotency.SavedResponse {
	return idempotency.SavedResponse{
		StatusCode: 202,
		Headers: []idempotency.HeaderPair{
			{Name: "Content-Type", Value: []byte("application/json")},
			{Name: "Set-Cookie", Value: []byte("a=1")},
			{Name: "Set-Cookie", Value: []byte("b=2")},
			{Name: "X-Raw", Value: []byte{0xfe, 0x00, 0x41}},
		},
		Body: []byte(body),
	}
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.IdempotencyRecord{}).Count(&n).Error)
	return n
}

func TestStore_FirstWriterThenReplay(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "publish-1")

	action, err := store.TryProcessing(ctx, "account-a", key)
	require.NoError(t, err)
	start, ok := action.(idempotency.StartProcessing)
	require.True(t, ok, "got %T", action)
	assert.Equal(t, "account-a", start.Tx.AccountID())
	assert.Equal(t, key, start.Tx.Key())

	// Business writes share the transaction.
	issue := models.NewsletterIssue{Title: "t", TextContent: "x", HtmlContent: "<p>x</p>", PublishedAt: time.Now()}
	require.NoError(t, start.Tx.DB().Create(&issue).Error)

	saved, err := store.SaveResponse(ctx, start.Tx, accepted(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, accepted(`{"ok":true}`), saved)
	require.NoError(t, start.Tx.Rollback(), "rollback after commit is a no-op")

	var issues int64
	require.NoError(t, db.Model(&models.NewsletterIssue{}).Count(&issues).Error)
	assert.EqualValues(t, 1, issues)

	action, err = store.TryProcessing(ctx, "account-a", key)
	require.NoError(t, err)
	replay, ok := action.(idempotency.ReturnSavedResponse)
	require.True(t, ok, "got %T", action)
	assert.Equal(t, saved, replay.Response)

	got, err := store.GetSavedResponse(ctx, "account-a", key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved, *got)
}

func TestStore_ConcurrentRequestsShareOneResponse(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)
	key := mustKey(t, "burst")

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firsts    int
		responses []idempotency.SavedResponse
		errs      []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			action, err := store.TryProcessing(ctx, "account-a", key)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			var resp idempotency.SavedResponse
			switch a := action.(type) {
			case idempotency.StartProcessing:
				time.Sleep(200 * time.Millisecond)
				resp, err = store.SaveResponse(ctx, a.Tx, accepted(`{"winner":true}`))
				mu.Lock()
				firsts++
				mu.Unlock()
			case idempotency.ReturnSavedResponse:
				resp = a.Response
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			responses = append(responses, resp)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, firsts)
	require.Len(t, responses, n)
	for _, r := range responses {
		assert.Equal(t, responses[0], r)
	}
	assert.EqualValues(t, 1, countRecords(t, db))
}

func TestStore_KeysAreScopedPerAccount(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)
	ctx := context.Background()

	for _, tc := range []struct {
		account string
		key     string
	}{
		{"account-a", "shared"},
		{"account-b", "shared"},
		{"account-a", "other"},
	} {
		action, err := store.TryProcessing(ctx, tc.account, mustKey(t, tc.key))
		require.NoError(t, err)
		start, ok := action.(idempotency.StartProcessing)
		require.True(t, ok, "%s/%s got %T", tc.account, tc.key, action)
		_, err = store.SaveResponse(ctx, start.Tx, accepted(tc.account+"/"+tc.key))
		require.NoError(t, err)
	}

	a, err := store.GetSavedResponse(ctx, "account-a", mustKey(t, "shared"))
	require.NoError(t, err)
	b, err := store.GetSavedResponse(ctx, "account-b", mustKey(t, "shared"))
	require.NoError(t, err)
	assert.Equal(t, "account-a/shared", string(a.Body))
	assert.Equal(t, "account-b/shared", string(b.Body))
	assert.EqualValues(t, 3, countRecords(t, db))
}

func TestStore_RollbackReleasesTheKey(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "abandoned")

	action, err := store.TryProcessing(ctx, "account-a", key)
	require.NoError(t, err)
	start := action.(idempotency.StartProcessing)
	require.NoError(t, start.Tx.DB().Create(&models.NewsletterIssue{Title: "t", TextContent: "x", HtmlContent: "x", PublishedAt: time.Now()}).Error)
	require.NoError(t, start.Tx.Rollback())
	require.NoError(t, start.Tx.Rollback())

	_, err = store.SaveResponse(ctx, start.Tx, accepted("late"))
	require.ErrorIs(t, err, idempotency.ErrTransactionClosed)

	assert.Zero(t, countRecords(t, db))
	var issues int64
	require.NoError(t, db.Model(&models.NewsletterIssue{}).Count(&issues).Error)
	assert.Zero(t, issues)

	action, err = store.TryProcessing(ctx, "account-a", key)
	require.NoError(t, err)
	again, ok := action.(idempotency.StartProcessing)
	require.True(t, ok, "got %T", action)
	require.NoError(t, again.Tx.Rollback())
}

func TestStore_CommittedPendingRowIsAnError(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "stuck")

	require.NoError(t, db.Exec(
		`INSERT INTO idempotency (account_id, idempotency_key, created_at) VALUES (?, ?, now())`,
		"account-a", key.String()).Error)

	got, err := store.GetSavedResponse(ctx, "account-a", key)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.TryProcessing(ctx, "account-a", key)
	require.ErrorIs(t, err, idempotency.ErrResponseNotSaved)
}

func TestStore_GetSavedResponseAbsent(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)

	got, err := store.GetSavedResponse(context.Background(), "nobody", mustKey(t, "nothing"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DeleteExpired(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)
	ctx := context.Background()

	for _, key := range []string{"old-done", "fresh-done"} {
		action, err := store.TryProcessing(ctx, "account-a", mustKey(t, key))
		require.NoError(t, err)
		_, err = store.SaveResponse(ctx, action.(idempotency.StartProcessing).Tx, accepted(key))
		require.NoError(t, err)
	}
	require.NoError(t, db.Exec(
		`INSERT INTO idempotency (account_id, idempotency_key, created_at) VALUES ('account-a', 'old-pending', now() - interval '2 hours')`).Error)
	require.NoError(t, db.Exec(
		`UPDATE idempotency SET created_at = now() - interval '2 hours' WHERE idempotency_key = 'old-done'`).Error)

	deleted, err := store.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var keys []string
	require.NoError(t, db.Model(&models.IdempotencyRecord{}).Pluck("idempotency_key", &keys).Error)
	assert.Equal(t, []string{"fresh-done"}, keys)

	// An expired key is a brand new request again.
	action, err := store.TryProcessing(ctx, "account-a", mustKey(t, "old-done"))
	require.NoError(t, err)
	start, ok := action.(idempotency.StartProcessing)
	require.True(t, ok, "got %T", action)
	require.NoError(t, start.Tx.Rollback())
}

func TestSweeper_RunDeletesExpiredRecords(t *testing.T) {
	db := dbtest.Open(t)
	store := idempotency.NewStore(db)

	require.NoError(t, db.Exec(
		`INSERT INTO idempotency (account_id, idempotency_key, created_at) VALUES ('account-a', 'old', now() - interval '10 seconds')`).Error)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := idempotency.NewSweeper(store, time.Second, 20*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return countRecords(t, db) == 0 }, 2*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
