// Package idempotency makes a mutating request safe to retry.
//
// A request carrying an idempotency key is admitted through Store.TryProcessing.
// The first caller for an (account, key) pair wins an INSERT ... ON CONFLICT DO NOTHING
// and receives a StartProcessing holding an open database transaction; it performs its
// business writes on Transaction.DB and finishes with Store.SaveResponse, which stores
// the response and commits everything at once. Every later caller receives a
// ReturnSavedResponse carrying the byte-identical response.
//
// The table's primary key is the only mutual-exclusion primitive: concurrent inserts
// for the same pair block on the winner's uncommitted row and then observe either its
// committed response or, if it rolled back, win the insert themselves.
//
// Records are deleted by a Sweeper once older than a TTL, pending or not, so a row
// orphaned by a crash never blocks a key forever.
package idempotency
