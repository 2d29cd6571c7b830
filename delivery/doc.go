// Package delivery drains issue_delivery_queue.
//
// A Worker claims one due task at a time inside its own transaction
// (SELECT ... FOR UPDATE SKIP LOCKED), so concurrent workers never process the
// same row. A sent email deletes the task; a failed send reschedules it with
// exponential backoff, and after the last allowed attempt the recipient is moved
// to issue_delivery_failures instead of being dropped.
package delivery
