// Package queue owns the durable notification queue: enqueueing rows,
// processing due work, and the user-facing lifecycle operations (cancel,
// mark read, dismiss, snooze).
//
// Processing follows claim-then-work: a row moves queued -> processing
// through an atomic conditional update before any channel is attempted,
// so two concurrent runs can never double-deliver. A notification ends
// sent only when every channel succeeded; any channel failure makes the
// row failed, and there is no automatic retry.
package queue
