// Package dispatch fans one notification out to its resolved channels.
//
// Each channel has an Adapter; delivery runs under a shared rate limiter
// and a per-channel timeout. Every channel is attempted even when an
// earlier one fails, and a channel with no registered adapter produces a
// synthetic failed result rather than an error, so one bad channel name
// cannot take the whole notification down.
package dispatch
