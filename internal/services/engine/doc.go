// Package engine ties the pipeline together: preferences, templates,
// rate limits, delivery policy, the durable queue and analytics.
//
// Send runs the gates in a fixed order. Category opt-outs are checked
// first, then the rate windows, then the policy engine picks timing and
// channels. A blocked send is not an error: the result says skipped and
// why, and nothing is queued or counted against the user's windows.
package engine
