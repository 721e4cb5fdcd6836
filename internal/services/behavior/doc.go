// Package behavior derives per-user engagement models from the analytics
// facts: active hours and days, optimal delivery hours, preferred
// channels, churn risk and a value score.
//
// Profiles are recomputed wholesale from the trailing window on every
// run. A user with no facts in the window keeps their previous profile;
// the model never degrades to guesses on an empty input.
package behavior
