// Package template resolves named notification templates and renders
// their title and body with request payload values.
//
// Rendering is a literal single pass: every {{key}} token whose key is
// present in the payload is replaced with the payload value verbatim, and
// tokens without a payload entry stay in the output untouched. Values are
// never re-scanned, so a payload value containing {{...}} cannot expand
// further.
package template
