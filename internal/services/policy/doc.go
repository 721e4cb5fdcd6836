// Package policy decides when and over which channels a notification
// goes out, given the user's preferences and behavior profile.
//
// The decision order is fixed: urgent priorities are always immediate,
// quiet hours defer to the end of the window, behavior-derived optimal
// hours may pull delivery to later today, and everything else is
// immediate. Channel resolution intersects the template's channel list
// with the user's enabled channels; critical notifications force in-app
// delivery into the set regardless of settings.
package policy
