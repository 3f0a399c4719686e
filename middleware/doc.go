// Package middleware exposes HTTP adapters for authcore: a bearer-token
// guard, double-submit CSRF enforcement, and cookie helpers for the refresh
// and CSRF tokens.
//
// The package translates HTTP semantics into Engine calls and header
// comparisons. It does not parse tokens or touch Redis itself; every
// decision beyond string handling is delegated to the Engine.
package middleware
