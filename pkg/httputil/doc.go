// Package httputil provides HTTP handler utilities for consistent JSON
// error handling, request parsing, validation and middleware.
package httputil
