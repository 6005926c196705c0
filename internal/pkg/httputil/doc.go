// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers write every JSON body and every error through these helpers so the
// envelope is consistent and 5xx causes stay in the server log.
package httputil
